//go:build linux

package jobs_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"therapybridge/internal/store"
)

// statFields returns /proc/<pid>/stat from field 3 (state) onwards.
func statFields(pid int) []string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return nil
	}
	return strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
}

// exited reports whether pid is gone or a zombie awaiting its reaper.
func exited(pid int) bool {
	fields := statFields(pid)
	return len(fields) == 0 || fields[0] == "Z" || fields[0] == "X"
}

func startTicks(t *testing.T, pid int) int64 {
	t.Helper()
	fields := statFields(pid)
	if len(fields) < 20 {
		t.Fatalf("no stat for pid %d", pid)
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		t.Fatalf("parse start ticks: %v", err)
	}
	return ticks
}

func TestStopReachesGrandchildren(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "grandchild.pid")
	launcher, _ := newLauncher(t, "sleep 30 & echo $! > "+pidFile+"; wait", 2*time.Second)
	ctx := context.Background()

	if _, err := launcher.Launch(ctx, "patient-a", nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	var grandchild int
	deadline := time.Now().Add(5 * time.Second)
	for grandchild == 0 && time.Now().Before(deadline) {
		if data, err := os.ReadFile(pidFile); err == nil {
			grandchild, _ = strconv.Atoi(strings.TrimSpace(string(data)))
		}
		if grandchild == 0 {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if grandchild == 0 {
		t.Fatal("grandchild never started")
	}

	if _, err := launcher.Stop(ctx, "patient-a"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	launcher.Wait()

	deadline = time.Now().Add(3 * time.Second)
	for !exited(grandchild) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !exited(grandchild) {
		t.Fatalf("grandchild %d survived the stop", grandchild)
	}
}

func TestLaunchRecordsLeaderStartTicks(t *testing.T) {
	launcher, st := newLauncher(t, "exec sleep 30", 2*time.Second)
	ctx := context.Background()

	ack, err := launcher.Launch(ctx, "patient-a", nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	job, err := st.GetJob(ctx, ack.JobID)
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v", err)
	}
	if want := startTicks(t, ack.PID); job.StartTicks != want {
		t.Fatalf("expected start ticks %d, got %d", want, job.StartTicks)
	}
}

func TestReusedProcessGroupIsNeitherLiveNorSignalled(t *testing.T) {
	launcher, st := newLauncher(t, "exit 0", time.Second)
	ctx := context.Background()

	stranger := exec.Command("sleep", "30")
	stranger.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := stranger.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	reaped := make(chan struct{})
	go func() {
		_ = stranger.Wait()
		close(reaped)
	}()
	t.Cleanup(func() {
		_ = stranger.Process.Kill()
		<-reaped
	})

	pid := stranger.Process.Pid
	ticks := startTicks(t, pid)
	for _, job := range []store.Job{
		{ID: "stale-stop", PatientID: "p1", PID: pid, PGID: pid, StartTicks: ticks - 1},
		{ID: "stale-reconcile", PatientID: "p2", PID: pid, PGID: pid, StartTicks: ticks + 1},
		{ID: "current", PatientID: "p3", PID: pid, PGID: pid, StartTicks: ticks},
	} {
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob %s: %v", job.ID, err)
		}
	}

	result, err := launcher.Stop(ctx, "p1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if result.Stopped != 1 || result.Killed != 0 {
		t.Fatalf("unexpected stop result %+v", result)
	}
	time.Sleep(100 * time.Millisecond)
	select {
	case <-reaped:
		t.Fatal("stop signalled a process group the job no longer owns")
	default:
	}

	orphaned, err := launcher.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if orphaned != 1 {
		t.Fatalf("expected 1 orphaned job, got %d", orphaned)
	}
	job, err := st.GetJob(ctx, "stale-reconcile")
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != store.JobOrphaned {
		t.Fatalf("expected orphaned, got %s", job.State)
	}
	running, err := st.RunningJobs(ctx, "")
	if err != nil {
		t.Fatalf("RunningJobs: %v", err)
	}
	if len(running) != 1 || running[0].ID != "current" {
		t.Fatalf("expected only the matching job to stay running, got %+v", running)
	}
}
