package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"therapybridge/internal/config"
	"therapybridge/internal/progress"
	"therapybridge/internal/seed"
	"therapybridge/internal/store"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	cfg        *config.Config
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("THERAPYBRIDGE_AMQP_URL", "")
	t.Setenv("THERAPYBRIDGE_DATABASE_URL", "")
	t.Setenv("THERAPYBRIDGE_NTFY_TOPIC", "")

	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q

[llm]
api_key = "sk-test-secret"

[logging]
level = "error"
`, filepath.Join(base, "data"), filepath.Join(base, "logs"))
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if !exists {
		t.Fatalf("config file not detected")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cliTestEnv{baseDir: base, configPath: configPath, cfg: cfg}
}

func (e *cliTestEnv) openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(e.cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n--- output ---\n%s", needle, haystack)
	}
}

func TestConfigInitShowAndCheck(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(env.baseDir, "new", "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected config init to refuse an existing file")
	}

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, env.configPath)
	requireContains(t, out, redacted)
	if strings.Contains(out, "sk-test-secret") {
		t.Fatalf("config show leaked the api key:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"config", "check"}, env.configPath)
	if err != nil {
		t.Fatalf("config check: %v\n%s", err, out)
	}
	requireContains(t, out, "Session store")
	requireContains(t, out, "Configuration valid")
}

func TestStatusReadsStore(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.openStore(t)
	if _, _, err := seed.Seed(context.Background(), st, "patient-a", seedNow); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, _, err := runCLI(t, []string{"status", "--patient", "patient-a", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status progress.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if status.Total != seed.Count() || status.AnalysisStatus != progress.StatusPending {
		t.Fatalf("unexpected status %+v", status)
	}

	out, _, err = runCLI(t, []string{"status", "--patient", "patient-a"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Pending")
	requireContains(t, out, fmt.Sprintf("0/%d sessions", seed.Count()))

	if _, _, err := runCLI(t, []string{"status"}, env.configPath); err == nil {
		t.Fatal("expected error without --patient")
	}
}

func TestJobsAndStop(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.openStore(t)

	out, _, err := runCLI(t, []string{"jobs"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, "No jobs")

	ctx := context.Background()
	if err := st.CreateJob(ctx, store.Job{ID: "job-1", PatientID: "patient-a"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := st.FinishJob(ctx, "job-1", store.JobFailed, "boom"); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	out, _, err = runCLI(t, []string{"jobs", "--json", "--state", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs --json: %v", err)
	}
	var list []store.Job
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode jobs: %v\n%s", err, out)
	}
	if len(list) != 1 || list[0].ID != "job-1" || list[0].Error != "boom" {
		t.Fatalf("unexpected jobs %+v", list)
	}

	out, _, err = runCLI(t, []string{"jobs", "--state", "running"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs --state running: %v", err)
	}
	requireContains(t, out, "No jobs")

	if _, _, err := runCLI(t, []string{"jobs", "--state", "bogus"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown state")
	}

	out, _, err = runCLI(t, []string{"stop", "--patient", "patient-a"}, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "No running jobs for patient-a")
}

func TestWorkerSeedStep(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"worker", "step", "seed", "--patient", "patient-a", "--job", "job-1"}, env.configPath)
	if err != nil {
		t.Fatalf("worker step seed: %v", err)
	}
	st := env.openStore(t)
	sessions, err := st.ListSessions(context.Background(), "patient-a")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != seed.Count() {
		t.Fatalf("expected %d seeded sessions, got %d", seed.Count(), len(sessions))
	}

	if _, _, err := runCLI(t, []string{"worker", "step", "seed", "--patient", "patient-a"}, env.configPath); err == nil {
		t.Fatal("expected error without --job")
	}
	if _, _, err := runCLI(t, []string{"worker", "step", "nope", "--patient", "patient-a", "--job", "job-1"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown step")
	}
}

func TestTestNotifyDisabled(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications disabled")
}
