//go:build unix

package jobs

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

const supported = true

func groupAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to every process in the group. A group that no
// longer exists is not an error.
func signalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 1 {
		return fmt.Errorf("refusing to signal process group %d", pgid)
	}
	if pgid == unix.Getpgrp() {
		return fmt.Errorf("refusing to signal own process group %d", pgid)
	}
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", pgid, err)
	}
	return nil
}

// groupAlive reports whether any process is left in the group.
func groupAlive(pgid int) bool {
	if pgid <= 1 {
		return false
	}
	err := unix.Kill(-pgid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func terminateSignal() syscall.Signal { return unix.SIGTERM }

func killSignal() syscall.Signal { return unix.SIGKILL }
