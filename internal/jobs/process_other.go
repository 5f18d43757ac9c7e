//go:build !unix

package jobs

import (
	"errors"
	"syscall"
)

const supported = false

var errUnsupported = errors.New("process groups are not supported on this platform")

func groupAttrs() *syscall.SysProcAttr { return nil }

func signalGroup(int, syscall.Signal) error { return errUnsupported }

func groupAlive(int) bool { return false }

func terminateSignal() syscall.Signal { return syscall.Signal(15) }

func killSignal() syscall.Signal { return syscall.Signal(9) }
