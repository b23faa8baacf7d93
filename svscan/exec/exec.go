// Package exec provides an abstraction around the handful of process
// primitives svscan needs, so that the event loop can be driven by a fake
// system in tests.
//
// Nothing in here ever blocks: children are started with fork+exec, reaped
// with a non-blocking wait4 and never waited on individually. Like the rest of
// svscan, it is Linux only.
package exec

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrNoChild is returned by Reap if the calling process has no children left
// to wait for.
var ErrNoChild = errors.New("no child processes")

// System describes the process primitives used by the scanner.
type System interface {
	// Start forks and executes a new process, returning its PID.
	Start(Cmd) (int, error)
	// Signal sends a signal to the given PID.
	Signal(pid int, sig syscall.Signal) error
	// Reap reaps a single terminated child without blocking. A zero
	// ExitStatus is returned if children exist but none have exited yet.
	Reap() (ExitStatus, error)
	// Pipe creates a close-on-exec pipe.
	Pipe() (r, w int, err error)
	// Close closes a file descriptor returned by Pipe.
	Close(fd int) error
	// Exec replaces the current process image. It only returns on failure.
	Exec(argv []string) error
}

// Cmd describes a process to be started.
type Cmd struct {
	Path string
	Args []string // includes argv[0]
	Dir  string
	// Files is the descriptor table of the child. Files[i] becomes fd i. A
	// nil slice inherits stdin, stdout and stderr.
	Files []int
}

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID    int
	Code   int // -1 if signaled
	Signal syscall.Signal
}

// Signaled returns true if the process was terminated by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Code == -1
}

func exitStatus(pid int, ws unix.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return ExitStatus{PID: pid, Code: -1, Signal: ws.Signal()}
	}
	return ExitStatus{PID: pid, Code: ws.ExitStatus()}
}

// OS is the System implementation backed by the operating system.
type OS struct {
	// Env is the environment given to started and executed processes. If nil,
	// os.Environ() is used.
	Env []string
}

var _ System = OS{}

func (o OS) env() []string {
	if o.Env != nil {
		return o.Env
	}
	return os.Environ()
}

// Start starts the command using fork+exec. Descriptors in cmd.Files are
// duplicated into place in the child, which also clears their close-on-exec
// flag; every other descriptor the scanner owns stays close-on-exec.
func (o OS) Start(cmd Cmd) (int, error) {
	files := []uintptr{0, 1, 2}
	if cmd.Files != nil {
		files = make([]uintptr, len(cmd.Files))
		for i, fd := range cmd.Files {
			files[i] = uintptr(fd)
		}
	}

	pid, err := syscall.ForkExec(cmd.Path, cmd.Args, &syscall.ProcAttr{
		Dir:   cmd.Dir,
		Env:   o.env(),
		Files: files,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to start %s", cmd.Path)
	}

	return pid, nil
}

// Signal sends sig to pid.
func (o OS) Signal(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

// Reap calls wait4 with WNOHANG on any child.
func (o OS) Reap() (ExitStatus, error) {
	var ws unix.WaitStatus

	for {
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		switch err {
		case nil:
			if pid <= 0 {
				return ExitStatus{}, nil
			}
			return exitStatus(pid, ws), nil
		case unix.EINTR:
			continue
		case unix.ECHILD:
			return ExitStatus{}, ErrNoChild
		default:
			return ExitStatus{}, errors.Wrap(err, "wait4 failed")
		}
	}
}

// Pipe creates a new pipe with both ends marked close-on-exec.
func (o OS) Pipe() (int, int, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, errors.Wrap(err, "failed to create pipe")
	}
	return p[0], p[1], nil
}

// Close closes fd.
func (o OS) Close(fd int) error {
	return unix.Close(fd)
}

// Exec replaces the current process with argv. argv[0] must be a path.
func (o OS) Exec(argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty argv")
	}
	err := unix.Exec(argv[0], argv, o.env())
	return errors.Wrapf(err, "failed to exec %s", argv[0])
}
