package svscan

import (
	"git.unix.lgbt/diamondburned/svscan/svscan/exec"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// reap reaps every terminated child without blocking. An error is only
// returned if waiting itself failed, which the loop cannot recover from.
func (l *Loop) reap() error {
	l.reapRequested = false

	for {
		status, err := l.sys.Reap()
		if err != nil {
			if errors.Is(err, exec.ErrNoChild) {
				return nil
			}
			return errors.Wrap(err, "failed to reap children")
		}

		if status.PID == 0 {
			return nil
		}

		l.reaped(status)
	}
}

func (l *Loop) reaped(status exec.ExitStatus) {
	ev := EventProcessExited{
		PID:      status.PID,
		ExitCode: status.Code,
	}
	if status.Signaled() {
		ev.Signal = unix.SignalName(status.Signal)
	}

	i, ok := l.table.FindPID(status.PID)
	if !ok {
		if name, ok := l.handlers[status.PID]; ok {
			delete(l.handlers, status.PID)
			ev.Name = name
			l.j.Write(&ev)
			return
		}

		// Orphans reparented to us as the subreaper end up here.
		warn(l.j, "reaper", "reaped unknown pid %d", status.PID)
		return
	}

	s := l.table.At(i)
	restart := l.now().Add(RestartBackoff)

	switch status.PID {
	case s.MainPID:
		s.MainPID = 0
		s.RestartMain = restart
		ev.Name = s.Name
	case s.LogPID:
		s.LogPID = 0
		s.RestartLog = restart
		ev.Name = s.Name + "/log"
	}

	l.deadline.Propose(restart)
	l.j.Write(&ev)

	// The pipe must outlive both processes sharing it, and not one moment
	// longer. If the other process is still alive, it may still be reading or
	// writing, so only mark the pipe. If it is already gone, this was the last
	// user and the pipe is closed now.
	if s.Pipe.Valid() {
		if s.Dead() {
			if err := s.Pipe.close(l.sys); err != nil {
				warn(l.j, "reaper", "failed to close log pipe of %q: %v", s.Name, err)
			}
		} else {
			s.Pipe.State = PipeClosePending
		}
	}

	l.remove(i)
}
