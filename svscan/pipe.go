package svscan

import (
	"git.unix.lgbt/diamondburned/svscan/svscan/exec"
	"github.com/pkg/errors"
)

// PipeState is the state of a log pipe.
type PipeState uint8

const (
	// PipeClosed means that no descriptors are held.
	PipeClosed PipeState = iota
	// PipeOpen means that both ends are valid.
	PipeOpen
	// PipeClosePending means that one of the two processes sharing the pipe
	// has exited. Both ends are still valid, because the other process may
	// still be using it.
	PipeClosePending
)

func (s PipeState) String() string {
	switch s {
	case PipeClosed:
		return "closed"
	case PipeOpen:
		return "open"
	case PipeClosePending:
		return "close pending"
	default:
		return "unknown"
	}
}

// LogPipe is the pipe connecting a service to its logger.
type LogPipe struct {
	R, W  int
	State PipeState
}

// Valid returns true if both descriptors are usable.
func (p LogPipe) Valid() bool {
	return p.State != PipeClosed
}

func (p *LogPipe) open(sys exec.System) error {
	if p.Valid() {
		return nil
	}

	r, w, err := sys.Pipe()
	if err != nil {
		return err
	}

	*p = LogPipe{R: r, W: w, State: PipeOpen}
	return nil
}

// close closes both ends exactly once. Closing a closed pipe does nothing.
func (p *LogPipe) close(sys exec.System) error {
	if !p.Valid() {
		return nil
	}

	rerr := sys.Close(p.R)
	werr := sys.Close(p.W)
	*p = LogPipe{R: -1, W: -1, State: PipeClosed}

	if rerr != nil {
		return errors.Wrap(rerr, "failed to close read end")
	}
	if werr != nil {
		return errors.Wrap(werr, "failed to close write end")
	}
	return nil
}
