package svscan

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// trappedSignals is the set of signals the router always listens to.
var trappedSignals = []os.Signal{
	syscall.SIGCHLD,
	syscall.SIGALRM,
	syscall.SIGABRT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGINT,
}

// divertedSignals is trapped in addition to trappedSignals in diverted mode.
var divertedSignals = []os.Signal{
	syscall.SIGUSR1,
	syscall.SIGUSR2,
}

// Router turns asynchronous signals into bytes on a self-pipe. The read end
// is polled by the event loop alongside the control fifo, so all actual work
// happens on the loop.
type Router struct {
	divert bool
	r, w   int

	sigCh chan os.Signal
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewRouter creates the self-pipe. Signals are not trapped until Notify is
// called.
func NewRouter(divert bool) (*Router, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "failed to create self-pipe")
	}

	return &Router{
		divert: divert,
		r:      p[0],
		w:      p[1],
		sigCh:  make(chan os.Signal, 32),
		done:   make(chan struct{}),
	}, nil
}

// Diverted returns true if the router is in diverted mode.
func (r *Router) Diverted() bool { return r.divert }

// Fd returns the read end of the self-pipe.
func (r *Router) Fd() int { return r.r }

// Trapped returns the signals that Notify listens to.
func (r *Router) Trapped() []os.Signal {
	sigs := append([]os.Signal(nil), trappedSignals...)
	if r.divert {
		sigs = append(sigs, divertedSignals...)
	}
	return sigs
}

// Notify starts trapping signals.
func (r *Router) Notify() {
	signal.Notify(r.sigCh, r.Trapped()...)

	r.wg.Add(1)
	go r.forward()
}

// forward stands in for a signal handler: it does nothing but write one byte
// per signal.
func (r *Router) forward() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case sig := <-r.sigCh:
			if sig, ok := sig.(syscall.Signal); ok {
				r.Raise(sig)
			}
		}
	}
}

// Raise queues sig as if it had been received. It never blocks; if the pipe is
// full, the loop already has plenty to wake up for and the byte is dropped.
func (r *Router) Raise(sig syscall.Signal) {
	b := [1]byte{byte(sig)}
	for {
		_, err := unix.Write(r.w, b[:])
		if err != unix.EINTR {
			return
		}
	}
}

// Drain reads every pending signal off the self-pipe and calls fn for each.
func (r *Router) Drain(fn func(syscall.Signal)) error {
	var buf [64]byte

	for {
		n, err := unix.Read(r.r, buf[:])
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return nil
		default:
			return errors.Wrap(err, "failed to read self-pipe")
		}

		if n == 0 {
			return nil
		}

		for _, b := range buf[:n] {
			fn(syscall.Signal(b))
		}
	}
}

// Close stops trapping signals and closes the self-pipe.
func (r *Router) Close() error {
	var err error

	r.once.Do(func() {
		signal.Stop(r.sigCh)
		close(r.done)
		r.wg.Wait()

		unix.Close(r.w)
		err = unix.Close(r.r)
	})

	return err
}

// builtinAction is what a signal does when it is not diverted.
type builtinAction struct {
	reason Reason
	kill   KillMode
}

var builtinActions = map[syscall.Signal]builtinAction{
	syscall.SIGTERM: {ReasonReboot, KillDefault},
	syscall.SIGINT:  {ReasonReboot, KillDefault},
	syscall.SIGHUP:  {ReasonOther, KillDefault},
	syscall.SIGQUIT: {ReasonOther, KillNone},
	syscall.SIGUSR1: {ReasonHalt, KillDefault},
	syscall.SIGUSR2: {ReasonPoweroff, KillDefault},
}
