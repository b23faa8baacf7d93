package svscan

import (
	"strings"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/svscan/svscan/exec"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Reason is the argument given to the finish program.
type Reason string

const (
	ReasonReboot   Reason = "reboot"
	ReasonHalt     Reason = "halt"
	ReasonPoweroff Reason = "poweroff"
	ReasonOther    Reason = "other"
)

// KillMode is a bitmask describing which processes are signaled, and with
// what, when the loop stops.
type KillMode uint8

const (
	// KillActive signals services whose directory still exists.
	KillActive KillMode = 1 << iota
	// KillInactive signals services whose directory is gone.
	KillInactive
	// KillEscalate sends SIGKILL instead of SIGTERM.
	KillEscalate
	// KillLoggers also signals log supervisors.
	KillLoggers

	// KillNone signals nothing.
	KillNone KillMode = 0
	// KillDefault sends SIGTERM to everything.
	KillDefault = KillActive | KillInactive | KillLoggers
)

func (m KillMode) String() string {
	if m == KillNone {
		return "none"
	}

	var parts []string
	for _, bit := range []struct {
		mode KillMode
		name string
	}{
		{KillActive, "active"},
		{KillInactive, "inactive"},
		{KillEscalate, "escalate"},
		{KillLoggers, "loggers"},
	} {
		if m&bit.mode != 0 {
			parts = append(parts, bit.name)
		}
	}
	return strings.Join(parts, "|")
}

// Signal returns the signal sent under this mode.
func (m KillMode) Signal() syscall.Signal {
	if m&KillEscalate != 0 {
		return syscall.SIGKILL
	}
	return syscall.SIGTERM
}

// Loop is the scan/reap/control event loop. All of its state is owned by the
// goroutine calling Run.
type Loop struct {
	cfg Config
	sys exec.System
	j   Journaler

	now   func() time.Time
	sleep func(time.Duration)

	table    *Table
	deadline Deadline
	router   *Router
	control  *Control
	watcher  *Watcher

	// handlers maps PIDs of running signal handlers to their names.
	handlers map[int]string

	reapRequested bool
	scanRequested bool
	stop          bool
	abort         bool
	kill          KillMode
	reason        Reason
}

// NewLoop creates the self-pipe, opens the control fifo, starts trapping
// signals and, if configured, starts watching the scan root. Any error here
// means the loop cannot run at all.
func NewLoop(cfg Config, sys exec.System, j Journaler) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	router, err := NewRouter(cfg.Divert)
	if err != nil {
		return nil, err
	}

	control, err := OpenControl(cfg.Control)
	if err != nil {
		router.Close()
		return nil, err
	}

	l := &Loop{
		cfg:      cfg,
		sys:      sys,
		j:        j,
		now:      time.Now,
		sleep:    time.Sleep,
		table:    NewTable(cfg.MaxServices),
		router:   router,
		control:  control,
		handlers: make(map[int]string),

		reapRequested: true,
		scanRequested: true,
		kill:          KillDefault,
		reason:        ReasonReboot,
	}

	router.Notify()

	if cfg.Watch {
		l.watcher = TryWatch(cfg.Dir, j, func() { router.Raise(syscall.SIGALRM) })
	}

	return l, nil
}

// Table returns the service table. It must only be used from the goroutine
// running the loop, or once the loop has returned.
func (l *Loop) Table() *Table { return l.table }

// Close releases the self-pipe, the control fifo and the watcher. Run closes
// nothing by itself, since it only returns once the process image has been
// replaced.
func (l *Loop) Close() error {
	if l.watcher != nil {
		l.watcher.Close()
	}
	l.control.Close()
	return l.router.Close()
}

// Run runs the loop until it is told to stop, then replaces the process with
// the finish program. With a real System, Run never returns.
func (l *Loop) Run() {
	for !l.stop {
		if err := l.cycle(); err != nil {
			l.crash(err)
			return
		}
		if l.stop {
			break
		}
		if err := l.wait(); err != nil {
			l.crash(err)
			return
		}
	}

	l.j.Write(&EventStopping{
		Reason:   l.reason,
		KillMode: l.kill.String(),
		Abort:    l.abort,
	})

	if !l.abort {
		if err := l.shutdown(); err != nil {
			l.crash(err)
			return
		}
	}

	l.finish()
}

// cycle runs one round of reaping, scanning and signaling.
func (l *Loop) cycle() error {
	if l.reapRequested {
		if err := l.reap(); err != nil {
			return err
		}
	}

	if l.scanRequested {
		l.scan()
	}

	l.signalServices(KillInactive|KillLoggers, true)
	return nil
}

// shutdown drains pending events without waiting, signals services according
// to the kill mode and reaps whatever already exited.
func (l *Loop) shutdown() error {
	if err := l.drain(); err != nil {
		return err
	}

	l.signalServices(l.kill, false)

	return l.reap()
}

// waitTimeout returns how long the loop may block.
func (l *Loop) waitTimeout(now time.Time) time.Duration {
	return l.deadline.Until(now, l.cfg.Timeout)
}

// pollTimeout converts d to whole milliseconds, rounding up. Only a zero d
// polls without blocking.
func pollTimeout(d time.Duration) int {
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// wait blocks until a signal or command arrives or the deadline passes.
func (l *Loop) wait() error {
	timeout := l.waitTimeout(l.now())

	fds := []unix.PollFd{
		{Fd: int32(l.router.Fd()), Events: unix.POLLIN},
		{Fd: int32(l.control.Fd()), Events: unix.POLLIN},
	}

	n, err := unix.Poll(fds, pollTimeout(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return errors.Wrap(err, "poll failed")
	}

	if n == 0 {
		l.scanRequested = true
		return nil
	}

	for _, fd := range fds {
		if fd.Revents&unix.POLLNVAL != 0 {
			return errors.Errorf("poll: fd %d is invalid", fd.Fd)
		}
	}

	return l.drain()
}

// drain reads the self-pipe and the control fifo without blocking.
func (l *Loop) drain() error {
	if err := l.router.Drain(l.handleSignal); err != nil {
		return err
	}
	if err := l.control.Drain(l.handleCommand); err != nil {
		return err
	}
	return nil
}

func (l *Loop) requestStop(kill KillMode) {
	l.kill = kill
	l.stop = true
}

func (l *Loop) handleSignal(sig syscall.Signal) {
	switch sig {
	case syscall.SIGCHLD:
		l.reapRequested = true
		return
	case syscall.SIGALRM:
		l.scanRequested = true
		return
	}

	name := unix.SignalName(sig)
	if name == "" {
		name = sig.String()
	}

	if sig == syscall.SIGABRT {
		l.j.Write(&EventSignal{Signal: name})
		l.abort = true
		l.stop = true
		return
	}

	if l.router.Diverted() {
		if handler, ok := l.divert(name); ok {
			l.j.Write(&EventSignal{Signal: name, Handler: handler})
			return
		}
	}

	l.j.Write(&EventSignal{Signal: name})

	action, ok := builtinActions[sig]
	if !ok {
		warn(l.j, "signals", "ignoring untrapped signal %s", name)
		return
	}

	l.reason = action.reason
	l.requestStop(action.kill)
}

func (l *Loop) handleCommand(cmd Command, b byte) {
	if cmd == CommandUnknown {
		warn(l.j, "control", "ignoring unknown command byte %q", b)
		return
	}

	l.j.Write(&EventControl{Command: cmd.String()})

	switch cmd {
	case CommandPoweroff:
		l.reason = ReasonPoweroff
	case CommandHalt:
		l.reason = ReasonHalt
	case CommandReboot:
		l.reason = ReasonReboot
	case CommandOther:
		l.reason = ReasonOther
	case CommandTerminate:
		l.requestStop(KillDefault)
	case CommandKill:
		l.requestStop(KillDefault | KillEscalate)
	case CommandRescan:
		l.scanRequested = true
	case CommandReap:
		l.reapRequested = true
	case CommandHandoff:
		l.requestStop(KillNone)
	case CommandAbort:
		l.abort = true
		l.stop = true
	}
}

// signalServices signals every service matching mode. If once is true, a
// service that was already sent the same signal is skipped.
func (l *Loop) signalServices(mode KillMode, once bool) {
	if mode&(KillActive|KillInactive) == 0 {
		return
	}

	sig := mode.Signal()

	for i := 0; i < l.table.Len(); i++ {
		s := l.table.At(i)

		if s.Active && mode&KillActive == 0 {
			continue
		}
		if !s.Active && mode&KillInactive == 0 {
			continue
		}
		if once && s.Signaled == sig {
			continue
		}
		if s.Dead() {
			continue
		}

		l.signal(s.MainPID, s.Name, sig)
		if mode&KillLoggers != 0 {
			l.signal(s.LogPID, s.Name+"/log", sig)
		}

		s.Signaled = sig
	}
}

func (l *Loop) signal(pid int, name string, sig syscall.Signal) {
	if pid == 0 {
		return
	}

	if err := l.sys.Signal(pid, sig); err != nil {
		warn(l.j, "kill", "failed to signal %s (pid %d): %v", name, pid, err)
		return
	}

	l.j.Write(&EventProcessSignaled{
		PID:    pid,
		Name:   name,
		Signal: unix.SignalName(sig),
	})
}
