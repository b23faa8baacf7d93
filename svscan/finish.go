package svscan

import (
	"os"
	"path/filepath"
	"time"

	"git.unix.lgbt/diamondburned/svscan/svscan/exec"
)

// LastResort is executed when the crash program cannot be.
var LastResort = []string{"/bin/sh"}

// finish replaces the process with the finish program, falling back to the
// crash program.
func (l *Loop) finish() {
	terminate(l.sys, l.j, l.sleep,
		[]string{l.cfg.Finish, string(l.reason)},
		[]string{l.cfg.Crash},
	)
}

// crash handles a fatal error: whatever signals are still pending are handled
// so they are at least journaled, then the process is replaced with the crash
// program.
func (l *Loop) crash(err error) {
	l.j.Write(&EventFatal{Error: err.Error()})
	l.drain()

	terminate(l.sys, l.j, l.sleep,
		[]string{l.cfg.Crash},
		LastResort,
	)
}

// Crash replaces the process with the crash program. It is used when the loop
// could not even be created. With a real System, Crash never returns.
func Crash(sys exec.System, j Journaler, crash string, cause error) {
	j.Write(&EventFatal{Error: cause.Error()})
	terminate(sys, j, time.Sleep, []string{crash}, LastResort)
}

// terminate tries every argv in order, forever. It only returns if an Exec
// call returns nil, which never happens with a real System.
func terminate(sys exec.System, j Journaler, sleep func(time.Duration), chain ...[]string) {
	for {
		for _, argv := range chain {
			j.Write(&EventFinish{Argv: argv})

			err := sys.Exec(argv)
			if err == nil {
				return
			}

			warn(j, "finish", "%v", err)
		}

		// Exiting would leave the system without whatever process is supposed
		// to be here, so keep trying.
		sleep(TerminalRetryDelay)
	}
}

// divert starts the handler program for the given signal name. False is
// returned if there is no handler or it could not be started, in which case
// the built-in action applies.
func (l *Loop) divert(name string) (string, bool) {
	path := filepath.Join(l.cfg.Handlers, name)

	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return "", false
	}

	pid, err := l.sys.Start(exec.Cmd{
		Path: path,
		Args: []string{path},
		Dir:  l.cfg.Dir,
	})
	if err != nil {
		warn(l.j, "signals", "failed to start handler %s: %v", path, err)
		return "", false
	}

	l.handlers[pid] = name
	return path, true
}
