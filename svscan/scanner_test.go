package svscan

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/svscan/svscan/exec"
	"github.com/stretchr/testify/require"
)

func TestScanEmpty(t *testing.T) {
	tl := newTestLoop(t)

	for i := 0; i < 3; i++ {
		tl.tick(t)
		require.Zero(t, tl.table.Len())
		require.Equal(t, tl.cfg.Timeout, tl.waitTimeout(tl.clock.Now()))

		tl.clock.Advance(tl.cfg.Timeout)
	}

	require.Empty(t, tl.fake.Started())
	require.Empty(t, tl.j.Journals())
}

func TestScanPlainService(t *testing.T) {
	tl := newTestLoop(t)
	tl.mkService(t, "svc", false)
	tl.mkService(t, ".hidden", false)
	require.NoError(t, os.WriteFile(filepath.Join(tl.cfg.Dir, "file"), nil, 0644))

	tl.tick(t)

	started := tl.fake.Started()
	require.Len(t, started, 1)
	require.Equal(t, exec.Cmd{
		Path: "supervise",
		Args: []string{"supervise", "svc"},
		Dir:  tl.cfg.Dir,
	}, started[0].Cmd)

	pid := started[0].PID
	require.Equal(t, pid, tl.service(t, "svc").MainPID)

	tl.fake.Exit(pid, 1)
	tl.tick(t)

	s := tl.service(t, "svc")
	require.Zero(t, s.MainPID)
	require.Equal(t, tl.clock.Now().Add(RestartBackoff), s.RestartMain)
	require.Equal(t, RestartBackoff, tl.waitTimeout(tl.clock.Now()))

	// Nothing happens during the back-off, no matter how often it scans.
	for i := 0; i < 10; i++ {
		tl.clock.Advance(RestartBackoff / 10)
		if i == 9 {
			break
		}
		tl.tick(t)
		require.Len(t, tl.fake.Started(), 1)
	}

	tl.tick(t)
	require.Len(t, tl.fake.Started(), 2)

	tl.tick(t)
	require.Len(t, tl.fake.Started(), 2)

	tl.j.Verify(t, true, []Event{
		&EventServiceAdded{Name: "svc"},
		&EventProcessSpawned{Name: "svc", PID: pid},
		&EventProcessExited{Name: "svc", PID: pid, ExitCode: 1},
		&EventProcessSpawned{Name: "svc", PID: tl.fake.Started()[1].PID},
	})
}

func TestScanLogService(t *testing.T) {
	tl := newTestLoop(t)
	tl.mkService(t, "svc", true)

	tl.tick(t)

	s := tl.service(t, "svc")
	require.True(t, s.HasLog)
	require.Equal(t, PipeOpen, s.Pipe.State)

	started := tl.fake.Started()
	require.Len(t, started, 2)

	require.Equal(t, exec.Cmd{
		Path:  "supervise",
		Args:  []string{"supervise", "svc/log"},
		Dir:   tl.cfg.Dir,
		Files: []int{s.Pipe.R, 1, 2},
	}, started[0].Cmd)

	require.Equal(t, exec.Cmd{
		Path:  "supervise",
		Args:  []string{"supervise", "svc"},
		Dir:   tl.cfg.Dir,
		Files: []int{0, 1, 2, s.Pipe.W},
	}, started[1].Cmd)

	logPID, mainPID := started[0].PID, started[1].PID
	require.Equal(t, logPID, s.LogPID)
	require.Equal(t, mainPID, s.MainPID)

	r, w := s.Pipe.R, s.Pipe.W

	// The logger exits first. The main process still holds the write end.
	tl.fake.Exit(logPID, 0)
	tl.tick(t)

	s = tl.service(t, "svc")
	require.Zero(t, s.LogPID)
	require.True(t, tl.fake.IsOpen(r))
	require.True(t, tl.fake.IsOpen(w))

	// The restarted logger reads from the same pipe.
	tl.clock.Advance(RestartBackoff)
	tl.tick(t)

	started = tl.fake.Started()
	require.Len(t, started, 3)
	require.Equal(t, []int{r, 1, 2}, started[2].Cmd.Files)

	// Both exit. Only then is the pipe closed, and a new one is made for the
	// next pair.
	s = tl.service(t, "svc")
	tl.fake.Exit(s.MainPID, 0)
	tl.fake.Exit(s.LogPID, 0)
	tl.tick(t)

	s = tl.service(t, "svc")
	require.Equal(t, PipeClosed, s.Pipe.State)
	require.False(t, tl.fake.IsOpen(r))
	require.False(t, tl.fake.IsOpen(w))
	require.Zero(t, tl.fake.OpenFDs())

	tl.clock.Advance(RestartBackoff)
	tl.tick(t)

	s = tl.service(t, "svc")
	require.Equal(t, PipeOpen, s.Pipe.State)
	require.NotEqual(t, r, s.Pipe.R)
	require.Equal(t, 2, tl.fake.OpenFDs())
	require.Len(t, tl.fake.Started(), 5)
}

func TestScanIdempotent(t *testing.T) {
	tl := newTestLoop(t)
	tl.mkService(t, "a", false)
	tl.mkService(t, "b", true)

	tl.tick(t)
	require.Len(t, tl.fake.Started(), 3)

	for i := 0; i < 5; i++ {
		tl.tick(t)
		tl.clock.Advance(time.Second)
	}

	require.Len(t, tl.fake.Started(), 3)
	require.Equal(t, 2, tl.table.Len())
	require.Empty(t, tl.j.Of(eventServiceRemoved))

	// Every recorded PID is a distinct live process.
	live := tl.fake.Live()
	require.Len(t, live, 3)
	for _, name := range []string{"a", "b"} {
		s := tl.service(t, name)
		require.Contains(t, live, s.MainPID)
		if s.HasLog {
			require.Contains(t, live, s.LogPID)
		}
	}
}

func TestScanRename(t *testing.T) {
	tl := newTestLoop(t)
	path := tl.mkService(t, "svc", false)

	tl.tick(t)
	pid := tl.service(t, "svc").MainPID

	require.NoError(t, os.Rename(path, filepath.Join(tl.cfg.Dir, "renamed")))
	tl.tick(t)

	// Same directory, so the same service with its process untouched.
	require.Equal(t, 1, tl.table.Len())
	require.Equal(t, pid, tl.service(t, "renamed").MainPID)
	require.Len(t, tl.fake.Started(), 1)
	require.Empty(t, tl.fake.Signals())
}

func TestScanTableFull(t *testing.T) {
	tl := newTestLoop(t, func(c *Config) { c.MaxServices = 1 })
	tl.mkService(t, "a", false)

	tl.tick(t)
	pid := tl.service(t, "a").MainPID

	tl.mkService(t, "b", false)
	tl.tick(t)
	tl.tick(t)

	require.Equal(t, 1, tl.table.Len())
	require.Equal(t, pid, tl.service(t, "a").MainPID)
	require.Len(t, tl.fake.Started(), 1)
	require.Equal(t, []int{pid}, tl.fake.Live())

	warnings := tl.warnings()
	require.Len(t, warnings, 2)
	require.Equal(t, `scanner: not starting "b": service table is full (max 1)`, warnings[0])
}

func TestScanSpawnFailure(t *testing.T) {
	tl := newTestLoop(t, func(c *Config) { c.Timeout = time.Minute })
	tl.mkService(t, "broken", false)
	tl.mkService(t, "fine", false)

	fail := true
	tl.fake.StartErr = func(cmd exec.Cmd) error {
		if fail && cmd.Args[1] == "broken" {
			return syscall.EAGAIN
		}
		return nil
	}

	tl.tick(t)

	started := tl.fake.Started()
	require.Len(t, started, 1)
	require.Equal(t, []string{"supervise", "fine"}, started[0].Cmd.Args)

	require.Equal(t, []Event{
		&EventProcessSpawnError{Name: "broken", Reason: "resource temporarily unavailable"},
	}, tl.j.Of(eventProcessSpawnError))

	require.Equal(t, SpawnRetryDelay, tl.waitTimeout(tl.clock.Now()))

	fail = false

	tl.clock.Advance(SpawnRetryDelay - time.Millisecond)
	tl.tick(t)
	require.Len(t, tl.fake.Started(), 1)

	tl.clock.Advance(time.Millisecond)
	tl.tick(t)
	require.Len(t, tl.fake.Started(), 2)
}

func TestScanIncomplete(t *testing.T) {
	tl := newTestLoop(t, func(c *Config) { c.Timeout = time.Minute })
	path := tl.mkService(t, "svc", false)

	tl.tick(t)
	pid := tl.service(t, "svc").MainPID

	// A dangling symlink cannot be stat'd, so the listing cannot be trusted to
	// be complete, and the removal of svc must not be acted on yet.
	broken := filepath.Join(tl.cfg.Dir, "broken")
	require.NoError(t, os.Symlink(filepath.Join(tl.cfg.Dir, "nowhere"), broken))
	require.NoError(t, os.Remove(path))

	tl.tick(t)

	s := tl.service(t, "svc")
	require.True(t, s.Active)
	require.Equal(t, pid, s.MainPID)
	require.Empty(t, tl.fake.Signals())
	require.Equal(t, ScanRetryDelay, tl.waitTimeout(tl.clock.Now()))

	warnings := tl.warnings()
	require.Len(t, warnings, 1)
	require.True(t, strings.HasPrefix(warnings[0], `scanner: failed to stat "broken"`), warnings[0])

	require.NoError(t, os.Remove(broken))
	tl.tick(t)

	require.False(t, tl.service(t, "svc").Active)
	require.Equal(t, []exec.Sent{{PID: pid, Signal: syscall.SIGTERM}}, tl.fake.Signals())
}

func TestScanMissingRoot(t *testing.T) {
	tl := newTestLoop(t, func(c *Config) { c.Timeout = time.Minute })
	path := tl.mkService(t, "svc", false)

	tl.tick(t)
	pid := tl.service(t, "svc").MainPID

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Remove(tl.cfg.Dir))

	tl.tick(t)

	require.True(t, tl.service(t, "svc").Active)
	require.Equal(t, []int{pid}, tl.fake.Live())
	require.Equal(t, ScanRetryDelay, tl.waitTimeout(tl.clock.Now()))
	require.Len(t, tl.warnings(), 1)
}
