package svscan

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/svscan/svscan/exec"
	"github.com/pkg/errors"
)

// scan reads the scan root once, reconciles it with the service table and
// starts every supervisor that is due.
func (l *Loop) scan() {
	now := l.now()

	l.scanRequested = false
	l.deadline.Reset(now.Add(l.cfg.Timeout))
	l.table.BeginScan()

	complete := true

	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		warn(l.j, "scanner", "failed to read scan directory: %v", err)
		complete = false
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		id, ok, err := statService(filepath.Join(l.cfg.Dir, name))
		if err != nil {
			warn(l.j, "scanner", "failed to stat %q: %v", name, err)
			complete = false
			continue
		}
		if !ok {
			continue
		}

		l.scanService(id, name, now)
	}

	l.table.EndScan(complete)

	if !complete {
		// Nothing is removed or killed based on a partial listing; try again
		// soon.
		l.deadline.Propose(now.Add(ScanRetryDelay))
		return
	}

	l.sweep()
}

// statService returns the identity of path if it is a directory, following
// symlinks.
func statService(path string) (Identity, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Identity{}, false, err
	}
	if !fi.IsDir() {
		return Identity{}, false, nil
	}

	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return Identity{}, false, errors.New("no device and inode information")
	}

	return Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, true, nil
}

func (l *Loop) scanService(id Identity, name string, now time.Time) {
	i, created, err := l.table.FindOrReserve(id)
	if err != nil {
		warn(l.j, "scanner", "not starting %q: %v (max %d)", name, err, l.table.Max())
		return
	}

	s := l.table.At(i)
	s.Name = name

	if created {
		l.addService(s, now)
	}

	l.table.MarkActive(i)

	// The first process of the pair already exited while the other one is
	// still using the pipe. The service is still here, so the pipe stays open
	// for the restarted process, and the loop comes back right away to reap
	// and rescan.
	if s.Pipe.State == PipeClosePending {
		s.Pipe.State = PipeOpen
		l.reapRequested = true
		l.deadline.Propose(now)
	}

	if s.HasLog && s.LogPID == 0 && !now.Before(s.RestartLog) {
		l.startLog(s, now)
	}

	if s.MainPID == 0 && !now.Before(s.RestartMain) {
		l.startMain(s, now)
	}

	if s.HasLog && s.LogPID == 0 {
		l.deadline.Propose(s.RestartLog)
	}
	if s.MainPID == 0 {
		l.deadline.Propose(s.RestartMain)
	}
}

func (l *Loop) addService(s *Service, now time.Time) {
	s.RestartMain = now
	s.RestartLog = now

	fi, err := os.Stat(filepath.Join(l.cfg.Dir, s.Name, "log"))
	if err == nil && fi.IsDir() {
		s.HasLog = true

		if err := s.Pipe.open(l.sys); err != nil {
			// Retried by ensurePipe before anything is started.
			warn(l.j, "scanner", "failed to create log pipe for %q: %v", s.Name, err)
		}
	}

	l.j.Write(&EventServiceAdded{
		Name:   s.Name,
		HasLog: s.HasLog,
	})
}

// ensurePipe makes sure that a log pipe exists before either end of a
// log-paired service is started. A pipe can only be closed while both
// processes are dead, so a fresh one is safe to hand out.
func (l *Loop) ensurePipe(s *Service, now time.Time) bool {
	if s.Pipe.Valid() {
		return true
	}

	if err := s.Pipe.open(l.sys); err != nil {
		warn(l.j, "scanner", "failed to create log pipe for %q: %v", s.Name, err)
		s.RestartMain = now.Add(SpawnRetryDelay)
		s.RestartLog = now.Add(SpawnRetryDelay)
		return false
	}

	return true
}

func (l *Loop) startLog(s *Service, now time.Time) {
	if !l.ensurePipe(s, now) {
		return
	}

	name := s.Name + "/log"

	pid, ok := l.start(name, []int{s.Pipe.R, 1, 2})
	if !ok {
		s.RestartLog = now.Add(SpawnRetryDelay)
		return
	}

	s.LogPID = pid
	s.Signaled = 0
}

func (l *Loop) startMain(s *Service, now time.Time) {
	var files []int
	if s.HasLog {
		if !l.ensurePipe(s, now) {
			return
		}
		files = []int{0, 1, 2, s.Pipe.W}
	}

	pid, ok := l.start(s.Name, files)
	if !ok {
		s.RestartMain = now.Add(SpawnRetryDelay)
		return
	}

	s.MainPID = pid
	s.Signaled = 0
}

// start starts the supervisor for the given service directory.
func (l *Loop) start(name string, files []int) (int, bool) {
	pid, err := l.sys.Start(exec.Cmd{
		Path:  l.cfg.Supervisor,
		Args:  []string{l.cfg.Supervisor, name},
		Dir:   l.cfg.Dir,
		Files: files,
	})
	if err != nil {
		l.j.Write(&EventProcessSpawnError{
			Name:   name,
			Reason: err.Error(),
		})
		return 0, false
	}

	l.j.Write(&EventProcessSpawned{
		Name: name,
		PID:  pid,
	})

	return pid, true
}

// sweep removes every inactive service that has no processes left.
func (l *Loop) sweep() {
	for i := 0; i < l.table.Len(); {
		if !l.remove(i) {
			i++
		}
	}
}

// remove removes the service at index i if it is inactive and dead, closing
// its pipe if it still holds one.
func (l *Loop) remove(i int) bool {
	s := l.table.At(i)
	if s.Active || !s.Dead() {
		return false
	}

	name := s.Name

	if err := s.Pipe.close(l.sys); err != nil {
		warn(l.j, "scanner", "failed to close log pipe of %q: %v", name, err)
	}

	l.table.RemoveIfDead(i)
	l.j.Write(&EventServiceRemoved{Name: name})

	return true
}
