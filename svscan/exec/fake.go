package exec

import (
	"sort"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

// Fake is an in-memory System used for testing. Processes never run; they stay
// alive until Exit is called on them. A zero-value Fake is not valid; use
// NewFake.
type Fake struct {
	mutex sync.Mutex

	// StartErr, if not nil, is called before a process is started. A non-nil
	// error fails the start.
	StartErr func(Cmd) error
	// ExecErr, if not nil, decides whether Exec fails. Exec succeeds (and
	// returns nil) otherwise, which a real System never does.
	ExecErr func(argv []string) error
	// AutoExit makes signaled processes exit immediately.
	AutoExit bool

	nextPID int
	nextFD  int

	live    map[int]Cmd
	exited  []ExitStatus
	fds     map[int]struct{}
	started []Started
	signals []Sent
	execs   [][]string
}

// Started is a record of a started process.
type Started struct {
	PID int
	Cmd Cmd
}

// Sent is a record of a sent signal.
type Sent struct {
	PID    int
	Signal syscall.Signal
}

var _ System = (*Fake)(nil)

// NewFake creates a new fake system. PIDs start at 101 and descriptors at 1000.
func NewFake() *Fake {
	return &Fake{
		nextPID: 100,
		nextFD:  1000,
		live:    make(map[int]Cmd),
		fds:     make(map[int]struct{}),
	}
}

func (f *Fake) Start(cmd Cmd) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.StartErr != nil {
		if err := f.StartErr(cmd); err != nil {
			return 0, err
		}
	}

	for _, fd := range cmd.Files {
		if fd > 2 {
			if _, ok := f.fds[fd]; !ok {
				return 0, errors.Wrapf(syscall.EBADF, "fd %d given to child", fd)
			}
		}
	}

	f.nextPID++
	pid := f.nextPID

	f.live[pid] = cmd
	f.started = append(f.started, Started{PID: pid, Cmd: cmd})

	return pid, nil
}

func (f *Fake) Signal(pid int, sig syscall.Signal) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.live[pid]; !ok {
		return syscall.ESRCH
	}

	f.signals = append(f.signals, Sent{PID: pid, Signal: sig})

	if f.AutoExit {
		f.exit(pid, ExitStatus{PID: pid, Code: -1, Signal: sig})
	}

	return nil
}

// Exit marks the process as exited with the given code, making it reapable.
func (f *Fake) Exit(pid, code int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.exit(pid, ExitStatus{PID: pid, Code: code})
}

func (f *Fake) exit(pid int, status ExitStatus) {
	if _, ok := f.live[pid]; !ok {
		panic("exit of unknown fake process")
	}
	delete(f.live, pid)
	f.exited = append(f.exited, status)
}

func (f *Fake) Reap() (ExitStatus, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if len(f.exited) > 0 {
		status := f.exited[0]
		f.exited = f.exited[1:]
		return status, nil
	}

	if len(f.live) > 0 {
		return ExitStatus{}, nil
	}

	return ExitStatus{}, ErrNoChild
}

func (f *Fake) Pipe() (int, int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	r, w := f.nextFD, f.nextFD+1
	f.nextFD += 2

	f.fds[r] = struct{}{}
	f.fds[w] = struct{}{}

	return r, w, nil
}

func (f *Fake) Close(fd int) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.fds[fd]; !ok {
		return syscall.EBADF
	}
	delete(f.fds, fd)
	return nil
}

func (f *Fake) Exec(argv []string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.execs = append(f.execs, append([]string(nil), argv...))

	if f.ExecErr != nil {
		return f.ExecErr(argv)
	}
	return nil
}

// Started returns all processes started so far.
func (f *Fake) Started() []Started {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return append([]Started(nil), f.started...)
}

// Signals returns all signals sent so far.
func (f *Fake) Signals() []Sent {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return append([]Sent(nil), f.signals...)
}

// Execs returns the argv of every Exec call.
func (f *Fake) Execs() [][]string {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return append([][]string(nil), f.execs...)
}

// Live returns the sorted PIDs of processes that have not exited.
func (f *Fake) Live() []int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	pids := make([]int, 0, len(f.live))
	for pid := range f.live {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// OpenFDs returns the number of descriptors created by Pipe that are still
// open.
func (f *Fake) OpenFDs() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return len(f.fds)
}

// IsOpen returns true if fd is an open descriptor created by Pipe.
func (f *Fake) IsOpen(fd int) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	_, ok := f.fds[fd]
	return ok
}
