package svscan

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ErrTableFull is returned when a new service would exceed the maximum number
// of tracked services.
var ErrTableFull = errors.New("service table is full")

// Identity identifies a service directory. It stays the same if the directory
// is renamed or if the order of the directory listing changes.
type Identity struct {
	Dev uint64
	Ino uint64
}

// Service is the state of a single service directory.
type Service struct {
	ID   Identity
	Name string

	MainPID int
	LogPID  int

	RestartMain time.Time
	RestartLog  time.Time

	HasLog bool
	Pipe   LogPipe

	// Active is true if the directory was seen by the last complete scan.
	Active bool
	// Signaled is the last signal sent to the service because it was
	// inactive. It is cleared when the service is started or seen again.
	Signaled syscall.Signal

	seen bool
}

// Dead returns true if neither process of the service is running.
func (s *Service) Dead() bool {
	return s.MainPID == 0 && s.LogPID == 0
}

// Table is a bounded array of services. Services are always looked up by
// their content, since removal moves the last service into the removed slot.
type Table struct {
	services []Service
	max      int
}

// NewTable creates a new table holding up to max services.
func NewTable(max int) *Table {
	return &Table{
		services: make([]Service, 0, max),
		max:      max,
	}
}

// Len returns the number of services.
func (t *Table) Len() int { return len(t.services) }

// Max returns the capacity of the table.
func (t *Table) Max() int { return t.max }

// At returns the service at index i. The pointer is invalidated by
// FindOrReserve and RemoveIfDead.
func (t *Table) At(i int) *Service { return &t.services[i] }

// Find returns the index of the service with the given identity.
func (t *Table) Find(id Identity) (int, bool) {
	for i := range t.services {
		if t.services[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// FindOrReserve returns the index of the service with the given identity,
// creating an empty one if there is none. created is true for new services.
// ErrTableFull is returned if there is no room left.
func (t *Table) FindOrReserve(id Identity) (i int, created bool, err error) {
	if i, ok := t.Find(id); ok {
		return i, false, nil
	}

	if len(t.services) >= t.max {
		return -1, false, ErrTableFull
	}

	t.services = append(t.services, Service{
		ID:   id,
		Pipe: LogPipe{R: -1, W: -1},
	})

	return len(t.services) - 1, true, nil
}

// FindPID returns the index of the service owning the given main or log PID.
func (t *Table) FindPID(pid int) (int, bool) {
	if pid <= 0 {
		return -1, false
	}
	for i := range t.services {
		if t.services[i].MainPID == pid || t.services[i].LogPID == pid {
			return i, true
		}
	}
	return -1, false
}

// BeginScan forgets which services were seen by the previous scan.
func (t *Table) BeginScan() {
	for i := range t.services {
		t.services[i].seen = false
	}
}

// MarkActive marks the service at index i as seen by the current scan. It
// returns true if the service was inactive before.
func (t *Table) MarkActive(i int) (reactivated bool) {
	s := &t.services[i]
	s.seen = true

	if s.Active {
		return false
	}

	s.Active = true
	s.Signaled = 0
	return true
}

// EndScan finishes a scan. If the scan was complete, services that were not
// seen become inactive. An incomplete scan never deactivates anything.
func (t *Table) EndScan(complete bool) {
	if !complete {
		return
	}
	for i := range t.services {
		t.services[i].Active = t.services[i].seen
	}
}

// RemoveIfDead removes the service at index i if it is inactive and has no
// running processes. The last service is moved into its slot.
func (t *Table) RemoveIfDead(i int) bool {
	s := &t.services[i]
	if s.Active || !s.Dead() {
		return false
	}

	last := len(t.services) - 1
	t.services[i] = t.services[last]
	t.services[last] = Service{}
	t.services = t.services[:last]

	return true
}
