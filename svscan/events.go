package svscan

// eventType describes an event type.
type eventType = string

const (
	eventWarning           eventType = "warning"
	eventAcquired          eventType = "acquired lock"
	eventServiceAdded      eventType = "service added"
	eventServiceRemoved    eventType = "service removed"
	eventProcessSpawnError eventType = "process spawn error"
	eventProcessSpawned    eventType = "process spawned"
	eventProcessExited     eventType = "process exited"
	eventProcessSignaled   eventType = "process signaled"
	eventSignal            eventType = "signal received"
	eventControl           eventType = "control command"
	eventStopping          eventType = "stopping"
	eventFinish            eventType = "finishing"
	eventFatal             eventType = "fatal"
)

// Event is an interface describing known events.
type Event interface {
	Type() string
	event()
}

// NewEvent creates a new event from the given event type. It is used primarily
// for decoding events from its type. Nil is returned if the event type is
// unknown.
func NewEvent(eventType string) Event {
	switch eventType {
	case eventWarning:
		return &EventWarning{}
	case eventAcquired:
		return &EventAcquired{}
	case eventServiceAdded:
		return &EventServiceAdded{}
	case eventServiceRemoved:
		return &EventServiceRemoved{}
	case eventProcessSpawnError:
		return &EventProcessSpawnError{}
	case eventProcessSpawned:
		return &EventProcessSpawned{}
	case eventProcessExited:
		return &EventProcessExited{}
	case eventProcessSignaled:
		return &EventProcessSignaled{}
	case eventSignal:
		return &EventSignal{}
	case eventControl:
		return &EventControl{}
	case eventStopping:
		return &EventStopping{}
	case eventFinish:
		return &EventFinish{}
	case eventFatal:
		return &EventFatal{}
	default:
		return nil
	}
}

// EventWarning is emitted when a non-fatal error occurs.
type EventWarning struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ev *EventWarning) Type() string { return eventWarning }
func (ev *EventWarning) event()       {}

// EventAcquired is emitted when the flock (i.e. write lock on the journal) is
// acquired, which is on startup.
type EventAcquired struct{}

func (ev *EventAcquired) Type() string { return eventAcquired }
func (ev *EventAcquired) event()       {}

// EventServiceAdded is emitted when a new service directory is found.
type EventServiceAdded struct {
	Name   string `json:"name"`
	HasLog bool   `json:"has_log"`
}

func (ev *EventServiceAdded) Type() string { return eventServiceAdded }
func (ev *EventServiceAdded) event()       {}

// EventServiceRemoved is emitted when a service is forgotten, which happens
// once its directory is gone and all of its processes have exited.
type EventServiceRemoved struct {
	Name string `json:"name"`
}

func (ev *EventServiceRemoved) Type() string { return eventServiceRemoved }
func (ev *EventServiceRemoved) event()       {}

// EventProcessSpawnError is emitted when a process fails to start for any
// reason.
type EventProcessSpawnError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func (ev *EventProcessSpawnError) Type() string { return eventProcessSpawnError }
func (ev *EventProcessSpawnError) event()       {}

// EventProcessSpawned is emitted when a process has been started. Name is the
// argument given to the supervisor, so loggers are named "<service>/log".
type EventProcessSpawned struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
}

func (ev *EventProcessSpawned) Type() string { return eventProcessSpawned }
func (ev *EventProcessSpawned) event()       {}

// EventProcessExited is emitted when a process has been reaped.
type EventProcessExited struct {
	PID      int    `json:"pid"`
	Name     string `json:"name"`
	ExitCode int    `json:"exit_code"` // -1 if signaled
	Signal   string `json:"signal,omitempty"`
}

func (ev *EventProcessExited) Type() string { return eventProcessExited }
func (ev *EventProcessExited) event()       {}

// EventProcessSignaled is emitted when svscan sends a signal to a process.
type EventProcessSignaled struct {
	PID    int    `json:"pid"`
	Name   string `json:"name"`
	Signal string `json:"signal"`
}

func (ev *EventProcessSignaled) Type() string { return eventProcessSignaled }
func (ev *EventProcessSignaled) event()       {}

// EventSignal is emitted when svscan itself receives a signal.
type EventSignal struct {
	Signal string `json:"signal"`
	// Handler is the handler program spawned for the signal in diverted mode.
	Handler string `json:"handler,omitempty"`
}

func (ev *EventSignal) Type() string { return eventSignal }
func (ev *EventSignal) event()       {}

// EventControl is emitted for every byte read from the control fifo.
type EventControl struct {
	Command string `json:"command"`
}

func (ev *EventControl) Type() string { return eventControl }
func (ev *EventControl) event()       {}

// EventStopping is emitted once the event loop stops scanning.
type EventStopping struct {
	Reason   Reason `json:"reason"`
	KillMode string `json:"kill_mode"`
	Abort    bool   `json:"abort,omitempty"`
}

func (ev *EventStopping) Type() string { return eventStopping }
func (ev *EventStopping) event()       {}

// EventFinish is emitted right before svscan replaces itself with another
// program.
type EventFinish struct {
	Argv []string `json:"argv"`
}

func (ev *EventFinish) Type() string { return eventFinish }
func (ev *EventFinish) event()       {}

// EventFatal is emitted when the event loop cannot continue.
type EventFatal struct {
	Error string `json:"error"`
}

func (ev *EventFatal) Type() string { return eventFatal }
func (ev *EventFatal) event()       {}
