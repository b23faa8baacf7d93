package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/svscan/svscan"
	"github.com/pkg/errors"
)

// Event describes the JSON structure of an event to be written.
type Event struct {
	Time time.Time    `json:"time"`
	Type string       `json:"type"`
	Data svscan.Event `json:"data"`
}

// Writer is a simple journaler that writes line-delimited JSON events into the
// writer.
type Writer struct{ w io.Writer }

var _ svscan.Journaler = Writer{}

// NewWriter creates a new journal writer.
func NewWriter(w io.Writer) Writer {
	return Writer{w}
}

// Write writes the given event into the writer. Each event is written with a
// single Write call, so writes to an O_APPEND file are atomic.
func (l Writer) Write(ev svscan.Event) error {
	evJSON := Event{
		Time: time.Now(),
		Type: ev.Type(),
		Data: ev,
	}

	buf := bytes.Buffer{}
	buf.Grow(512)

	// Encode terminates the line with a new line.
	if err := json.NewEncoder(&buf).Encode(evJSON); err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	_, err := l.w.Write(buf.Bytes())
	if err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}

// HumanWriter writes events as plain lines meant to be read by a person, such
// as on the console.
type HumanWriter struct {
	mutex sync.Mutex
	w     io.Writer
	now   func() time.Time
}

var _ svscan.Journaler = (*HumanWriter)(nil)

// NewHumanWriter creates a new human-readable journal writer.
func NewHumanWriter(w io.Writer) *HumanWriter {
	return &HumanWriter{w: w, now: time.Now}
}

// Write writes the event as a single line.
func (h *HumanWriter) Write(ev svscan.Event) error {
	line := FormatHuman(h.now(), ev)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, err := io.WriteString(h.w, line); err != nil {
		return errors.Wrap(err, "failed to write event")
	}
	return nil
}

// FormatHuman formats an event the way HumanWriter writes it, including the
// trailing new line.
func FormatHuman(t time.Time, ev svscan.Event) string {
	var msg string

	switch ev := ev.(type) {
	case *svscan.EventWarning:
		msg = fmt.Sprintf("warning: %s: %s", ev.Component, ev.Error)
	case *svscan.EventServiceAdded:
		msg = fmt.Sprintf("added %s (log: %t)", ev.Name, ev.HasLog)
	case *svscan.EventServiceRemoved:
		msg = fmt.Sprintf("removed %s", ev.Name)
	case *svscan.EventProcessSpawned:
		msg = fmt.Sprintf("started %s, pid %d", ev.Name, ev.PID)
	case *svscan.EventProcessSpawnError:
		msg = fmt.Sprintf("cannot start %s: %s", ev.Name, ev.Reason)
	case *svscan.EventProcessExited:
		name := ev.Name
		if name == "" {
			name = "unknown"
		}
		if ev.Signal != "" {
			msg = fmt.Sprintf("%s (pid %d) killed by %s", name, ev.PID, ev.Signal)
		} else {
			msg = fmt.Sprintf("%s (pid %d) exited with %d", name, ev.PID, ev.ExitCode)
		}
	case *svscan.EventProcessSignaled:
		msg = fmt.Sprintf("sent %s to %s (pid %d)", ev.Signal, ev.Name, ev.PID)
	case *svscan.EventSignal:
		msg = "received " + ev.Signal
		if ev.Handler != "" {
			msg += ", running " + ev.Handler
		}
	case *svscan.EventControl:
		msg = "control: " + ev.Command
	case *svscan.EventStopping:
		msg = fmt.Sprintf("stopping for %s, kill mode %s", ev.Reason, ev.KillMode)
		if ev.Abort {
			msg += " (abort)"
		}
	case *svscan.EventFinish:
		msg = fmt.Sprintf("executing %q", ev.Argv)
	case *svscan.EventFatal:
		msg = "fatal: " + ev.Error
	default:
		msg = ev.Type()
	}

	return t.Format("2006-01-02 15:04:05.000") + " svscan: " + msg + "\n"
}
