package svscan

import (
	"fmt"
	"time"
)

// Journaler describes an event logger. Implementations must be safe to use
// concurrently, since the directory watcher writes from its own goroutine.
type Journaler interface {
	Write(Event) error
}

// JournalReader describes a journal that can be read back, newest event first.
type JournalReader interface {
	Read() (Event, time.Time, error)
}

// discardJournaler drops every event.
type discardJournaler struct{}

// DiscardJournaler is a Journaler that writes nowhere.
var DiscardJournaler Journaler = discardJournaler{}

func (discardJournaler) Write(Event) error { return nil }

func warn(j Journaler, component string, f string, v ...interface{}) {
	j.Write(&EventWarning{
		Component: component,
		Error:     fmt.Sprintf(f, v...),
	})
}
