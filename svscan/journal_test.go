package svscan

import (
	"reflect"
	"sync"
	"testing"
)

// mockJournal is an in-memory storage of journals, primarily used for testing.
// A zero-value instance is a valid instance.
type mockJournal struct {
	mutex    sync.Mutex
	journals []Event
}

var _ Journaler = (*mockJournal)(nil)

// Write appends a journal event into the internal store.
func (m *mockJournal) Write(ev Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.journals = append(m.journals, ev)
	return nil
}

// Journals returns a copy of the journal slice.
func (m *mockJournal) Journals() []Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]Event(nil), m.journals...)
}

// Of returns every stored event of the given type.
func (m *mockJournal) Of(typ string) []Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var events []Event
	for _, ev := range m.journals {
		if ev.Type() == typ {
			events = append(events, ev)
		}
	}
	return events
}

// Warnings returns every stored warning as "component: error".
func (m *mockJournal) Warnings() []string {
	var warnings []string
	for _, ev := range m.Of(eventWarning) {
		ev := ev.(*EventWarning)
		warnings = append(warnings, ev.Component+": "+ev.Error)
	}
	return warnings
}

// Reset forgets every stored event.
func (m *mockJournal) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.journals = nil
}

// Verify verifies that the given journals slice is equal to the one stored
// internally. If strict is true, then a length check is performed, otherwise,
// the unmatched events are returned.
//
// Consecutive calls to Verify will match the remaining unmatched events.
func (m *mockJournal) Verify(t *testing.T, strict bool, journals []Event) []Event {
	t.Helper()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if strict && len(journals) != len(m.journals) {
		t.Errorf("mismatch journal length, got %d, expected %d", len(m.journals), len(journals))
		return nil
	}

	if len(journals) > len(m.journals) {
		t.Errorf("expected %d journals, only got %d", len(journals), len(m.journals))
		return nil
	}

	for i, ev := range journals {
		if !reflect.DeepEqual(m.journals[i], ev) {
			t.Errorf("journal %d mismatch, got %#v, expected %#v", i, m.journals[i], ev)
		}
	}

	m.journals = m.journals[len(journals):]
	return m.journals
}
