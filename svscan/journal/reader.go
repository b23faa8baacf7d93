package journal

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/svscan/svscan"
	"github.com/diamondburned/backwardio"
	"github.com/pkg/errors"
)

var errUnknownEvent = errors.New("unknown event")

// Reader reads journals written by Writer from the bottom up, so the newest
// event comes first.
type Reader struct {
	s *backwardio.Scanner
}

var _ svscan.JournalReader = (*Reader)(nil)

// NewReader creates a new journal reader.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{backwardio.NewScanner(r)}
}

// Read reads a single entry, starting from the end of the file. An EOF error
// is returned if the file has been fully consumed.
func (r *Reader) Read() (svscan.Event, time.Time, error) {
	var line []byte
	var err error

	for {
		line, err = r.s.ReadUntil('\n')
		if err != nil {
			return nil, time.Time{}, err
		}
		if len(line) > 0 {
			break
		}
	}

	var rawEvent struct {
		Time time.Time       `json:"time"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(line, &rawEvent); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "failed to decode JSON")
	}

	event := svscan.NewEvent(rawEvent.Type)
	if event == nil {
		return nil, time.Time{}, errors.Wrapf(errUnknownEvent, "%q", rawEvent.Type)
	}

	if err := json.Unmarshal(rawEvent.Data, event); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "failed to decode event data")
	}

	return event, rawEvent.Time, nil
}

// Tail returns up to n of the newest events in the journal file at path,
// newest first. Lines that fail to decode are skipped.
func Tail(path string, n int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := NewReader(f)
	events := make([]Event, 0, n)

	for len(events) < n {
		ev, t, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ev == nil && isDecodeError(err) {
				continue
			}
			return events, err
		}

		events = append(events, Event{Time: t, Type: ev.Type(), Data: ev})
	}

	return events, nil
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, errUnknownEvent)
}
