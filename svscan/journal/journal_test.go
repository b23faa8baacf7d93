package journal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/svscan/svscan"
	"github.com/stretchr/testify/require"
)

func TestFileLockJournaler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.json")

	j, err := NewFileLockJournaler(path)
	require.NoError(t, err)

	_, err = NewFileLockJournaler(path)
	require.ErrorIs(t, err, ErrLockedElsewhere)

	events := []svscan.Event{
		&svscan.EventServiceAdded{Name: "svc", HasLog: true},
		&svscan.EventProcessSpawned{Name: "svc/log", PID: 10},
		&svscan.EventProcessSpawned{Name: "svc", PID: 11},
		&svscan.EventProcessExited{Name: "svc", PID: 11, ExitCode: -1, Signal: "SIGTERM"},
	}
	for _, ev := range events {
		require.NoError(t, j.Write(ev))
	}

	require.NoError(t, j.Close())

	t.Run("relock", func(t *testing.T) {
		j, err := NewFileLockJournaler(path)
		require.NoError(t, err)
		require.NoError(t, j.Close())
	})

	t.Run("tail", func(t *testing.T) {
		got, err := Tail(path, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)

		// Newest first. The relock above appended an EventAcquired.
		require.Equal(t, &svscan.EventAcquired{}, got[0].Data)
		require.Equal(t, events[3], got[1].Data)
		require.Equal(t, events[2], got[2].Data)
	})

	t.Run("read all", func(t *testing.T) {
		got, err := Tail(path, 100)
		require.NoError(t, err)
		// Two acquisitions plus the written events.
		require.Len(t, got, len(events)+2)
		require.Equal(t, &svscan.EventAcquired{}, got[len(got)-1].Data)
	})
}

func TestFileLockJournalerWait(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	held, err := NewFileLockJournaler(path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = NewFileLockJournalerWait(ctx, path)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	time.AfterFunc(50*time.Millisecond, func() { held.Close() })

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := NewFileLockJournalerWait(ctx, path)
	require.NoError(t, err)
	require.NoError(t, j.Close())
}

func TestTailSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(&svscan.EventControl{Command: "rescan"}))
	buf.WriteString("{not json\n")
	buf.WriteString(`{"time":"2021-01-01T00:00:00Z","type":"bogus","data":{}}` + "\n")
	require.NoError(t, w.Write(&svscan.EventFatal{Error: "poll failed"}))

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))

	got, err := Tail(path, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, &svscan.EventFatal{Error: "poll failed"}, got[0].Data)
	require.Equal(t, &svscan.EventControl{Command: "rescan"}, got[1].Data)
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer

	w := MultiWriter(NewWriter(&a), NewWriter(&b))
	require.NoError(t, w.Write(&svscan.EventServiceRemoved{Name: "svc"}))

	require.Equal(t, a.String(), b.String())
	require.Contains(t, a.String(), `"type":"service removed"`)
	require.True(t, strings.HasSuffix(a.String(), "}\n"))
}

func TestHumanWriter(t *testing.T) {
	var buf bytes.Buffer

	h := NewHumanWriter(&buf)
	h.now = func() time.Time { return time.Date(2021, 4, 13, 5, 35, 0, 0, time.UTC) }

	require.NoError(t, h.Write(&svscan.EventProcessExited{Name: "svc/log", PID: 42, ExitCode: 1}))
	require.NoError(t, h.Write(&svscan.EventProcessExited{PID: 43, ExitCode: -1, Signal: "SIGKILL"}))
	require.NoError(t, h.Write(&svscan.EventWarning{Component: "control", Error: "ignoring unknown command byte 'z'"}))

	require.Equal(t, ""+
		"2021-04-13 05:35:00.000 svscan: svc/log (pid 42) exited with 1\n"+
		"2021-04-13 05:35:00.000 svscan: unknown (pid 43) killed by SIGKILL\n"+
		"2021-04-13 05:35:00.000 svscan: warning: control: ignoring unknown command byte 'z'\n",
		buf.String())
}
