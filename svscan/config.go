package svscan

import (
	"time"

	"github.com/pkg/errors"
)

// RestartBackoff is the minimum time between a process exiting and it being
// started again.
var RestartBackoff = time.Second

// SpawnRetryDelay is the time to wait before retrying a service whose
// supervisor failed to start.
var SpawnRetryDelay = 5 * time.Second

// ScanRetryDelay is the time to wait before rescanning after the scan root
// could not be fully read.
var ScanRetryDelay = 5 * time.Second

// TerminalRetryDelay is the time to wait between rounds of exec attempts when
// neither the finish nor the crash program could be executed.
var TerminalRetryDelay = 5 * time.Second

// Config is the configuration of the event loop.
type Config struct {
	// Dir is the scan root.
	Dir string
	// Supervisor is the path to the per-service supervisor program.
	Supervisor string
	// Finish is the program executed on a normal stop, with the finish reason
	// as its only argument.
	Finish string
	// Crash is the program executed when the loop fails.
	Crash string
	// Control is the path to the control fifo. It is created if missing.
	Control string
	// Handlers is the directory holding per-signal handler programs used in
	// diverted mode.
	Handlers string
	// MaxServices bounds the number of tracked services.
	MaxServices int
	// Timeout is the longest the loop sleeps before rescanning.
	Timeout time.Duration
	// Divert hands most signals to handler programs instead of acting on them.
	Divert bool
	// Watch makes changes in the scan root trigger an immediate rescan.
	Watch bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Dir:         ".",
		Supervisor:  "supervise",
		Finish:      "/etc/svscan/finish",
		Crash:       "/etc/svscan/crash",
		Control:     ".control",
		Handlers:    "/etc/svscan/signals",
		MaxServices: 1000,
		Timeout:     5 * time.Second,
		Watch:       true,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.New("missing scan directory")
	case c.Supervisor == "":
		return errors.New("missing supervisor program")
	case c.Finish == "":
		return errors.New("missing finish program")
	case c.Crash == "":
		return errors.New("missing crash program")
	case c.Control == "":
		return errors.New("missing control fifo")
	case c.MaxServices < 1:
		return errors.Errorf("invalid max services %d", c.MaxServices)
	case c.Timeout <= 0:
		return errors.Errorf("invalid timeout %v", c.Timeout)
	case c.Divert && c.Handlers == "":
		return errors.New("diverted mode needs a handler directory")
	}
	return nil
}
