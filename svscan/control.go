package svscan

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Command is a command read from the control fifo. Each byte written to the
// fifo is decoded into exactly one Command.
type Command uint8

const (
	CommandUnknown   Command = iota
	CommandPoweroff          // p: finish with "poweroff"
	CommandHalt              // h: finish with "halt"
	CommandReboot            // r: finish with "reboot"
	CommandOther             // o: finish with "other"
	CommandTerminate         // t: stop, sending SIGTERM to every service
	CommandKill              // k: stop, sending SIGKILL to every service
	CommandRescan            // s: scan now
	CommandReap              // c: reap now
	CommandHandoff           // x: stop without signaling any service
	CommandAbort             // a: stop right away, skipping the shutdown
)

var commandBytes = map[byte]Command{
	'p': CommandPoweroff,
	'h': CommandHalt,
	'r': CommandReboot,
	'o': CommandOther,
	't': CommandTerminate,
	'k': CommandKill,
	's': CommandRescan,
	'c': CommandReap,
	'x': CommandHandoff,
	'a': CommandAbort,
}

var commandNames = [...]string{
	CommandUnknown:   "unknown",
	CommandPoweroff:  "poweroff",
	CommandHalt:      "halt",
	CommandReboot:    "reboot",
	CommandOther:     "other",
	CommandTerminate: "terminate",
	CommandKill:      "kill",
	CommandRescan:    "rescan",
	CommandReap:      "reap",
	CommandHandoff:   "handoff",
	CommandAbort:     "abort",
}

// ParseCommand decodes a control byte. Unknown bytes decode to CommandUnknown.
func ParseCommand(b byte) Command {
	return commandBytes[b]
}

// String returns the name of the command.
func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return commandNames[CommandUnknown]
}

// Byte returns the control byte of the command, or 0 for CommandUnknown.
func (c Command) Byte() byte {
	for b, cmd := range commandBytes {
		if cmd == c {
			return b
		}
	}
	return 0
}

// CommandFromName returns the command with the given name, as returned by
// String.
func CommandFromName(name string) (Command, bool) {
	for c, n := range commandNames {
		if n == name && Command(c) != CommandUnknown {
			return Command(c), true
		}
	}
	return CommandUnknown, false
}

// Control is the reading end of the control fifo.
type Control struct {
	path string
	fd   int
}

// OpenControl opens the control fifo at path, creating it if it does not exist.
// The fifo is opened for both reading and writing, so that it never reports
// end-of-file once writers go away.
func OpenControl(path string) (*Control, error) {
	if err := unix.Mkfifo(path, 0600); err != nil && err != unix.EEXIST {
		return nil, errors.Wrapf(err, "failed to create fifo %q", path)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open fifo %q", path)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "failed to stat fifo")
	}
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		unix.Close(fd)
		return nil, errors.Errorf("%q is not a fifo", path)
	}

	return &Control{path: path, fd: fd}, nil
}

// Fd returns the descriptor to poll for readability.
func (c *Control) Fd() int { return c.fd }

// Drain reads every pending byte and calls fn with each decoded command.
// Whitespace is skipped, so that `echo t > fifo` works.
func (c *Control) Drain(fn func(Command, byte)) error {
	var buf [64]byte

	for {
		n, err := unix.Read(c.fd, buf[:])
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return nil
		default:
			return errors.Wrapf(err, "failed to read control fifo %q", c.path)
		}

		if n == 0 {
			return nil
		}

		for _, b := range buf[:n] {
			switch b {
			case ' ', '\t', '\r', '\n':
				continue
			}
			fn(ParseCommand(b), b)
		}
	}
}

// Close closes the fifo. The fifo itself is left on the filesystem.
func (c *Control) Close() error {
	return unix.Close(c.fd)
}

// ErrNotRunning is returned by SendCommands if nothing is reading the control
// fifo.
var ErrNotRunning = errors.New("svscan is not reading the control fifo")

// SendCommands writes the given commands into the control fifo at path.
func SendCommands(path string, cmds ...Command) error {
	buf := make([]byte, 0, len(cmds))
	for _, cmd := range cmds {
		b := cmd.Byte()
		if b == 0 {
			return errors.Errorf("cannot send command %v", cmd)
		}
		buf = append(buf, b)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return ErrNotRunning
		}
		return errors.Wrap(err, "failed to open control fifo")
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write control fifo")
	}

	return nil
}
