package main

import (
	"context"
	"fmt"
	"log"
	"os"
	osexec "os/exec"
	"path/filepath"
	"time"

	"git.unix.lgbt/diamondburned/svscan/svscan"
	"git.unix.lgbt/diamondburned/svscan/svscan/exec"
	"git.unix.lgbt/diamondburned/svscan/svscan/journal"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

var (
	cfg         = svscan.DefaultConfig()
	timeoutMs   = int(cfg.Timeout / time.Millisecond)
	readyFd     = -1
	journalFile string
	journalWait time.Duration
)

func init() {
	pflag.BoolVarP(&cfg.Divert, "divert", "d", cfg.Divert, "hand signals to the programs in the handler directory")
	pflag.IntVarP(&cfg.MaxServices, "max-services", "m", cfg.MaxServices, "maximum number of services")
	pflag.IntVarP(&timeoutMs, "timeout", "t", timeoutMs, "rescan at least every this many milliseconds")
	pflag.IntVarP(&readyFd, "ready-fd", "r", readyFd, "write a newline to this fd once ready, then close it")
	pflag.StringVarP(&cfg.Dir, "dir", "C", cfg.Dir, "scan directory")
	pflag.StringVarP(&cfg.Control, "control", "c", cfg.Control, "control fifo, relative to the scan directory")
	pflag.StringVarP(&journalFile, "journal", "j", journalFile, "journal file path, empty to disable")
	pflag.DurationVar(&journalWait, "journal-wait", journalWait, "wait this long for the journal lock")
	pflag.StringVar(&cfg.Supervisor, "supervisor", cfg.Supervisor, "per-service supervisor program")
	pflag.StringVar(&cfg.Finish, "finish", cfg.Finish, "program executed when stopping")
	pflag.StringVar(&cfg.Crash, "crash", cfg.Crash, "program executed on fatal errors")
	pflag.StringVar(&cfg.Handlers, "handlers", cfg.Handlers, "signal handler directory for --divert")
	pflag.BoolVar(&cfg.Watch, "watch", cfg.Watch, "rescan as soon as the scan directory changes")

	pflag.Usage = func() {
		f := func(f string, v ...interface{}) {
			fmt.Fprintf(os.Stderr, f, v...)
		}

		name := filepath.Base(os.Args[0])

		f("Usage:\n")
		f("  %s [flags]\n", name)
		f("  %s [flags] ctl <command>...\n", name)
		f("  %s [flags] journal [-n count]\n", name)
		f("\n")
		f("Flags:\n")
		pflag.PrintDefaults()
	}

	// Everything after the subcommand belongs to the subcommand.
	pflag.CommandLine.SetInterspersed(false)
}

func main() {
	pflag.Parse()
	cfg.Timeout = time.Duration(timeoutMs) * time.Millisecond

	var err error
	switch pflag.Arg(0) {
	case "ctl":
		err = ctl(pflag.Args()[1:])
	case "journal":
		err = printJournal(pflag.Args()[1:])
	case "":
		err = start()
	default:
		log.Fatalf("unknown subcommand %q\n", pflag.Arg(0))
	}

	if err != nil {
		log.Fatalln(err)
	}
}

// controlPath returns the control fifo path as seen from outside the scan
// directory.
func controlPath() string {
	if filepath.IsAbs(cfg.Control) {
		return cfg.Control
	}
	return filepath.Join(cfg.Dir, cfg.Control)
}

func ctl(args []string) error {
	if len(args) == 0 {
		return errors.New("missing commands")
	}

	cmds := make([]svscan.Command, len(args))
	for i, arg := range args {
		cmd, ok := svscan.CommandFromName(arg)
		if !ok {
			return errors.Errorf("unknown command %q", arg)
		}
		cmds[i] = cmd
	}

	return svscan.SendCommands(controlPath(), cmds...)
}

func printJournal(args []string) error {
	if journalFile == "" {
		return errors.New("missing -j path to journal file")
	}

	flags := pflag.NewFlagSet("journal", pflag.ExitOnError)
	n := flags.IntP("count", "n", 20, "number of events to print")
	flags.Parse(args)

	events, err := journal.Tail(journalFile, *n)
	if err != nil {
		return errors.Wrap(err, "failed to read journal")
	}

	for _, ev := range events {
		fmt.Print(journal.FormatHuman(ev.Time, ev.Data))
	}

	return nil
}

func start() error {
	// Bad flags are reported here. Only failures after this point go to the
	// crash program.
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid flags")
	}

	sys := exec.OS{}

	var journaler svscan.Journaler = journal.NewHumanWriter(os.Stderr)

	if journalFile != "" {
		j, err := openJournal()
		if err != nil {
			if errors.Is(err, journal.ErrLockedElsewhere) {
				return errors.New("svscan is already running")
			}
			return errors.Wrap(err, "failed to acquire journal lock")
		}
		defer j.Close()

		journaler = journal.MultiWriter(j, journaler)
	}

	// Resolved now, since the supervisor is started from within the scan
	// directory.
	if path, err := osexec.LookPath(cfg.Supervisor); err == nil {
		if abs, err := filepath.Abs(path); err == nil {
			cfg.Supervisor = abs
		}
	} else {
		journaler.Write(&svscan.EventWarning{
			Component: "main",
			Error:     err.Error(),
		})
	}

	// From here on, failing means exec'ing the crash program, never exiting.
	if err := os.Chdir(cfg.Dir); err != nil {
		svscan.Crash(sys, journaler, cfg.Crash, errors.Wrap(err, "failed to enter scan directory"))
		select {}
	}
	cfg.Dir = "."

	if err := exec.SetSubreaper(); err != nil {
		journaler.Write(&svscan.EventWarning{
			Component: "main",
			Error:     "not a subreaper: " + err.Error(),
		})
	}

	l, err := svscan.NewLoop(cfg, sys, journaler)
	if err != nil {
		svscan.Crash(sys, journaler, cfg.Crash, err)
		select {}
	}

	if readyFd >= 0 {
		unix.Write(readyFd, []byte("\n"))
		unix.Close(readyFd)
	}

	l.Run()

	// Only reachable if exec'ing returned success, which it cannot.
	select {}
}

func openJournal() (*journal.FileLockJournaler, error) {
	if journalWait <= 0 {
		return journal.NewFileLockJournaler(journalFile)
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalWait)
	defer cancel()

	return journal.NewFileLockJournalerWait(ctx, journalFile)
}
