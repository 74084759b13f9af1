// lockctl drives lockers directly against the shared lockgate database, the
// same way the lock hardware and the server see it.  It runs its own lock
// machine, so an unlock from lockctl writes the command and the audit record
// itself.
//
// Usage:
//
//	lockctl [--db PATH] <command> [flags]
//
// Commands: register, unlock, state, history, watch, settings.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/lockgate/internal/config"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"register", "create an account", runRegister},
	{"unlock", "unlock a locker and wait for it to relock", runUnlock},
	{"state", "show a locker's stored command and last opening", runState},
	{"history", "list unlock history, newest first", runHistory},
	{"watch", "follow the unlock history until interrupted", runWatch},
	{"settings", "show or change your profile settings", runSettings},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("lockctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the shared lockgate database")
	verbose := flagSet.BoolP("verbose", "v", false, "log store and machine activity to stderr")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return pflag.ErrHelp
	}

	for _, c := range commands {
		if c.name != rest[0] {
			continue
		}
		a, err := openApp(ctx, cfg, stdout, stderr, *verbose)
		if err != nil {
			return err
		}
		defer a.Close()
		return c.run(ctx, a, rest[1:])
	}
	printUsage(stderr, flagSet)
	return fmt.Errorf("unknown command %q", rest[0])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: lockctl [flags] <command> [command flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", flagSet.FlagUsages())
}
