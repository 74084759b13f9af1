package service

import (
	"context"
	"log"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

// CommandWatchdog periodically compares each Locked machine against the
// stored command.  A "1" seen on two consecutive checks while the machine is
// Locked is logged and flags the machine Diverged.  It never writes to the
// store.
//
// An interval of 0 disables the watchdog.
type CommandWatchdog struct {
	gateway  *Gateway
	store    store.StateStore
	interval time.Duration
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	// suspect holds lockers that showed an unexplained "1" on the previous
	// check.  Only touched by the loop goroutine, or by Check when the loop
	// is not running.
	suspect map[string]bool
}

// WatchdogConfig holds the parameters for NewCommandWatchdog.
type WatchdogConfig struct {
	// Interval between checks.  0 disables the watchdog.
	Interval time.Duration
}

// NewCommandWatchdog creates a watchdog but does not start it.
func NewCommandWatchdog(gw *Gateway, st store.StateStore, cfg WatchdogConfig, logger *log.Logger) *CommandWatchdog {
	return &CommandWatchdog{
		gateway:  gw,
		store:    st,
		interval: cfg.Interval,
		logger:   logger,
		done:     make(chan struct{}),
		suspect:  make(map[string]bool),
	}
}

// Start begins the background loop.  It exits when ctx is cancelled or Stop
// is called.
func (w *CommandWatchdog) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Printf("command watchdog disabled (interval=0)")
		close(w.done)
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)

	go w.loop(ctx)

	w.logger.Printf("command watchdog started (interval=%s, lockers=%d)", w.interval, len(w.gateway.IDs()))
}

// Stop signals the watchdog to exit and waits for it to finish.
func (w *CommandWatchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *CommandWatchdog) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check runs one pass over every locker and returns the ids newly flagged as
// diverged.
func (w *CommandWatchdog) Check(ctx context.Context) []string {
	var flagged []string
	for _, id := range w.gateway.IDs() {
		m, err := w.gateway.Locker(id)
		if err != nil {
			continue
		}
		if m.Status() != types.StatusLocked {
			delete(w.suspect, id)
			continue
		}

		snap, err := w.store.Get(ctx, m.commandPath())
		if err != nil {
			w.logger.Printf("command watchdog: locker %s: read: %v", id, err)
			continue
		}
		cmd, _ := snap.String()
		if cmd != types.CommandOpen {
			delete(w.suspect, id)
			continue
		}

		if !w.suspect[id] {
			w.suspect[id] = true
			continue
		}
		delete(w.suspect, id)

		// The machine may have started a cycle between the status check and
		// the read; that "1" is its own.
		if m.Status() != types.StatusLocked {
			continue
		}
		w.logger.Printf("command watchdog: locker %s is locked but command is %q", id, cmd)
		m.MarkDiverged("locked but stored command is open")
		flagged = append(flagged, id)
	}
	return flagged
}
