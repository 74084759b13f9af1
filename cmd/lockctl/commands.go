package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/service"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet("lockctl "+name, pflag.ContinueOnError)
}

type credentialFlags struct {
	email    string
	password string
	token    string
}

func (c *credentialFlags) add(fs *pflag.FlagSet) {
	fs.StringVarP(&c.email, "email", "e", "", "account email")
	fs.StringVarP(&c.password, "password", "p", "", "account password")
}

// addToken lets a command sign in with a bearer token from the HTTP API
// instead of a password.
func (c *credentialFlags) addToken(fs *pflag.FlagSet) {
	fs.StringVar(&c.token, "token", "", "bearer token issued by lockgate-server")
}

func (c credentialFlags) given() bool {
	return c.email != "" || c.token != ""
}

func (a *app) signIn(ctx context.Context, c credentialFlags) error {
	if c.token != "" {
		id, err := service.NewTokenIssuer([]byte(a.cfg.TokenSecret), a.cfg.TokenTTL).Verify(c.token)
		if err != nil {
			return fmt.Errorf("--token: %w", err)
		}
		a.session.Adopt(id)
		a.printf("signed in as %s\n", id.Email)
		return nil
	}
	if c.email == "" {
		return fmt.Errorf("--email or --token is required")
	}
	id, err := a.session.SignIn(ctx, c.email, c.password)
	if err != nil {
		return errors.New(service.UserMessage(err, err.Error()))
	}
	a.printf("signed in as %s\n", id.Email)
	return nil
}

// ── register ─────────────────────────────────────────────────────────────────

func runRegister(ctx context.Context, a *app, args []string) error {
	var (
		creds credentialFlags
		name  string
	)
	fs := newFlagSet("register")
	creds.add(fs)
	fs.StringVarP(&name, "name", "n", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := a.creds.Register(ctx, creds.email, creds.password, name)
	if err != nil {
		if errors.Is(err, service.ErrAuthFailed) {
			return errors.New(service.UserMessage(err, err.Error()))
		}
		if id.UID == "" {
			return err
		}
		a.logger.Printf("register: %v", err)
	}
	a.printf("registered %s (uid %s)\n", id.Email, id.UID)
	return nil
}

// ── unlock ───────────────────────────────────────────────────────────────────

func runUnlock(ctx context.Context, a *app, args []string) error {
	var (
		creds   credentialFlags
		locker  string
		method  string
		timeout time.Duration
	)
	fs := newFlagSet("unlock")
	creds.add(fs)
	creds.addToken(fs)
	fs.StringVarP(&locker, "locker", "l", a.cfg.Lockers[0], "locker id")
	fs.StringVarP(&method, "method", "m", string(types.MethodRemote), "unlock method: remote or nfc")
	fs.DurationVar(&timeout, "timeout", 0, "give up waiting for relock after this long (default: both dwell times plus 10s)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, ok := types.ParseUnlockMethod(method)
	if !ok {
		return fmt.Errorf("%w %q", service.ErrInvalidMethod, method)
	}
	if creds.given() {
		if err := a.signIn(ctx, creds); err != nil {
			return err
		}
	}

	cfg := a.machineConfig(locker)
	machine := service.NewMachine(cfg, a.state, a.session, service.AccessPolicy{}, a.logger)
	defer machine.Close()

	// A cycle publishes at most four changes.
	changes := make(chan types.StatusChange, 16)
	cancel := machine.Subscribe(func(c types.StatusChange) {
		select {
		case changes <- c:
		default:
		}
	})
	defer cancel()

	if err := machine.Request(ctx, m); err != nil {
		return fmt.Errorf("unlock %s: %w", locker, err)
	}

	if timeout <= 0 {
		timeout = a.cfg.UnlockDwell + a.cfg.RelockDwell + 10*time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("unlock %s: locker did not relock within %s", locker, timeout)
		case c := <-changes:
			if c.Err != nil {
				a.printf("%s  %-9s  %v\n", c.At.Format(time.TimeOnly), c.Status, c.Err)
			} else {
				a.printf("%s  %-9s  %s %s\n", c.At.Format(time.TimeOnly), c.Status, c.Method.Label(), c.Actor)
			}
			if c.Status != types.StatusLocked {
				continue
			}
			if errors.Is(c.Err, service.ErrResetWrite) {
				return fmt.Errorf("unlock %s: relocked, but the idle command was not written: %w", locker, c.Err)
			}
			return nil
		}
	}
}

// ── state ────────────────────────────────────────────────────────────────────

func runState(ctx context.Context, a *app, args []string) error {
	var locker string
	fs := newFlagSet("state")
	fs.StringVarP(&locker, "locker", "l", "", "locker id (default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	snap, err := a.state.Get(ctx, service.LockersPath)
	if err != nil {
		return fmt.Errorf("read lockers: %w", err)
	}
	lockers := snap.Children()

	ids := make([]string, 0, len(lockers))
	for id := range lockers {
		if locker == "" || id == locker {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		if locker != "" {
			return fmt.Errorf("no stored state for locker %q", locker)
		}
		a.printf("no lockers\n")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCKER\tCOMMAND\tLAST OPEN")
	for _, id := range ids {
		node, _ := lockers[id].(map[string]any)
		cmd, _ := node["open"].(string)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, describeCommand(cmd), describeLastOpen(node["lastOpen"], now))
	}
	return tw.Flush()
}

func describeCommand(cmd string) string {
	switch cmd {
	case types.CommandOpen:
		return "open (1)"
	case types.CommandIdle:
		return "idle (0)"
	case "":
		return "-"
	}
	return strconv.Quote(cmd)
}

func describeLastOpen(v any, now time.Time) string {
	rec, ok := v.(map[string]any)
	if !ok {
		return "never"
	}
	method, _ := rec["method"].(string)
	user, _ := rec["user"].(string)
	ms, ok := store.Int64(rec["timestamp"])
	if !ok {
		return fmt.Sprintf("%s by %s", types.UnlockMethod(method).Label(), user)
	}
	return fmt.Sprintf("%s by %s, %s", types.UnlockMethod(method).Label(), user, types.Age(time.UnixMilli(ms), now))
}

// ── history ──────────────────────────────────────────────────────────────────

func runHistory(ctx context.Context, a *app, args []string) error {
	var (
		limit  int
		locker string
	)
	fs := newFlagSet("history")
	fs.IntVarP(&limit, "limit", "n", 20, "show at most this many entries (0: all)")
	fs.StringVarP(&locker, "locker", "l", "", "only this locker")
	if err := fs.Parse(args); err != nil {
		return err
	}

	view, err := service.NewHistoryReader(a.state, a.logger).Snapshot(ctx)
	if err != nil {
		return err
	}
	printHistory(a, filterHistory(view, locker, limit), time.Now())
	return nil
}

func filterHistory(view types.HistoryView, locker string, limit int) types.HistoryView {
	if locker != "" {
		filtered := make(types.HistoryView, 0, len(view))
		for _, e := range view {
			if e.LockerID == locker {
				filtered = append(filtered, e)
			}
		}
		view = filtered
	}
	if limit > 0 && limit < len(view) {
		view = view[:limit]
	}
	return view
}

func printHistory(a *app, view types.HistoryView, now time.Time) {
	if len(view) == 0 {
		a.printf("no unlock history\n")
		return
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tMETHOD\tUSER\tLOCKER")
	for _, e := range view {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", types.Age(e.Timestamp, now), e.Method.Label(), e.Actor, e.LockerID)
	}
	_ = tw.Flush()
}

// ── watch ────────────────────────────────────────────────────────────────────

func runWatch(ctx context.Context, a *app, args []string) error {
	var limit int
	fs := newFlagSet("watch")
	fs.IntVarP(&limit, "limit", "n", 5, "entries to show on each change (0: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.state.WatchExternal(ctx, a.cfg.ExternalPollInterval, a.logger)

	views := make(chan types.HistoryView, 1)
	sub := service.NewHistoryReader(a.state, a.logger).Subscribe(func(v types.HistoryView) {
		select {
		case <-views:
		default:
		}
		views <- v
	})
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-views:
			now := time.Now()
			a.printf("── %s  %d entries\n", now.Format(time.TimeOnly), len(v))
			printHistory(a, filterHistory(v, "", limit), now)
		}
	}
}

// ── settings ─────────────────────────────────────────────────────────────────

func runSettings(ctx context.Context, a *app, args []string) error {
	var (
		creds credentialFlags
		sets  []string
	)
	fs := newFlagSet("settings")
	creds.add(fs)
	creds.addToken(fs)
	fs.StringArrayVar(&sets, "set", nil, "name=true|false; repeatable (notifications, biometricAuth, autoLock)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.signIn(ctx, creds); err != nil {
		return err
	}
	id, _ := a.session.Current()

	profiles := service.NewProfileService(a.state, a.logger)
	for _, s := range sets {
		name, raw, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("--set %q: want name=true|false", s)
		}
		value, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("--set %q: %w", s, err)
		}
		if err := profiles.UpdateSetting(ctx, id.UID, strings.TrimSpace(name), value); err != nil {
			return err
		}
	}

	p, err := profiles.Get(ctx, id.UID)
	if err != nil {
		a.logger.Printf("settings: %v", err)
	}
	a.printf("name:           %s\n", p.Name)
	a.printf("email:          %s\n", id.Email)
	if since := service.MemberSince(p); since != "" {
		a.printf("member since:   %s\n", since)
	}
	a.printf("notifications:  %t\n", p.Settings.Notifications)
	a.printf("biometric auth: %t\n", p.Settings.BiometricAuth)
	a.printf("auto lock:      %t\n", p.Settings.AutoLock)
	return nil
}
