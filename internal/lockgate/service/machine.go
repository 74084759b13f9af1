package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

const tracerName = "github.com/BrandonDHaskell/lockgate/internal/lockgate/service"

// Store layout.
const (
	OpeningsPath = "openings"
	LockersPath  = "lockers"
	UsersPath    = "users"
)

// Field names of an openings/{id} record.
const (
	fieldMethod    = "method"
	fieldUser      = "user"
	fieldLocker    = "locker"
	fieldTimestamp = "timestamp"
)

const (
	DefaultUnlockDwell    = 2 * time.Second
	DefaultRelockDwell    = 3 * time.Second
	DefaultProximityLabel = "nfc-token"
	DefaultWriteTimeout   = 10 * time.Second
)

// IdentitySource supplies the identity used by Machine.Request.
type IdentitySource interface {
	Current() (types.Identity, bool)
}

// MachineConfig holds the parameters for NewMachine.  Zero fields take the
// Default* values.
type MachineConfig struct {
	LockerID string

	// UnlockDwell is the time between the accepted open command and the
	// Unlocked state.
	UnlockDwell time.Duration
	// RelockDwell is how long the lock stays Unlocked before the idle
	// command is written.
	RelockDwell time.Duration

	// ProximityLabel is recorded as the actor of proximity-token unlocks.
	ProximityLabel string

	// WriteTimeout bounds store writes made from scheduled transitions.
	WriteTimeout time.Duration

	Scheduler Scheduler
	Now       func() time.Time
}

func (c MachineConfig) withDefaults() MachineConfig {
	if c.UnlockDwell <= 0 {
		c.UnlockDwell = DefaultUnlockDwell
	}
	if c.RelockDwell <= 0 {
		c.RelockDwell = DefaultRelockDwell
	}
	if c.ProximityLabel == "" {
		c.ProximityLabel = DefaultProximityLabel
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Scheduler == nil {
		c.Scheduler = WallScheduler
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Machine drives one lock through Locked -> Unlocking -> Unlocked -> Locked.
//
// The status field under mu is the only request gate: a request is accepted
// only while Locked, and everything after the open command runs on scheduler
// timers.  Observers are called in transition order on a dedicated goroutine,
// never with mu held, so they may call back into the machine.
type Machine struct {
	cfg      MachineConfig
	store    store.StateStore
	identity IdentitySource
	policy   AccessPolicy
	logger   *log.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	status   types.LockStatus
	method   types.UnlockMethod
	actor    string
	diverged bool
	cycle    uint64
	pending  Timer
	closed   bool

	observers    map[int]func(types.StatusChange)
	nextObserver int
	queue        []delivery
	kick         chan struct{}
	quit         chan struct{}
}

type delivery struct {
	change types.StatusChange
	fns    []func(types.StatusChange)
}

func NewMachine(cfg MachineConfig, st store.StateStore, identity IdentitySource, policy AccessPolicy, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Machine{
		cfg:       cfg.withDefaults(),
		store:     st,
		identity:  identity,
		policy:    policy,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		status:    types.StatusLocked,
		observers: make(map[int]func(types.StatusChange)),
		kick:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	go m.dispatch()
	return m
}

func (m *Machine) LockerID() string { return m.cfg.LockerID }

func (m *Machine) commandPath() string {
	return store.Join(LockersPath, m.cfg.LockerID, "open")
}

func (m *Machine) lastOpenPath() string {
	return store.Join(LockersPath, m.cfg.LockerID, "lastOpen")
}

// Request asks for an unlock on behalf of the identity source's current
// identity.
func (m *Machine) Request(ctx context.Context, method types.UnlockMethod) error {
	var id *types.Identity
	if m.identity != nil {
		if cur, ok := m.identity.Current(); ok {
			id = &cur
		}
	}
	return m.RequestAs(ctx, method, id)
}

// RequestAs asks for an unlock with an explicit identity (nil for none).
//
// It returns once the open command has been acknowledged by the store, or
// with ErrClosed, ErrBusy, ErrPolicyDenied or ErrStoreWrite.  The remaining
// transitions happen on the scheduler.
func (m *Machine) RequestAs(ctx context.Context, method types.UnlockMethod, identity *types.Identity) error {
	ctx, span := m.tracer.Start(ctx, "lock.request", trace.WithAttributes(
		attribute.String("locker.id", m.cfg.LockerID),
		attribute.String("unlock.method", string(method)),
	))
	defer span.End()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.status != types.StatusLocked {
		m.mu.Unlock()
		span.SetStatus(codes.Error, "busy")
		return ErrBusy
	}
	decision := m.policy.Decide(method, identity != nil)
	if !decision.Allowed {
		m.mu.Unlock()
		span.SetStatus(codes.Error, decision.Reason)
		if decision.Reason == ReasonBadMethod {
			return fmt.Errorf("%w: %w %q", ErrPolicyDenied, ErrInvalidMethod, method)
		}
		return fmt.Errorf("%w: %s", ErrPolicyDenied, decision.Reason)
	}

	m.cycle++
	cycle := m.cycle
	m.status = types.StatusUnlocking
	m.method = method
	m.actor = m.actorFor(method, identity)
	m.publishLocked(nil)
	m.mu.Unlock()

	if err := m.store.Set(ctx, m.commandPath(), types.CommandOpen); err != nil {
		werr := fmt.Errorf("%w: open command: %w", ErrStoreWrite, err)
		span.RecordError(werr)
		span.SetStatus(codes.Error, "open command write failed")

		m.mu.Lock()
		if !m.closed && m.cycle == cycle {
			m.toLockedLocked()
			m.publishLocked(werr)
		}
		m.mu.Unlock()
		m.logger.Printf("locker %s: %v", m.cfg.LockerID, werr)
		return werr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.cycle != cycle {
		return ErrClosed
	}
	m.pending = m.cfg.Scheduler.AfterFunc(m.cfg.UnlockDwell, func() { m.unlocked(cycle) })
	return nil
}

func (m *Machine) actorFor(method types.UnlockMethod, identity *types.Identity) string {
	if method == types.MethodProximityToken {
		return m.cfg.ProximityLabel
	}
	if identity != nil {
		return identity.Email
	}
	return ""
}

// unlocked runs UnlockDwell after the open command was acknowledged.
func (m *Machine) unlocked(cycle uint64) {
	m.mu.Lock()
	if m.closed || m.cycle != cycle || m.status != types.StatusUnlocking {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.status = types.StatusUnlocked
	method, actor := m.method, m.actor
	m.publishLocked(nil)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "lock.record_opening", trace.WithAttributes(
		attribute.String("locker.id", m.cfg.LockerID),
	))
	defer span.End()

	if err := m.recordOpening(ctx, method, actor); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit write failed")
		m.logger.Printf("locker %s: %v", m.cfg.LockerID, err)

		m.mu.Lock()
		if !m.closed && m.cycle == cycle {
			m.publishLocked(err)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.cycle != cycle {
		return
	}
	m.pending = m.cfg.Scheduler.AfterFunc(m.cfg.RelockDwell, func() { m.relock(cycle) })
}

func (m *Machine) recordOpening(ctx context.Context, method types.UnlockMethod, actor string) error {
	ts := m.cfg.Now().UTC().UnixMilli()

	_, err := m.store.Push(ctx, OpeningsPath, map[string]any{
		fieldMethod:    string(method),
		fieldUser:      actor,
		fieldLocker:    m.cfg.LockerID,
		fieldTimestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("%w: audit event: %w", ErrStoreWrite, err)
	}

	// lastOpen is a convenience mirror; the openings entry is the record.
	if err := m.store.Set(ctx, m.lastOpenPath(), map[string]any{
		fieldMethod:    string(method),
		fieldUser:      actor,
		fieldTimestamp: ts,
	}); err != nil {
		m.logger.Printf("locker %s: lastOpen write: %v", m.cfg.LockerID, err)
	}
	return nil
}

// relock runs RelockDwell after Unlocked.
func (m *Machine) relock(cycle uint64) {
	m.mu.Lock()
	if m.closed || m.cycle != cycle || m.status != types.StatusUnlocked {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "lock.relock", trace.WithAttributes(
		attribute.String("locker.id", m.cfg.LockerID),
	))
	defer span.End()

	err := m.store.Set(ctx, m.commandPath(), types.CommandIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.cycle != cycle {
		return
	}
	m.toLockedLocked()

	var rerr error
	if err != nil {
		rerr = fmt.Errorf("%w: %w", ErrResetWrite, err)
		m.diverged = true
		span.RecordError(rerr)
		span.SetStatus(codes.Error, "reset command write failed")
		m.logger.Printf("locker %s: %v (store may still hold %q)", m.cfg.LockerID, rerr, types.CommandOpen)
	} else {
		m.diverged = false
	}
	m.publishLocked(rerr)
}

func (m *Machine) toLockedLocked() {
	m.status = types.StatusLocked
	m.method = ""
	m.actor = ""
}

// MarkDiverged flags the machine as out of step with the stored command and
// reports it to observers.  The flag clears on the next successful reset.
func (m *Machine) MarkDiverged(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.diverged = true
	m.publishLocked(fmt.Errorf("%w: %s", ErrDiverged, reason))
}

func (m *Machine) Status() types.LockStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) State() types.LockerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.LockerState{
		LockerID: m.cfg.LockerID,
		Status:   m.status,
		Method:   m.method,
		Diverged: m.diverged,
	}
}

// Subscribe registers fn for every subsequent StatusChange.  The returned
// func removes it.
func (m *Machine) Subscribe(fn func(types.StatusChange)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}
	}
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// Close cancels any pending transition and drops observers.  Later requests
// return ErrClosed.  The store is left as it is.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.observers = nil
	m.queue = nil
	m.mu.Unlock()
	close(m.quit)
}

// publishLocked queues the current state for observers.  Callers hold mu.
func (m *Machine) publishLocked(err error) {
	if len(m.observers) == 0 {
		return
	}
	fns := make([]func(types.StatusChange), 0, len(m.observers))
	for i := 0; i < m.nextObserver; i++ {
		if fn, ok := m.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.queue = append(m.queue, delivery{
		change: types.StatusChange{
			LockerID: m.cfg.LockerID,
			Status:   m.status,
			Method:   m.method,
			Actor:    m.actor,
			Err:      err,
			Diverged: m.diverged,
			At:       m.cfg.Now().UTC(),
		},
		fns: fns,
	})
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Machine) dispatch() {
	for {
		select {
		case <-m.quit:
			return
		case <-m.kick:
		}

		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, d := range batch {
			for _, fn := range d.fns {
				fn(d.change)
			}
		}
	}
}
