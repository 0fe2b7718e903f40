// Package session implements the focus-lock lifecycle:
// Idle -> Locked -> Paused <-> Locked -> Ended -> Idle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle position of a focus session.
type State string

const (
	StateIdle   State = "idle"
	StateLocked State = "locked"
	StatePaused State = "paused"
	StateEnded  State = "ended"
)

var (
	// ErrInvalidTransition means the command does not apply in the current state.
	// Callers treat it as a no-op.
	ErrInvalidTransition = errors.New("session: not applicable in current state")
	// ErrInvalidDuration is returned by Start for a non-positive duration.
	ErrInvalidDuration = errors.New("session: duration must be positive")
	// ErrCredentialRejected means the pause secret did not verify.
	ErrCredentialRejected = errors.New("session: credential rejected")
)

// EndReason says how a session reached Ended.
type EndReason string

const (
	EndExpired EndReason = "expired"
	EndManual  EndReason = "ended"
)

// Snapshot is a copy of the machine's state at one point in time.
type Snapshot struct {
	ID           string
	Identity     string
	State        State
	Remaining    int
	Total        int
	StartedAt    time.Time
	EndedAt      time.Time
	EndReason    EndReason
	PausePending bool
}

// Elapsed is the number of seconds spent Locked so far.
func (s Snapshot) Elapsed() int { return s.Total - s.Remaining }

// Verifier checks the secret guarding a pause.
type Verifier interface {
	Verify(ctx context.Context, identity, secret string) (bool, error)
}

// EndFunc observes a session reaching Ended. It runs once per session,
// outside the machine's lock.
type EndFunc func(Snapshot)

// Machine serializes all session commands and ticks behind one mutex,
// so they apply in arrival order.
type Machine struct {
	mu sync.Mutex

	identity string
	verifier Verifier
	now      func() time.Time
	log      *zap.Logger

	id           string
	state        State
	remaining    int
	total        int
	startedAt    time.Time
	endedAt      time.Time
	endReason    EndReason
	pausePending bool

	onEnd []EndFunc
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// New returns an Idle machine for identity.
func New(identity string, verifier Verifier, opts ...Option) *Machine {
	m := &Machine{
		identity: identity,
		verifier: verifier,
		now:      time.Now,
		log:      zap.NewNop(),
		state:    StateIdle,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnEnd registers fn to run when a session ends.
func (m *Machine) OnEnd(fn EndFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = append(m.onEnd, fn)
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Start locks a new session of totalSeconds. Valid only from Idle.
func (m *Machine) Start(totalSeconds int) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return m.snapshotLocked(), ErrInvalidTransition
	}
	if totalSeconds <= 0 {
		return m.snapshotLocked(), ErrInvalidDuration
	}
	m.id = uuid.NewString()
	m.total = totalSeconds
	m.remaining = totalSeconds
	m.startedAt = m.now()
	m.endedAt = time.Time{}
	m.endReason = ""
	m.state = StateLocked
	m.log.Info("session locked", zap.String("session", m.id), zap.Int("seconds", totalSeconds))
	return m.snapshotLocked(), nil
}

// Tick consumes one second. Ticks outside Locked are ignored and report
// ErrInvalidTransition; the clock source is allowed to race with pauses.
func (m *Machine) Tick() (Snapshot, error) {
	m.mu.Lock()
	if m.state != StateLocked {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrInvalidTransition
	}
	m.remaining--
	if m.remaining > 0 {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, nil
	}
	m.remaining = 0
	snap, hooks := m.endLocked(EndExpired)
	m.mu.Unlock()

	m.fire(hooks, snap)
	return snap, nil
}

// RequestPause verifies secret and, on success, moves Locked -> Paused.
// While verification runs the session stays Locked and keeps ticking.
func (m *Machine) RequestPause(ctx context.Context, secret string) (Snapshot, error) {
	m.mu.Lock()
	if m.state != StateLocked || m.pausePending {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrInvalidTransition
	}
	m.pausePending = true
	id, identity, verifier := m.id, m.identity, m.verifier
	m.mu.Unlock()

	ok, verr := false, error(nil)
	if verifier != nil {
		ok, verr = verifier.Verify(ctx, identity, secret)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == id {
		m.pausePending = false
	}
	// the session may have expired or been ended while we waited
	if m.id != id || m.state != StateLocked {
		return m.snapshotLocked(), ErrInvalidTransition
	}
	if verr != nil {
		m.log.Warn("pause verification failed", zap.String("session", id), zap.Error(verr))
		return m.snapshotLocked(), errors.Wrap(ErrCredentialRejected, verr.Error())
	}
	if !ok {
		m.log.Info("pause rejected", zap.String("session", id))
		return m.snapshotLocked(), ErrCredentialRejected
	}
	m.state = StatePaused
	m.log.Info("session paused", zap.String("session", id), zap.Int("remaining", m.remaining))
	return m.snapshotLocked(), nil
}

// Resume moves Paused -> Locked. Resuming is never guarded.
func (m *Machine) Resume() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return m.snapshotLocked(), ErrInvalidTransition
	}
	m.state = StateLocked
	m.log.Info("session resumed", zap.String("session", m.id), zap.Int("remaining", m.remaining))
	return m.snapshotLocked(), nil
}

// End finishes a Locked or Paused session early.
func (m *Machine) End() (Snapshot, error) {
	m.mu.Lock()
	if m.state != StateLocked && m.state != StatePaused {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrInvalidTransition
	}
	snap, hooks := m.endLocked(EndManual)
	m.mu.Unlock()

	m.fire(hooks, snap)
	return snap, nil
}

// Reset returns an Ended machine to Idle, discarding the countdown.
func (m *Machine) Reset() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateEnded {
		return m.snapshotLocked(), ErrInvalidTransition
	}
	m.id = ""
	m.state = StateIdle
	m.remaining = 0
	m.total = 0
	m.startedAt = time.Time{}
	m.endedAt = time.Time{}
	m.endReason = ""
	return m.snapshotLocked(), nil
}

func (m *Machine) endLocked(reason EndReason) (Snapshot, []EndFunc) {
	m.state = StateEnded
	m.pausePending = false
	m.endedAt = m.now()
	m.endReason = reason
	m.log.Info("session ended",
		zap.String("session", m.id),
		zap.String("reason", string(reason)),
		zap.Int("remaining", m.remaining))
	hooks := make([]EndFunc, len(m.onEnd))
	copy(hooks, m.onEnd)
	return m.snapshotLocked(), hooks
}

func (m *Machine) fire(hooks []EndFunc, snap Snapshot) {
	for _, fn := range hooks {
		fn(snap)
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		ID:           m.id,
		Identity:     m.identity,
		State:        m.state,
		Remaining:    m.remaining,
		Total:        m.total,
		StartedAt:    m.startedAt,
		EndedAt:      m.endedAt,
		EndReason:    m.endReason,
		PausePending: m.pausePending,
	}
}
