// Package breaker implements the per-provider circuit breaker: a
// consecutive-failure threshold with exponential cooldown and a lazily
// observed half-open transition, plus an independent rate-limit cooldown.
// Grounded on the teacher's llm/circuitbreaker.breaker state-machine shape
// (closed/open/half_open, sync.RWMutex-guarded, OnStateChange callback) but
// retargeted at the exact transition and cooldown rules below: the
// teacher's version uses a flat threshold and fixed reset timeout with no
// exponential backoff and transitions eagerly inside the call path, never
// from a standalone state read; this one makes GetState itself perform the
// lazy open->half_open transition, with no call required to observe it.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	FailureThreshold   = 3
	CooldownBase       = 2 * time.Minute
	CooldownMax        = 10 * time.Minute
	CooldownMultiplier = 1.5
)

// Now is the time source; overridable in tests.
var Now = time.Now

// breakerState is the mutable state for one provider.
type breakerState struct {
	state              State
	consecutiveFailure int
	circuitOpenedAt    time.Time
	cooldownUntil      time.Time // circuit-driven cooldown
	rateLimitUntil     time.Time // independent rate-limit cooldown
}

// Breaker tracks circuit-breaker state for every provider it has seen,
// creating state lazily on first use (closed, no cooldown).
type Breaker struct {
	mu            sync.Mutex
	providers     map[string]*breakerState
	logger        *zap.Logger
	onStateChange func(providerID string, from, to State)
}

// New creates an empty Breaker. logger may be nil (defaults to a no-op
// logger, matching the teacher's constructor convention).
func New(logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		providers: make(map[string]*breakerState),
		logger:    logger,
	}
}

// OnStateChange registers a callback invoked whenever the circuit state
// transitions (not invoked for rate-limit cooldown changes alone).
func (b *Breaker) OnStateChange(fn func(providerID string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

func (b *Breaker) stateFor(providerID string) *breakerState {
	s, ok := b.providers[providerID]
	if !ok {
		s = &breakerState{state: StateClosed}
		b.providers[providerID] = s
	}
	return s
}

// lazyTransitionLocked performs the open->half_open transition if the
// circuit-driven cooldown has elapsed. Caller must hold b.mu.
func (b *Breaker) lazyTransitionLocked(providerID string, s *breakerState) {
	if s.state == StateOpen && !Now().Before(s.cooldownUntil) {
		b.setStateLocked(providerID, s, StateHalfOpen)
	}
}

func (b *Breaker) setStateLocked(providerID string, s *breakerState, to State) {
	from := s.state
	s.state = to
	if from != to && b.onStateChange != nil {
		cb := b.onStateChange
		go cb(providerID, from, to)
	}
}

// GetState returns the provider's current circuit state, performing and
// persisting the lazy open->half_open transition if due.
func (b *Breaker) GetState(providerID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(providerID)
	b.lazyTransitionLocked(providerID, s)
	return s.state
}

// CanAttempt reports whether a request to providerID may be admitted: the
// circuit must not be open (after the lazy transition), and no rate-limit
// cooldown may be active.
func (b *Breaker) CanAttempt(providerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(providerID)
	b.lazyTransitionLocked(providerID, s)
	if s.state == StateOpen {
		return false
	}
	if Now().Before(s.rateLimitUntil) {
		return false
	}
	return true
}

// RecordSuccess clears the consecutive-failure counter and, if half-open,
// closes the circuit.
func (b *Breaker) RecordSuccess(providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(providerID)
	b.lazyTransitionLocked(providerID, s)
	s.consecutiveFailure = 0
	if s.state == StateHalfOpen {
		b.setStateLocked(providerID, s, StateClosed)
		s.circuitOpenedAt = time.Time{}
		s.cooldownUntil = time.Time{}
	}
}

// RecordFailure increments the consecutive-failure counter. If in
// half-open, any failure reopens the circuit immediately (using the
// accumulated failure count for the cooldown formula). If closed, the
// circuit opens once the counter reaches FailureThreshold, with an
// exponentially scaled cooldown capped at CooldownMax.
func (b *Breaker) RecordFailure(providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(providerID)
	b.lazyTransitionLocked(providerID, s)

	s.consecutiveFailure++

	switch s.state {
	case StateHalfOpen:
		b.openLocked(providerID, s)
	case StateClosed:
		if s.consecutiveFailure >= FailureThreshold {
			b.openLocked(providerID, s)
		}
	case StateOpen:
		// already open; cooldown was set when it opened.
	}
}

func (b *Breaker) openLocked(providerID string, s *breakerState) {
	now := Now()
	cooldown := cooldownFor(s.consecutiveFailure)
	s.cooldownUntil = now.Add(cooldown)
	s.circuitOpenedAt = now
	b.setStateLocked(providerID, s, StateOpen)
}

// cooldownFor computes min(COOLDOWN_BASE * MULTIPLIER^(failures-THRESHOLD), COOLDOWN_MAX).
func cooldownFor(failures int) time.Duration {
	exponent := failures - FailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	cooldown := float64(CooldownBase)
	for i := 0; i < exponent; i++ {
		cooldown *= CooldownMultiplier
	}
	d := time.Duration(cooldown)
	if d > CooldownMax {
		d = CooldownMax
	}
	return d
}

// ApplyRateLimitCooldown sets an independent cooldown that blocks admission
// regardless of circuit state, value = min(retryAfter ?? COOLDOWN_BASE,
// COOLDOWN_MAX).
func (b *Breaker) ApplyRateLimitCooldown(providerID string, retryAfter *time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(providerID)

	cooldown := CooldownBase
	if retryAfter != nil {
		cooldown = *retryAfter
	}
	if cooldown > CooldownMax {
		cooldown = CooldownMax
	}
	s.rateLimitUntil = Now().Add(cooldown)
}

// Reset clears consecutive failures, forces the circuit closed, and clears
// both cooldowns. Operator action.
func (b *Breaker) Reset(providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(providerID)
	s.consecutiveFailure = 0
	s.circuitOpenedAt = time.Time{}
	s.cooldownUntil = time.Time{}
	s.rateLimitUntil = time.Time{}
	b.setStateLocked(providerID, s, StateClosed)
}

// CircuitOpenedAt returns when the circuit last opened, or the zero value.
func (b *Breaker) CircuitOpenedAt(providerID string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(providerID).circuitOpenedAt
}

// CooldownUntil returns the circuit-driven cooldown deadline, or the zero value.
func (b *Breaker) CooldownUntil(providerID string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(providerID).cooldownUntil
}
