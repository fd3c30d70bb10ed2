package fallback

import (
	"sync"
	"time"
)

// CircuitState is the per-provider breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// breaker tracks one provider. cooldown doubles on each re-open, capped.
type breaker struct {
	state        CircuitState
	consecFails  int
	lastFailure  time.Time
	cooldown     time.Duration
	deadline     time.Time
	probeClaimed bool
}

// CircuitTable is the single process-wide piece of cross-conversation
// mutable state. Every read-modify-write happens under one mutex so
// simultaneous failures from many conversations never lose updates.
type CircuitTable struct {
	mu           sync.Mutex
	byProvider   map[string]*breaker
	threshold    int
	baseCooldown time.Duration
	maxCooldown  time.Duration
	now          func() time.Time
	onTransition func(provider string, state CircuitState)
}

// NewCircuitTable opens a breaker after threshold consecutive failures.
// onTransition, when set, observes every state change (telemetry).
func NewCircuitTable(threshold int, baseCooldown, maxCooldown time.Duration, onTransition func(string, CircuitState)) *CircuitTable {
	if threshold <= 0 {
		threshold = 5
	}
	if baseCooldown <= 0 {
		baseCooldown = 60 * time.Second
	}
	if maxCooldown < baseCooldown {
		maxCooldown = 16 * baseCooldown
	}
	return &CircuitTable{
		byProvider:   make(map[string]*breaker),
		threshold:    threshold,
		baseCooldown: baseCooldown,
		maxCooldown:  maxCooldown,
		now:          time.Now,
		onTransition: onTransition,
	}
}

func (t *CircuitTable) get(provider string) *breaker {
	b, ok := t.byProvider[provider]
	if !ok {
		b = &breaker{state: CircuitClosed, cooldown: t.baseCooldown}
		t.byProvider[provider] = b
	}
	return b
}

func (t *CircuitTable) transition(provider string, b *breaker, to CircuitState) {
	if b.state == to {
		return
	}
	b.state = to
	if t.onTransition != nil {
		t.onTransition(provider, to)
	}
}

// Allow reports whether a call to provider may proceed. An open breaker
// whose cooldown elapsed moves to half-open and admits exactly one probe;
// further callers are refused until the probe reports back.
func (t *CircuitTable) Allow(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.get(provider)
	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if t.now().Before(b.deadline) {
			return false
		}
		t.transition(provider, b, CircuitHalfOpen)
		b.probeClaimed = true
		return true
	case CircuitHalfOpen:
		if b.probeClaimed {
			return false
		}
		b.probeClaimed = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and resets its failure accounting.
func (t *CircuitTable) RecordSuccess(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.get(provider)
	b.consecFails = 0
	b.probeClaimed = false
	b.cooldown = t.baseCooldown
	t.transition(provider, b, CircuitClosed)
}

// RecordFailure advances the failure count. A half-open probe failure
// reopens immediately with a doubled cooldown; a closed breaker opens once
// the consecutive-failure threshold is hit.
func (t *CircuitTable) RecordFailure(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.get(provider)
	b.consecFails++
	b.lastFailure = t.now()

	switch b.state {
	case CircuitHalfOpen:
		b.cooldown *= 2
		if b.cooldown > t.maxCooldown {
			b.cooldown = t.maxCooldown
		}
		b.probeClaimed = false
		b.deadline = t.now().Add(b.cooldown)
		t.transition(provider, b, CircuitOpen)
	case CircuitClosed:
		if b.consecFails >= t.threshold {
			b.deadline = t.now().Add(b.cooldown)
			t.transition(provider, b, CircuitOpen)
		}
	}
}

// State returns the provider's current circuit state.
func (t *CircuitTable) State(provider string) CircuitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(provider).state
}
