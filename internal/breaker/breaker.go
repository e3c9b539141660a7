// Package breaker implements the per-provider circuit breaker that gates
// whether a provider may currently be attempted.
//
// Each provider has an independent three-state machine (CLOSED, OPEN,
// HALF_OPEN). The breaker is the only state shared across concurrent
// requests; every read and transition on one provider's state is applied
// under that provider's own mutex.
package breaker

import (
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Status is the breaker state for one provider.
type Status string

const (
	StatusClosed   Status = "CLOSED"
	StatusOpen     Status = "OPEN"
	StatusHalfOpen Status = "HALF_OPEN"
)

// State is an observability snapshot of one provider's breaker.
type State struct {
	Status              Status     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	ProbeInFlight       bool       `json:"probe_in_flight"`
}

// Config holds the breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// a CLOSED breaker to OPEN.
	FailureThreshold int

	// OpenDuration is the cooldown before an OPEN breaker grants a probe.
	OpenDuration time.Duration

	// HalfOpenMaxProbes bounds concurrent half-open probes. Defaults to 1.
	HalfOpenMaxProbes int
}

// DefaultConfig returns the production defaults: 5 consecutive failures,
// a 30 second cooldown, and a single concurrent half-open probe.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		OpenDuration:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

type entry struct {
	mu                  sync.Mutex
	status              Status
	consecutiveFailures int
	openedAt            time.Time
	probesInFlight      int
}

// Manager tracks a breaker per provider id.
type Manager struct {
	cfg Config
	now func() time.Time // injectable for tests

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewManager creates a breaker manager with the given config.
func NewManager(cfg Config) *Manager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultConfig().OpenDuration
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = DefaultConfig().HalfOpenMaxProbes
	}
	return &Manager{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// SetClock replaces the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) entryFor(providerID string) *entry {
	m.mu.RLock()
	e, ok := m.entries[providerID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[providerID]; ok {
		return e
	}
	e = &entry{status: StatusClosed}
	m.entries[providerID] = e
	return e
}

// Allow reports whether the provider may be attempted right now.
// It must be consulted before every attempt.
//
// While OPEN, the first caller observed after the cooldown wins the single
// half-open probe slot; concurrent callers in that window are told the
// breaker is still closed to traffic (fails toward "not allowed").
func (m *Manager) Allow(providerID string) bool {
	e := m.entryFor(providerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status {
	case StatusClosed:
		return true

	case StatusOpen:
		if m.now().Sub(e.openedAt) < m.cfg.OpenDuration {
			return false
		}
		// Cooldown elapsed: transition to HALF_OPEN and grant this caller
		// a probe slot.
		e.status = StatusHalfOpen
		e.probesInFlight = 1
		m.observeTransition(providerID, StatusHalfOpen)
		return true

	case StatusHalfOpen:
		if e.probesInFlight < m.cfg.HalfOpenMaxProbes {
			e.probesInFlight++
			return true
		}
		// All probe slots are occupied; everyone else waits.
		return false
	}
	return false
}

// RecordSuccess marks a completed successful attempt.
// A successful half-open probe closes the breaker. While OPEN, only the
// cooldown and a probe may close it again, so a straggler success from an
// attempt admitted before the trip is ignored.
func (m *Manager) RecordSuccess(providerID string) {
	e := m.entryFor(providerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status {
	case StatusClosed:
		e.consecutiveFailures = 0

	case StatusHalfOpen:
		e.status = StatusClosed
		e.consecutiveFailures = 0
		e.openedAt = time.Time{}
		e.probesInFlight = 0
		log.Info().Str("provider", providerID).Msg("Circuit breaker closed")
		m.observeTransition(providerID, StatusClosed)

	case StatusOpen:
		// A straggler attempt that was admitted before the trip; the
		// cooldown already governs recovery, nothing to do.
	}
}

// RecordFailure marks a completed failed attempt.
// A failed half-open probe re-arms the cooldown; enough consecutive
// failures trip a closed breaker.
func (m *Manager) RecordFailure(providerID string) {
	e := m.entryFor(providerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status {
	case StatusHalfOpen:
		e.status = StatusOpen
		e.openedAt = m.now()
		e.probesInFlight = 0
		log.Warn().Str("provider", providerID).Msg("Circuit breaker probe failed, reopening")
		m.observeTransition(providerID, StatusOpen)

	case StatusClosed:
		e.consecutiveFailures++
		if e.consecutiveFailures >= m.cfg.FailureThreshold {
			e.status = StatusOpen
			e.openedAt = m.now()
			log.Warn().
				Str("provider", providerID).
				Int("consecutive_failures", e.consecutiveFailures).
				Msg("Circuit breaker opened")
			m.observeTransition(providerID, StatusOpen)
		}

	case StatusOpen:
		// A straggler attempt that was admitted before the trip; the
		// cooldown already governs recovery, nothing to do.
	}
}

// Snapshot returns the current state of every tracked breaker.
func (m *Manager) Snapshot() map[string]State {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make(map[string]State, len(ids))
	for _, id := range ids {
		e := m.entryFor(id)
		e.mu.Lock()
		st := State{
			Status:              e.status,
			ConsecutiveFailures: e.consecutiveFailures,
			ProbeInFlight:       e.probesInFlight > 0,
		}
		if !e.openedAt.IsZero() {
			t := e.openedAt
			st.OpenedAt = &t
		}
		e.mu.Unlock()
		out[id] = st
	}
	return out
}

func (m *Manager) observeTransition(providerID string, to Status) {
	metrics.BreakerTransitionsTotal.WithLabelValues(providerID, string(to)).Inc()
	metrics.BreakerState.WithLabelValues(providerID).Set(stateValue(to))
}

func stateValue(s Status) float64 {
	switch s {
	case StatusHalfOpen:
		return 1
	case StatusOpen:
		return 2
	default:
		return 0
	}
}
