package breaker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/modelrelay/modelrelay/internal/breaker"
)

// testClock is a manually advanced clock for deterministic cooldowns.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, threshold int, cooldown time.Duration) (*breaker.Manager, *testClock) {
	t.Helper()
	m := breaker.NewManager(breaker.Config{
		FailureThreshold:  threshold,
		OpenDuration:      cooldown,
		HalfOpenMaxProbes: 1,
	})
	clock := newTestClock()
	m.SetClock(clock.Now)
	return m, clock
}

func TestAllow_UnknownProviderIsClosed(t *testing.T) {
	m, _ := newTestManager(t, 3, 30*time.Second)

	if !m.Allow("openai") {
		t.Error("Allow() = false for a provider with no history, want true")
	}
	if st := m.Snapshot()["openai"]; st.Status != breaker.StatusClosed {
		t.Errorf("Snapshot() status = %q, want %q", st.Status, breaker.StatusClosed)
	}
}

func TestRecordFailure_TripsAtThreshold(t *testing.T) {
	m, _ := newTestManager(t, 3, 30*time.Second)

	m.RecordFailure("openai")
	m.RecordFailure("openai")
	if st := m.Snapshot()["openai"]; st.Status != breaker.StatusClosed {
		t.Fatalf("status after 2 failures = %q, want %q", st.Status, breaker.StatusClosed)
	}

	m.RecordFailure("openai")
	st := m.Snapshot()["openai"]
	if st.Status != breaker.StatusOpen {
		t.Errorf("status after 3 failures = %q, want %q", st.Status, breaker.StatusOpen)
	}
	if st.OpenedAt == nil {
		t.Error("OpenedAt = nil after trip, want timestamp")
	}
	if m.Allow("openai") {
		t.Error("Allow() = true while OPEN inside cooldown, want false")
	}
}

func TestRecordSuccess_ResetsFailureCount(t *testing.T) {
	m, _ := newTestManager(t, 3, 30*time.Second)

	m.RecordFailure("openai")
	m.RecordFailure("openai")
	m.RecordSuccess("openai")
	m.RecordFailure("openai")
	m.RecordFailure("openai")

	if st := m.Snapshot()["openai"]; st.Status != breaker.StatusClosed {
		t.Errorf("status = %q after interleaved success, want %q", st.Status, breaker.StatusClosed)
	}
}

func TestRecordSuccess_StragglerDoesNotCloseOpenBreaker(t *testing.T) {
	m, clock := newTestManager(t, 3, 30*time.Second)

	m.RecordFailure("openai")
	m.RecordFailure("openai")
	m.RecordFailure("openai")
	if m.Allow("openai") {
		t.Fatal("Allow() = true after trip, want false")
	}

	// A slow attempt admitted before the trip finishes successfully; the
	// cooldown still governs recovery.
	m.RecordSuccess("openai")

	if st := m.Snapshot()["openai"]; st.Status != breaker.StatusOpen {
		t.Errorf("status after straggler success = %q, want %q", st.Status, breaker.StatusOpen)
	}
	if m.Allow("openai") {
		t.Error("Allow() = true mid-cooldown after straggler success, want false")
	}

	clock.Advance(31 * time.Second)
	if !m.Allow("openai") {
		t.Error("Allow() = false after cooldown, want probe granted")
	}
}

func TestAllow_GrantsSingleProbeAfterCooldown(t *testing.T) {
	m, clock := newTestManager(t, 1, 30*time.Second)

	m.RecordFailure("openai")
	if m.Allow("openai") {
		t.Fatal("Allow() = true immediately after trip, want false")
	}

	clock.Advance(31 * time.Second)

	if !m.Allow("openai") {
		t.Fatal("Allow() = false after cooldown, want a granted probe")
	}
	if st := m.Snapshot()["openai"]; st.Status != breaker.StatusHalfOpen {
		t.Errorf("status after granted probe = %q, want %q", st.Status, breaker.StatusHalfOpen)
	}
	// Second caller must not get a concurrent probe.
	if m.Allow("openai") {
		t.Error("Allow() = true for a second concurrent probe, want false")
	}
}

func TestAllow_ConcurrentProbeRace(t *testing.T) {
	m, clock := newTestManager(t, 1, 30*time.Second)
	m.RecordFailure("openai")
	clock.Advance(31 * time.Second)

	const callers = 32
	granted := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted <- m.Allow("openai")
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for g := range granted {
		if g {
			count++
		}
	}
	if count != 1 {
		t.Errorf("granted probes = %d, want exactly 1", count)
	}
}

func TestHalfOpen_ProbeSuccessCloses(t *testing.T) {
	m, clock := newTestManager(t, 1, 30*time.Second)
	m.RecordFailure("openai")
	clock.Advance(31 * time.Second)

	if !m.Allow("openai") {
		t.Fatal("Allow() = false, want probe granted")
	}
	m.RecordSuccess("openai")

	st := m.Snapshot()["openai"]
	if st.Status != breaker.StatusClosed {
		t.Errorf("status after probe success = %q, want %q", st.Status, breaker.StatusClosed)
	}
	if st.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after close, want 0", st.ConsecutiveFailures)
	}
	if !m.Allow("openai") {
		t.Error("Allow() = false after close, want true")
	}
}

func TestHalfOpen_ProbeFailureReopens(t *testing.T) {
	m, clock := newTestManager(t, 1, 30*time.Second)
	m.RecordFailure("openai")
	clock.Advance(31 * time.Second)

	if !m.Allow("openai") {
		t.Fatal("Allow() = false, want probe granted")
	}
	m.RecordFailure("openai")

	if st := m.Snapshot()["openai"]; st.Status != breaker.StatusOpen {
		t.Errorf("status after probe failure = %q, want %q", st.Status, breaker.StatusOpen)
	}
	// Cooldown restarts: no probe right away.
	if m.Allow("openai") {
		t.Error("Allow() = true immediately after reopen, want false")
	}
	// But a full new cooldown grants one again.
	clock.Advance(31 * time.Second)
	if !m.Allow("openai") {
		t.Error("Allow() = false after second cooldown, want probe granted")
	}
}

func TestBreakers_AreIndependentPerProvider(t *testing.T) {
	m, _ := newTestManager(t, 1, 30*time.Second)

	m.RecordFailure("openai")
	if m.Allow("openai") {
		t.Error("Allow(openai) = true after trip, want false")
	}
	if !m.Allow("anthropic") {
		t.Error("Allow(anthropic) = false, want true: breakers must be independent")
	}
}

func TestSnapshot_ReflectsProbeInFlight(t *testing.T) {
	m, clock := newTestManager(t, 1, 30*time.Second)
	m.RecordFailure("openai")
	clock.Advance(31 * time.Second)
	m.Allow("openai")

	st := m.Snapshot()["openai"]
	if !st.ProbeInFlight {
		t.Error("ProbeInFlight = false while a probe is granted, want true")
	}
}
