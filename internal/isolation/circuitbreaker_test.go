package isolation

import (
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(5, 60*time.Second)
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil in closed state", err)
	}
	state, count := cb.Snapshot()
	if state != StateClosed || count != 0 {
		t.Errorf("Snapshot = (%v, %d), want (closed, 0)", state, count)
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 60*time.Second)
	cb.OnFailure()
	cb.OnFailure()
	if state, _ := cb.Snapshot(); state != StateClosed {
		t.Fatalf("state = %v after 2 failures, want still closed", state)
	}
	cb.OnFailure()

	state, _ := cb.Snapshot()
	if state != StateOpen {
		t.Errorf("state = %v after 3 failures, want open", state)
	}
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_OnTripFires(t *testing.T) {
	cb := NewCircuitBreaker(1, 60*time.Second)
	tripped := false
	cb.OnTrip(func() { tripped = true })
	cb.OnFailure()

	if !tripped {
		t.Error("expected OnTrip callback to fire when the breaker trips")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 60*time.Second)
	cb.OnFailure()
	cb.OnFailure()
	cb.OnSuccess()
	cb.OnFailure()
	cb.OnFailure()

	if state, _ := cb.Snapshot(); state != StateClosed {
		t.Errorf("state = %v, want closed (count should have reset after success)", state)
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.OnFailure()
	if state, _ := cb.Snapshot(); state != StateOpen {
		t.Fatalf("state = %v, want open", state)
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after cooldown = %v, want nil (half-open probe)", err)
	}
	if state, _ := cb.Snapshot(); state != StateHalfOpen {
		t.Errorf("state = %v, want half_open", state)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopensImmediately(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.OnFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow() // transition to half-open

	cb.OnFailure()
	state, _ := cb.Snapshot()
	if state != StateOpen {
		t.Errorf("state = %v, want open (single half-open failure reopens)", state)
	}
}

func TestCircuitBreaker_HalfOpenAdmitsOnlyOneConcurrentProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.OnFailure()
	time.Sleep(20 * time.Millisecond)

	const callers = 20
	admitted := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if cb.Allow() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d concurrent probes, want exactly 1", admitted)
	}
}

func TestNewCircuitBreaker_AppliesDefaults(t *testing.T) {
	cb := NewCircuitBreaker(0, 0)
	if cb.failureThreshold != 5 {
		t.Errorf("failureThreshold = %d, want default 5", cb.failureThreshold)
	}
	if cb.cooldown != 60*time.Second {
		t.Errorf("cooldown = %v, want default 60s", cb.cooldown)
	}
}

func TestNewBreakers_CreatesAllFour(t *testing.T) {
	b := NewBreakers()
	if b.Chat == nil || b.Search == nil || b.Doc == nil || b.Graph == nil {
		t.Fatal("expected all four breakers to be initialized")
	}
}
