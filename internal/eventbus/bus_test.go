package eventbus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestPublishSubscribe verifies a registered subscription receives a
// published event.
func TestPublishSubscribe(t *testing.T) {
	reg := NewRegistry(8)
	defer reg.Close()

	sub := reg.Register()
	if sub == nil {
		t.Fatal("Register returned nil")
	}

	reg.Publish(Event{Type: TypeAttendanceMarked, StudentName: "Asha"})

	select {
	case evt := <-sub.C():
		if evt.Type != TypeAttendanceMarked {
			t.Errorf("expected %q, got %q", TypeAttendanceMarked, evt.Type)
		}
		if evt.StudentName != "Asha" {
			t.Errorf("expected student Asha, got %q", evt.StudentName)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

// TestFanOutCompleteness verifies every active subscription at publish
// time receives the event, and a late subscription does not.
func TestFanOutCompleteness(t *testing.T) {
	reg := NewRegistry(8)
	defer reg.Close()

	const k = 5
	subs := make([]*Subscription, k)
	for i := range subs {
		subs[i] = reg.Register()
	}

	reg.Publish(Event{Type: TypeStudentRegistered})

	late := reg.Register()

	for i, sub := range subs {
		select {
		case <-sub.C():
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed the event", i)
		}
	}

	select {
	case evt := <-late.C():
		t.Fatalf("late subscriber received event %v", evt)
	default:
	}
}

// TestNonBlockingPublish verifies that a subscriber with a full buffer
// never stalls the publisher.
func TestNonBlockingPublish(t *testing.T) {
	reg := NewRegistry(1)
	defer reg.Close()

	sub := reg.Register()

	done := make(chan struct{})
	go func() {
		reg.Publish(Event{Details: "first"})  // fills the buffer
		reg.Publish(Event{Details: "second"}) // must drop, not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked on a full subscriber")
	}

	evt := <-sub.C()
	if evt.Details != "first" {
		t.Errorf("expected first event retained, got %q", evt.Details)
	}
	if got := reg.Snapshot().Dropped; got != 1 {
		t.Errorf("expected 1 dropped, got %d", got)
	}
}

// TestPerSubscriberOrdering verifies events arrive in publish order.
func TestPerSubscriberOrdering(t *testing.T) {
	reg := NewRegistry(16)
	defer reg.Close()

	sub := reg.Register()
	for i := 0; i < 10; i++ {
		reg.Publish(Event{Details: fmt.Sprintf("%d", i)})
	}

	for i := 0; i < 10; i++ {
		select {
		case evt := <-sub.C():
			if want := fmt.Sprintf("%d", i); evt.Details != want {
				t.Fatalf("event %d out of order: got %q", i, evt.Details)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

// TestUnregister verifies cleanup: no delivery after unregister, active
// count drops, and double unregister is a no-op.
func TestUnregister(t *testing.T) {
	reg := NewRegistry(8)
	defer reg.Close()

	sub := reg.Register()
	other := reg.Register()
	if got := reg.Active(); got != 2 {
		t.Fatalf("expected 2 active, got %d", got)
	}

	reg.Unregister(sub)
	if got := reg.Active(); got != 1 {
		t.Fatalf("expected 1 active after unregister, got %d", got)
	}
	reg.Unregister(sub) // idempotent
	reg.Unregister(nil)

	reg.Publish(Event{Type: TypeAttendanceMarked})

	if _, open := <-sub.C(); open {
		t.Error("unregistered subscription received an event")
	}
	select {
	case <-other.C():
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber missed the event")
	}
}

// TestConcurrentChurn exercises registration, unregistration and
// publishing from many goroutines at once.
func TestConcurrentChurn(t *testing.T) {
	reg := NewRegistry(4)
	defer reg.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := reg.Register()
				reg.Publish(Event{Details: "churn"})
				reg.Unregister(sub)
			}
		}()
	}
	wg.Wait()

	if got := reg.Active(); got != 0 {
		t.Errorf("expected 0 active after churn, got %d", got)
	}
	if snap := reg.Snapshot(); snap.Published != 800 {
		t.Errorf("expected 800 published, got %d", snap.Published)
	}
}

// Testclose verifies Close drains the registry and later operations are
// safe no-ops.
func TestClose(t *testing.T) {
	reg := NewRegistry(8)
	sub := reg.Register()

	reg.Close()
	reg.Close() // idempotent

	if _, open := <-sub.C(); open {
		t.Error("subscription channel not closed on registry close")
	}
	if got := reg.Register(); got != nil {
		t.Error("Register succeeded on closed registry")
	}
	reg.Publish(Event{}) // must not panic
}
