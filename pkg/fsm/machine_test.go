package fsm

import (
	"fmt"
	"testing"
	"time"
)

func TestStateMachine_Deadlock(t *testing.T) {
	sm := New(State("initial"))

	sm.AddTransition(State("initial"), State("intermediate"), Event("first"), func(event Event, args ...interface{}) error {
		return sm.Fire(Event("second"))
	})

	sm.AddTransition(State("intermediate"), State("final"), Event("second"), nil)

	done := make(chan bool)
	go func() {
		err := sm.Fire(Event("first"))
		if err != nil {
			t.Errorf("Fire failed: %v", err)
		}
		done <- true
	}()

	select {
	case <-done:
		if sm.Current() != State("final") {
			t.Errorf("Expected state final, got %s", sm.Current())
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Deadlock detected: Fire did not return within 1 second")
	}
}

func TestStateMachine_Basic(t *testing.T) {
	sm := New(State("off"))
	sm.AddTransition(State("off"), State("on"), Event("push"), nil)

	if sm.Current() != State("off") {
		t.Errorf("Expected off, got %s", sm.Current())
	}
	if !sm.Can(Event("push")) || sm.Can(Event("pull")) {
		t.Error("Can does not reflect the transition table")
	}

	err := sm.Fire(Event("push"))
	if err != nil {
		t.Fatal(err)
	}

	if !sm.Is(State("standby"), State("on")) {
		t.Errorf("Expected on, got %s", sm.Current())
	}
}

func TestStateMachine_InvalidTransition(t *testing.T) {
	sm := New(State("start"))
	err := sm.Fire(Event("unknown"))
	if err == nil {
		t.Fatal("Expected error for unknown event")
	}
	if sm.Current() != State("start") {
		t.Errorf("invalid transition must not change state, got %s", sm.Current())
	}
}

func TestStateMachine_HandlerError(t *testing.T) {
	sm := New(State("A"))
	sm.AddTransition(State("A"), State("B"), Event("go"), func(event Event, args ...interface{}) error {
		return fmt.Errorf("handler failed")
	})

	err := sm.Fire(Event("go"))
	if err == nil || err.Error() != "handler failed" {
		t.Fatalf("Expected handler failed error, got %v", err)
	}

	if sm.Current() != State("B") {
		t.Errorf("Expected state B even if handler failed, got %s", sm.Current())
	}
}

func TestStateMachine_StateConsistencyInHandler(t *testing.T) {
	sm := New(State("A"))
	var stateInHandler State
	sm.AddTransition(State("A"), State("B"), Event("go"), func(event Event, args ...interface{}) error {
		stateInHandler = sm.Current()
		return nil
	})

	sm.Fire(Event("go"))
	if stateInHandler != State("B") {
		t.Errorf("Expected handler to see state B, saw %s", stateInHandler)
	}
}

func TestStateMachine_Observe(t *testing.T) {
	sm := New(State("A"))
	sm.AddTransition(State("A"), State("B"), Event("go"), nil)
	sm.AddTransition(State("B"), State("A"), Event("back"), nil)

	var seen []string
	sm.Observe(func(from, to State, ev Event) {
		seen = append(seen, fmt.Sprintf("%s-%s->%s", from, ev, to))
	})

	sm.Fire(Event("go"))
	sm.Fire(Event("back"))
	sm.Fire(Event("back")) // invalid, not observed

	if len(seen) != 2 || seen[0] != "A-go->B" || seen[1] != "B-back->A" {
		t.Errorf("unexpected observations %v", seen)
	}
}
