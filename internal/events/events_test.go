package events

import (
	"log/slog"
	"os"
	"testing"
)

func testEmitter() *Emitter {
	return NewEmitter("run-1", slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestEmitCallsAllHandlers(t *testing.T) {
	e := testEmitter()
	var calls [2]int
	e.OnEvent(func(Event) { calls[0]++ })
	e.OnEvent(func(Event) { calls[1]++ })
	e.Emit(Event{Type: "test", Target: "db"})
	if calls[0] != 1 || calls[1] != 1 {
		t.Errorf("expected both handlers called once, got %v", calls)
	}
}

func TestEmitCorrectFields(t *testing.T) {
	e := testEmitter()
	var got Event
	e.OnEvent(func(ev Event) { got = ev })
	e.Emit(Event{Type: ServicesReady, Target: "db", Fields: map[string]string{"polls": "3"}})
	if got.Type != ServicesReady || got.Target != "db" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.Fields["polls"] != "3" {
		t.Errorf("fields mismatch: %v", got.Fields)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
	if got.RunID != "run-1" {
		t.Errorf("run id = %q, want run-1", got.RunID)
	}
}

func TestRemoveHandler(t *testing.T) {
	e := testEmitter()
	calls := 0
	id := e.OnEvent(func(Event) { calls++ })
	e.RemoveHandler(id)
	e.Emit(Event{Type: "test"})
	if calls != 0 {
		t.Errorf("removed handler called %d times", calls)
	}
}

func TestEmitNoHandlersNoPanic(t *testing.T) {
	e := testEmitter()
	e.Emit(Event{Type: "test"}) // should not panic
}
