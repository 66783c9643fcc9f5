package container

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"stackup/internal/events"
)

// fakeEngine records every call and serves scripted log output. logs[key]
// holds the output returned by successive fetches; the last entry repeats.
type fakeEngine struct {
	mu      sync.Mutex
	logs    map[string][]string
	fetches map[string]int
	calls   []string

	startErr  error
	stopErr   error
	removeErr error
	downErr   error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		logs:    make(map[string][]string),
		fetches: make(map[string]int),
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeEngine) next(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.fetches[key]
	f.fetches[key]++
	seq := f.logs[key]
	if len(seq) == 0 {
		return ""
	}
	if n >= len(seq) {
		return seq[len(seq)-1]
	}
	return seq[n]
}

func (f *fakeEngine) StartServices(_ context.Context, services, _ []string) error {
	f.record("up:" + strings.Join(services, ","))
	return f.startErr
}

func (f *fakeEngine) RunContainer(_ context.Context, name, service string, _ []string) error {
	f.record("run:" + name + ":" + service)
	return f.startErr
}

func (f *fakeEngine) ServiceLogs(_ context.Context, service string) (string, error) {
	return f.next(service), nil
}

func (f *fakeEngine) ContainerLogs(_ context.Context, name string) (string, error) {
	return f.next(name), nil
}

func (f *fakeEngine) StopContainer(_ context.Context, name string) error {
	f.record("stop:" + name)
	return f.stopErr
}

func (f *fakeEngine) RemoveContainer(_ context.Context, name string) error {
	f.record("remove:" + name)
	return f.removeErr
}

func (f *fakeEngine) DownServices(_ context.Context) error {
	f.record("down")
	return f.downErr
}

var _ Engine = (*fakeEngine)(nil)

// readyAt returns a log script in which phrase first appears on poll tick.
func readyAt(tick int, phrase string) []string {
	seq := make([]string, tick)
	for i := range seq[:tick-1] {
		seq[i] = "starting up..."
	}
	seq[tick-1] = "2024-01-01 " + phrase + " port: 3306"
	return seq
}

type testRunner struct {
	*Runner
	engine  *fakeEngine
	emitter *events.Emitter
	sleeps  int
	fatals  []error
}

func newTestRunner(t *testing.T) *testRunner {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	emitter := events.NewEmitter("test-run", logger)
	tr := &testRunner{engine: newFakeEngine(), emitter: emitter}
	tr.Runner = NewRunner(tr.engine, RunnerConfig{
		PollInterval: 500 * time.Millisecond,
		Timeout:      20 * time.Second,
		OnFatal:      func(err error) { tr.fatals = append(tr.fatals, err) },
	}, emitter, logger)
	tr.Runner.sleep = func(ctx context.Context, _ time.Duration) error {
		tr.sleeps++
		return ctx.Err()
	}
	return tr
}

func countCalls(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}

func TestRunRejectsContainerNameWithMultipleServices(t *testing.T) {
	tr := newTestRunner(t)
	invoked := false
	_, err := tr.Run(context.Background(), Request{
		Services:      []string{"db", "app"},
		ContainerName: "initdb",
		Phrases:       []string{"ready"},
	}, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if invoked {
		t.Error("action must not run for an invalid request")
	}
	if len(tr.engine.calls) != 0 {
		t.Errorf("expected no engine calls, got %v", tr.engine.calls)
	}
}

func TestRunRejectsInvalidShapes(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"no services", Request{}},
		{"too many phrases", Request{Services: []string{"db"}, Phrases: []string{"a", "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestRunner(t)
			_, err := tr.Run(context.Background(), tt.req, func(context.Context) error { return nil })
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
			if len(tr.engine.calls) != 0 {
				t.Errorf("expected no engine calls, got %v", tr.engine.calls)
			}
		})
	}
}

func TestRunSingleServiceReadyOnFirstPoll(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["db"] = readyAt(1, "ready for connections")

	actions := 0
	out, err := tr.Run(context.Background(), Request{
		Services: []string{"db"},
		Phrases:  []string{"ready for connections"},
	}, func(context.Context) error {
		actions++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Ready || out.Polls != 1 {
		t.Errorf("outcome = %+v, want ready after 1 poll", out)
	}
	if tr.sleeps != 0 {
		t.Errorf("sleeps = %d, want 0", tr.sleeps)
	}
	if actions != 1 {
		t.Errorf("action invoked %d times, want 1", actions)
	}
	want := []string{"up:db", "down"}
	if !reflect.DeepEqual(tr.engine.calls, want) {
		t.Errorf("calls = %v, want %v", tr.engine.calls, want)
	}
}

func TestRunContainerTimeoutStillRunsAction(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["initdb"] = []string{"still initialising"}

	var timeouts int
	tr.emitter.OnEvent(func(ev events.Event) {
		if ev.Type == events.ServicesTimeout {
			timeouts++
		}
	})

	var callsAtAction []string
	out, err := tr.Run(context.Background(), Request{
		Services:      []string{"db"},
		ContainerName: "initdb",
		Phrases:       []string{"MariaDB init process done. Ready for start up."},
	}, func(context.Context) error {
		callsAtAction = append([]string(nil), tr.engine.calls...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Ready {
		t.Error("expected timeout outcome")
	}
	if out.Polls != 40 {
		t.Errorf("polls = %d, want 40", out.Polls)
	}
	if tr.engine.fetches["initdb"] != 40 {
		t.Errorf("log fetches = %d, want 40", tr.engine.fetches["initdb"])
	}
	if tr.sleeps != 39 {
		t.Errorf("sleeps = %d, want 39", tr.sleeps)
	}
	if !reflect.DeepEqual(out.Pending, []string{"db"}) {
		t.Errorf("pending = %v, want [db]", out.Pending)
	}
	if timeouts != 1 {
		t.Errorf("timeout events = %d, want 1", timeouts)
	}
	if !reflect.DeepEqual(callsAtAction, []string{"run:initdb:db"}) {
		t.Errorf("calls before action = %v", callsAtAction)
	}
	want := []string{"run:initdb:db", "stop:initdb", "remove:initdb"}
	if !reflect.DeepEqual(tr.engine.calls, want) {
		t.Errorf("calls = %v, want %v", tr.engine.calls, want)
	}
}

func TestRunStopsPollingReadyServices(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["db"] = readyAt(2, "ready for connections")
	tr.engine.logs["app"] = readyAt(5, "booted")

	out, err := tr.Run(context.Background(), Request{
		Services: []string{"db", "app"},
		Phrases:  []string{"ready for connections", "booted"},
	}, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Ready || out.Polls != 5 {
		t.Errorf("outcome = %+v, want ready after 5 polls", out)
	}
	if got := tr.engine.fetches["db"]; got != 2 {
		t.Errorf("db fetched %d times, want 2", got)
	}
	if got := tr.engine.fetches["app"]; got != 5 {
		t.Errorf("app fetched %d times, want 5", got)
	}
	if out.Waited != 2*time.Second {
		t.Errorf("waited = %v, want 2s", out.Waited)
	}
}

func TestRunFewerPhrasesThanServices(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["db"] = readyAt(3, "mariadb: ready for connections.")

	out, err := tr.Run(context.Background(), Request{
		Services: []string{"db", "app"},
		Phrases:  []string{"mariadb: ready for connections."},
	}, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Ready || out.Polls != 3 {
		t.Errorf("outcome = %+v, want ready after 3 polls", out)
	}
	if tr.engine.fetches["app"] != 0 {
		t.Errorf("app without phrase fetched %d times", tr.engine.fetches["app"])
	}
	if tr.engine.calls[0] != "up:db,app" {
		t.Errorf("start call = %q, want up:db,app", tr.engine.calls[0])
	}
}

func TestRunNetworkOverlapIsFatal(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["db"] = []string{"", "Error response from daemon: cannot create network abc: conflicts with network def"}

	invoked := false
	_, err := tr.Run(context.Background(), Request{
		Services: []string{"db"},
		Phrases:  []string{"ready for connections"},
	}, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrNetworkOverlap) {
		t.Fatalf("err = %v, want ErrNetworkOverlap", err)
	}
	if invoked {
		t.Error("action must not run after a network overlap")
	}
	if len(tr.fatals) != 1 {
		t.Errorf("fatal hook called %d times, want 1", len(tr.fatals))
	}
	if countCalls(tr.engine.calls, "down") != 1 {
		t.Errorf("expected one teardown before the fatal hook, calls = %v", tr.engine.calls)
	}
}

func TestRunNetworkOverlapTearsDownContainer(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["initdb"] = []string{"docker: Error response from daemon: cannot create network 1f2e: Pool overlaps with other one on this address space"}

	var callsAtFatal []string
	tr.Runner.fatal = func(error) {
		callsAtFatal = append([]string(nil), tr.engine.calls...)
	}

	_, err := tr.Run(context.Background(), Request{
		Services:      []string{"db"},
		ContainerName: "initdb",
		Phrases:       []string{"MariaDB init process done. Ready for start up."},
	}, func(context.Context) error {
		t.Error("action must not run after a network overlap")
		return nil
	})
	if !errors.Is(err, ErrNetworkOverlap) {
		t.Fatalf("err = %v, want ErrNetworkOverlap", err)
	}
	want := []string{"run:initdb:db", "stop:initdb", "remove:initdb"}
	if !reflect.DeepEqual(callsAtFatal, want) {
		t.Errorf("calls when fatal hook ran = %v, want %v", callsAtFatal, want)
	}
	if !reflect.DeepEqual(tr.engine.calls, want) {
		t.Errorf("teardown must run once, calls = %v", tr.engine.calls)
	}
}

func TestRunActionErrorPropagatesAfterTeardown(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["db"] = readyAt(1, "ready")
	boom := errors.New("migration failed")

	_, err := tr.Run(context.Background(), Request{
		Services: []string{"db"},
		Phrases:  []string{"ready"},
	}, func(context.Context) error {
		tr.engine.record("action")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	want := []string{"up:db", "action", "down"}
	if !reflect.DeepEqual(tr.engine.calls, want) {
		t.Errorf("calls = %v, want %v", tr.engine.calls, want)
	}
}

func TestRunTeardownOnPanic(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["db"] = readyAt(1, "ready")

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		tr.Run(context.Background(), Request{
			Services: []string{"db"},
			Phrases:  []string{"ready"},
		}, func(context.Context) error {
			panic("action fault")
		})
	}()

	if countCalls(tr.engine.calls, "down") != 1 {
		t.Errorf("expected one teardown after panic, calls = %v", tr.engine.calls)
	}
}

func TestRunTeardownFailureIsSwallowed(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["initdb"] = readyAt(1, "ready")
	tr.engine.stopErr = errors.New("no such container")
	tr.engine.removeErr = errors.New("removal in progress")

	var failures []string
	tr.emitter.OnEvent(func(ev events.Event) {
		if ev.Type == events.TeardownFailed {
			failures = append(failures, ev.Fields["step"])
		}
	})

	_, err := tr.Run(context.Background(), Request{
		Services:      []string{"db"},
		ContainerName: "initdb",
		Phrases:       []string{"ready"},
	}, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("teardown failure escalated: %v", err)
	}
	if !reflect.DeepEqual(failures, []string{"stop", "remove"}) {
		t.Errorf("teardown failure steps = %v", failures)
	}
}

func TestRunStartFailure(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.startErr = errors.New("exec: docker: not found")

	invoked := false
	_, err := tr.Run(context.Background(), Request{
		Services: []string{"db"},
		Phrases:  []string{"ready"},
	}, func(context.Context) error {
		invoked = true
		return nil
	})
	if err == nil {
		t.Fatal("expected start error")
	}
	if invoked {
		t.Error("action must not run when the start command cannot launch")
	}
	if countCalls(tr.engine.calls, "down") != 1 {
		t.Errorf("expected teardown after failed start, calls = %v", tr.engine.calls)
	}
}

func TestRunContextCancelledDuringPoll(t *testing.T) {
	tr := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	tr.Runner.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	invoked := false
	_, err := tr.Run(ctx, Request{
		Services: []string{"db"},
		Phrases:  []string{"ready"},
	}, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if invoked {
		t.Error("action must not run after cancellation")
	}
	if countCalls(tr.engine.calls, "down") != 1 {
		t.Errorf("expected teardown after cancellation, calls = %v", tr.engine.calls)
	}
}

func TestWithinPassesValueThrough(t *testing.T) {
	tr := newTestRunner(t)
	tr.engine.logs["db"] = readyAt(1, "ready")

	got, err := Within(context.Background(), tr.Runner, Request{
		Services: []string{"db"},
		Phrases:  []string{"ready"},
	}, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("value = %d, want 42", got)
	}
}

func TestPollBudget(t *testing.T) {
	tests := []struct {
		timeout, interval time.Duration
		want              int
	}{
		{20 * time.Second, 500 * time.Millisecond, 40},
		{time.Second, 300 * time.Millisecond, 4},
		{0, 500 * time.Millisecond, 1},
		{100 * time.Millisecond, time.Second, 1},
	}
	for _, tt := range tests {
		if got := pollBudget(tt.timeout, tt.interval); got != tt.want {
			t.Errorf("pollBudget(%v, %v) = %d, want %d", tt.timeout, tt.interval, got, tt.want)
		}
	}
}
