package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"stackup/internal/events"
)

var (
	// ErrInvalidRequest is returned before anything is started when a
	// Request breaks the container/service pairing rules.
	ErrInvalidRequest = errors.New("invalid lifecycle request")

	// ErrNetworkOverlap signals that the engine refused to create the
	// project network because its address range is already in use.
	ErrNetworkOverlap = errors.New("networks are overlapping, remove old network or choose different address")
)

// networkConflictMarker appears in engine output when the project network
// collides with an existing one.
const networkConflictMarker = "cannot create network"

const (
	defaultPollInterval    = 500 * time.Millisecond
	defaultReadyTimeout    = 20 * time.Second
	defaultTeardownTimeout = 60 * time.Second
)

// Request describes one start/poll/act/teardown cycle.
//
// With ContainerName set the single service is launched as a one-off named
// container; otherwise all Services are brought up together. Phrases[i] is
// looked for in the log output of Services[i]; services beyond the last
// phrase are started but not polled.
type Request struct {
	Services      []string
	ContainerName string
	Phrases       []string
	Options       []string
	Timeout       time.Duration // zero uses the runner default
}

func (r Request) validate() error {
	if len(r.Services) == 0 {
		return fmt.Errorf("%w: no services given", ErrInvalidRequest)
	}
	if r.ContainerName != "" && len(r.Services) > 1 {
		return fmt.Errorf("%w: container name %q not usable with multiple services", ErrInvalidRequest, r.ContainerName)
	}
	if len(r.Phrases) > len(r.Services) {
		return fmt.Errorf("%w: %d readiness phrases for %d services", ErrInvalidRequest, len(r.Phrases), len(r.Services))
	}
	return nil
}

// target names what the request starts, for logs and events.
func (r Request) target() string {
	if r.ContainerName != "" {
		return r.ContainerName
	}
	return strings.Join(r.Services, ",")
}

// Outcome reports how the readiness wait ended.
type Outcome struct {
	Ready   bool          // every polled service reported its phrase
	Polls   int           // poll passes performed
	Waited  time.Duration // time slept between passes
	Pending []string      // services still not ready
}

type RunnerConfig struct {
	PollInterval    time.Duration
	Timeout         time.Duration
	TeardownTimeout time.Duration

	// Progress receives one dot per poll interval when non-nil.
	Progress io.Writer

	// OnFatal is called with ErrNetworkOverlap. The default logs and exits
	// the process with status 1.
	OnFatal func(error)
}

// Runner starts services or a one-off container, waits for their readiness
// phrases, runs an action and always tears down afterwards.
//
// A Runner is not safe for concurrent use.
type Runner struct {
	engine          Engine
	emitter         *events.Emitter
	logger          *slog.Logger
	pollInterval    time.Duration
	timeout         time.Duration
	teardownTimeout time.Duration
	progress        io.Writer
	fatal           func(error)

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(engine Engine, cfg RunnerConfig, emitter *events.Emitter, logger *slog.Logger) *Runner {
	r := &Runner{
		engine:          engine,
		emitter:         emitter,
		logger:          logger.With("component", "runner"),
		pollInterval:    cfg.PollInterval,
		timeout:         cfg.Timeout,
		teardownTimeout: cfg.TeardownTimeout,
		progress:        cfg.Progress,
		fatal:           cfg.OnFatal,
		sleep:           sleepContext,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.timeout <= 0 {
		r.timeout = defaultReadyTimeout
	}
	if r.teardownTimeout <= 0 {
		r.teardownTimeout = defaultTeardownTimeout
	}
	if r.fatal == nil {
		r.fatal = r.exit
	}
	return r
}

// Run executes req: start, poll for readiness, invoke action exactly once,
// tear down. The action runs after a timeout as well; inspect the returned
// Outcome to tell the cases apart. Teardown runs on every exit path. A network
// overlap skips the action and is handed to the fatal hook after teardown. An
// error from action is returned after teardown has completed.
func (r *Runner) Run(ctx context.Context, req Request, action func(ctx context.Context) error) (Outcome, error) {
	if err := req.validate(); err != nil {
		return Outcome{}, err
	}

	target := req.target()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	r.logger.Info("waiting for services to boot", "target", target, "services", req.Services, "timeout", timeout)
	r.emitter.Emit(events.Event{
		Type:   events.ServicesStarting,
		Target: target,
		Fields: map[string]string{"timeout": timeout.String()},
	})

	tornDown := false
	defer func() {
		if !tornDown {
			r.teardown(ctx, req)
		}
	}()

	if err := r.start(ctx, req); err != nil {
		return Outcome{}, err
	}

	out, err := r.await(ctx, req, timeout)
	if errors.Is(err, ErrNetworkOverlap) {
		r.emitter.Emit(events.Event{Type: events.NetworkOverlap, Target: target})
		// The fatal hook usually exits, so tear down first.
		tornDown = true
		r.teardown(ctx, req)
		r.fatal(err)
		return out, err
	}
	if err != nil {
		return out, err
	}

	fields := map[string]string{
		"polls":  strconv.Itoa(out.Polls),
		"waited": strconv.FormatFloat(out.Waited.Seconds(), 'f', -1, 64),
	}
	if out.Ready {
		r.logger.Info("services ready", "target", target, "polls", out.Polls, "waited", out.Waited)
		r.emitter.Emit(events.Event{Type: events.ServicesReady, Target: target, Fields: fields})
	} else {
		fields["pending"] = strings.Join(out.Pending, ",")
		r.logger.Warn("readiness timeout, continuing anyway", "target", target, "pending", out.Pending, "waited", out.Waited)
		r.emitter.Emit(events.Event{Type: events.ServicesTimeout, Target: target, Fields: fields})
	}

	return out, action(ctx)
}

// Within runs action under r like Run and passes its value through.
func Within[T any](ctx context.Context, r *Runner, req Request, action func(ctx context.Context) (T, error)) (T, error) {
	var result T
	_, err := r.Run(ctx, req, func(ctx context.Context) error {
		var err error
		result, err = action(ctx)
		return err
	})
	return result, err
}

func (r *Runner) start(ctx context.Context, req Request) error {
	if req.ContainerName != "" {
		if err := r.engine.RunContainer(ctx, req.ContainerName, req.Services[0], req.Options); err != nil {
			return fmt.Errorf("start container %q: %w", req.ContainerName, err)
		}
		return nil
	}
	if err := r.engine.StartServices(ctx, req.Services, req.Options); err != nil {
		return fmt.Errorf("start services %s: %w", req.target(), err)
	}
	return nil
}

// await polls until every phrase has been seen or the poll budget is spent.
// Indices already marked ready are not fetched again.
func (r *Runner) await(ctx context.Context, req Request, timeout time.Duration) (Outcome, error) {
	ready := make([]bool, len(req.Phrases))
	budget := pollBudget(timeout, r.pollInterval)

	var out Outcome
	for {
		out.Polls++
		for i, phrase := range req.Phrases {
			if ready[i] {
				continue
			}
			output := r.fetch(ctx, req, i)
			if strings.Contains(output, phrase) {
				ready[i] = true
				r.logger.Debug("readiness phrase seen", "service", req.Services[i], "poll", out.Polls)
			}
			if strings.Contains(output, networkConflictMarker) {
				return out, ErrNetworkOverlap
			}
		}

		if allTrue(ready) {
			out.Ready = true
			break
		}
		if out.Polls >= budget {
			break
		}

		if r.progress != nil {
			fmt.Fprint(r.progress, ".")
		}
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return out, err
		}
		out.Waited += r.pollInterval
	}
	if r.progress != nil {
		fmt.Fprintln(r.progress)
	}

	for i, ok := range ready {
		if !ok {
			out.Pending = append(out.Pending, req.Services[i])
		}
	}
	return out, nil
}

// fetch returns the current log output for index i. A fetch error (the
// container may not exist yet) counts as empty output.
func (r *Runner) fetch(ctx context.Context, req Request, i int) string {
	var (
		output string
		err    error
	)
	if req.ContainerName != "" {
		output, err = r.engine.ContainerLogs(ctx, req.ContainerName)
	} else {
		output, err = r.engine.ServiceLogs(ctx, req.Services[i])
	}
	if err != nil {
		r.logger.Debug("log fetch failed", "service", req.Services[i], "error", err)
	}
	return output
}

// teardown is best effort: failures are logged and counted, never returned.
func (r *Runner) teardown(ctx context.Context, req Request) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.teardownTimeout)
	defer cancel()

	target := req.target()
	if req.ContainerName != "" {
		if err := r.engine.StopContainer(tctx, req.ContainerName); err != nil {
			r.teardownFailed(target, "stop", err)
		}
		if err := r.engine.RemoveContainer(tctx, req.ContainerName); err != nil {
			r.teardownFailed(target, "remove", err)
		}
	} else if err := r.engine.DownServices(tctx); err != nil {
		r.teardownFailed(target, "down", err)
	}

	r.emitter.Emit(events.Event{Type: events.ServicesTeardown, Target: target})
}

func (r *Runner) teardownFailed(target, step string, err error) {
	r.logger.Warn("teardown step failed", "target", target, "step", step, "error", err)
	r.emitter.Emit(events.Event{
		Type:   events.TeardownFailed,
		Target: target,
		Fields: map[string]string{"step": step, "error": err.Error()},
	})
}

func (r *Runner) exit(err error) {
	r.logger.Error("fatal environment conflict", "error", err)
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// pollBudget is the number of poll passes that fit into timeout.
func pollBudget(timeout, interval time.Duration) int {
	n := int((timeout + interval - 1) / interval)
	if n < 1 {
		return 1
	}
	return n
}

func allTrue(v []bool) bool {
	for _, b := range v {
		if !b {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
