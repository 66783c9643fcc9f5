package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event type constants.
const (
	ServicesStarting = "services.starting"
	ServicesReady    = "services.ready"
	ServicesTimeout  = "services.timeout"
	ServicesTeardown = "services.teardown"
	TeardownFailed   = "teardown.failed"
	NetworkOverlap   = "network.overlap"
	ContainerEvent   = "container.event"
	SetupStep        = "setup.step"
)

// Event represents a lifecycle event for a set of services or a container.
// Target is the service list or container name the event refers to.
type Event struct {
	Type      string            `json:"type"`
	Target    string            `json:"target"`
	RunID     string            `json:"run_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Emitter logs events and dispatches them to registered handlers.
type Emitter struct {
	logger   *slog.Logger
	runID    string
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewEmitter creates a new event emitter. Every event emitted through it is
// stamped with runID.
func NewEmitter(runID string, logger *slog.Logger) *Emitter {
	return &Emitter{
		logger: logger.With("component", "events"),
		runID:  runID,
	}
}

// RunID returns the invocation ID stamped on emitted events.
func (e *Emitter) RunID() string {
	return e.runID
}

// Emit logs the event and calls all registered handlers.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.RunID == "" {
		ev.RunID = e.runID
	}

	attrs := []any{
		"event", ev.Type,
		"target", ev.Target,
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}
	e.logger.Debug("event emitted", attrs...)

	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		if fn != nil {
			fn(ev)
		}
	}
}

// OnEvent registers a handler to be called for every emitted event.
// Returns an ID that can be used with RemoveHandler.
func (e *Emitter) OnEvent(fn func(Event)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
	return len(e.handlers) - 1
}

// RemoveHandler removes a handler by its ID.
func (e *Emitter) RemoveHandler(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id >= 0 && id < len(e.handlers) {
		e.handlers[id] = nil
	}
}
