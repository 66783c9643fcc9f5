package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"stackup/internal/config"
	"stackup/internal/events"
)

// conn is the subset of *nats.Conn used by Publisher.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Publisher forwards lifecycle events to NATS.
type Publisher struct {
	nc      conn
	source  string
	prefix  string
	project string
	logger  *slog.Logger

	emitter   *events.Emitter
	handlerID int
}

// Connect dials the NATS server named in cfg.
func Connect(cfg config.Notify, project, source string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(source),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, cfg.SubjectPrefix, project, source, logger), nil
}

func newPublisher(nc conn, prefix, project, source string, logger *slog.Logger) *Publisher {
	return &Publisher{
		nc:      nc,
		source:  source,
		prefix:  prefix,
		project: project,
		logger:  logger.With("component", "notify"),
	}
}

// Publish sends ev as an Envelope correlated by its run ID.
func (p *Publisher) Publish(ev events.Event) error {
	return p.publish(ev, ev.RunID)
}

func (p *Publisher) publish(ev events.Event, correlationID string) error {
	env, err := NewEnvelope(ev.Type, p.source, ev.Timestamp, LifecycleData{
		Project: p.project,
		Target:  ev.Target,
		Fields:  ev.Fields,
	})
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}
	env.CorrelationID = correlationID

	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return p.nc.Publish(Subject(p.prefix, p.project, ev.Type), data)
}

// Forward publishes every event emitted on emitter, correlated by the
// emitter's run ID, until Close. Publish failures are logged; notification
// never blocks the lifecycle.
func (p *Publisher) Forward(emitter *events.Emitter) {
	runID := emitter.RunID()
	p.emitter = emitter
	p.handlerID = emitter.OnEvent(func(ev events.Event) {
		if err := p.publish(ev, runID); err != nil {
			p.logger.Warn("failed to publish event", "event", ev.Type, "error", err)
		}
	})
}

// Close stops forwarding, then drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.emitter != nil {
		p.emitter.RemoveHandler(p.handlerID)
		p.emitter = nil
	}
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}
