package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"stackup/internal/events"
)

var (
	StartupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stackup_startups_total",
		Help: "Service startups by result (ready, timeout, overlap)",
	}, []string{"result"})

	ReadinessPollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stackup_readiness_polls_total",
		Help: "Readiness poll passes across all startups",
	})

	ReadinessWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stackup_readiness_wait_seconds",
		Help:    "Time spent waiting for readiness phrases",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	TeardownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stackup_teardowns_total",
		Help: "Completed teardowns",
	})

	TeardownFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stackup_teardown_failures_total",
		Help: "Best-effort teardown steps that failed",
	}, []string{"step"})

	ContainerEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stackup_container_events_total",
		Help: "Docker container events observed for the project",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		StartupsTotal,
		ReadinessPollsTotal,
		ReadinessWaitSeconds,
		TeardownsTotal,
		TeardownFailuresTotal,
		ContainerEventsTotal,
	)
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// RegisterEventHandler wires metric updates to the event emitter.
func RegisterEventHandler(emitter *events.Emitter) {
	emitter.OnEvent(func(ev events.Event) {
		switch ev.Type {
		case events.ServicesReady:
			StartupsTotal.WithLabelValues("ready").Inc()
			observeWait(ev)
		case events.ServicesTimeout:
			StartupsTotal.WithLabelValues("timeout").Inc()
			observeWait(ev)
		case events.NetworkOverlap:
			StartupsTotal.WithLabelValues("overlap").Inc()
		case events.ServicesTeardown:
			TeardownsTotal.Inc()
		case events.TeardownFailed:
			TeardownFailuresTotal.WithLabelValues(ev.Fields["step"]).Inc()
		case events.ContainerEvent:
			ContainerEventsTotal.WithLabelValues(ev.Fields["action"]).Inc()
		}
	})
}

func observeWait(ev events.Event) {
	if polls, err := strconv.Atoi(ev.Fields["polls"]); err == nil {
		ReadinessPollsTotal.Add(float64(polls))
	}
	if waited, err := strconv.ParseFloat(ev.Fields["waited"], 64); err == nil {
		ReadinessWaitSeconds.Observe(waited)
	}
}
