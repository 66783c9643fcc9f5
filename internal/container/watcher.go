package container

import (
	"context"
	"log/slog"

	dockerevents "github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
)

// EventHandler is called when a Docker event is observed.
type EventHandler func(containerID, service, action string)

// Watcher subscribes to Docker container events of one compose project and
// calls the handler on state changes.
type Watcher struct {
	docker  DockerAPI
	project string
	handler EventHandler
	logger  *slog.Logger
}

// NewWatcher creates a new Docker event watcher.
func NewWatcher(docker DockerAPI, project string, handler EventHandler, logger *slog.Logger) *Watcher {
	return &Watcher{
		docker:  docker,
		project: project,
		handler: handler,
		logger:  logger.With("component", "docker-watcher"),
	}
}

// Watch subscribes to Docker events and blocks until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) {
	f := filters.NewArgs()
	f.Add("type", string(dockerevents.ContainerEventType))
	f.Add("label", ProjectLabel+"="+w.project)

	msgCh, errCh := w.docker.Events(ctx, dockerevents.ListOptions{Filters: f})

	w.logger.Debug("watching Docker events", "project", w.project)
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("docker events error", "error", err)
			return
		case msg := <-msgCh:
			w.handleEvent(msg)
		}
	}
}

func (w *Watcher) handleEvent(msg dockerevents.Message) {
	if msg.Type != dockerevents.ContainerEventType {
		return
	}
	switch msg.Action {
	case dockerevents.ActionStart, dockerevents.ActionDie, dockerevents.ActionOOM:
		name := msg.Actor.Attributes["name"]
		service := msg.Actor.Attributes[ServiceLabel]
		w.logger.Info("container event", "action", msg.Action, "container", name, "service", service, "id", shortID(msg.Actor.ID))
		w.handler(msg.Actor.ID, service, string(msg.Action))
	}
}
