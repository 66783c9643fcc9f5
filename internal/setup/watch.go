package setup

import (
	"log/slog"

	"stackup/internal/container"
	"stackup/internal/events"
)

// NewEventWatcher returns a watcher that re-emits Docker container events of
// the project as container.event events.
func NewEventWatcher(docker container.DockerAPI, project string, emitter *events.Emitter, logger *slog.Logger) *container.Watcher {
	return container.NewWatcher(docker, project, func(containerID, service, action string) {
		emitter.Emit(events.Event{
			Type:   events.ContainerEvent,
			Target: service,
			Fields: map[string]string{
				"action":       action,
				"container_id": containerID,
			},
		})
	}, logger)
}
