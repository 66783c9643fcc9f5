package container

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// Compose labels set on every container of a project.
const (
	ProjectLabel = "com.docker.compose.project"
	ServiceLabel = "com.docker.compose.service"
)

type DiscoveredContainer struct {
	Name    string
	ID      string
	Service string
	State   string
	Status  string
	Created time.Time
}

// Discover lists the containers, running or not, that belong to the compose
// project, ordered by service name.
func Discover(ctx context.Context, docker DockerAPI, project string, logger *slog.Logger) ([]DiscoveredContainer, error) {
	f := filters.NewArgs()
	f.Add("label", ProjectLabel+"="+project)

	containers, err := docker.ContainerList(ctx, container.ListOptions{
		All:     true, // include stopped
		Filters: f,
	})
	if err != nil {
		return nil, err
	}

	var result []DiscoveredContainer
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			// Docker prefixes names with /
			name = c.Names[0]
			if len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
		}

		logger.Debug("discovered container",
			"name", name,
			"id", shortID(c.ID),
			"state", c.State,
			"service", c.Labels[ServiceLabel],
		)

		result = append(result, DiscoveredContainer{
			Name:    name,
			ID:      c.ID,
			Service: c.Labels[ServiceLabel],
			State:   c.State,
			Status:  c.Status,
			Created: time.Unix(c.Created, 0),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Service != result[j].Service {
			return result[i].Service < result[j].Service
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
