package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docker/docker/errdefs"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"stackup/internal/container"
	"stackup/internal/setup"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the project's containers and web server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				found, err := container.Discover(ctx, a.docker, a.cfg.Project, a.logger)
				if err != nil {
					return fmt.Errorf("list containers: %w", err)
				}
				out := cmd.OutOrStdout()
				printContainers(out, found, time.Now())

				state, err := a.containers.Status(ctx, setup.InitContainer)
				if err != nil && !errdefs.IsNotFound(err) {
					a.logger.Warn("init container check failed", "error", err)
				}
				printInitContainer(out, setup.InitContainer, state, err)

				httpURL, _ := a.cfg.AccessURLs()
				hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				printHealth(out, httpURL, container.CheckHealth(hctx, httpURL, a.cfg.HostName))
				return nil
			})
		},
	}
}

func printContainers(w io.Writer, found []container.DiscoveredContainer, now time.Time) {
	if len(found) == 0 {
		fmt.Fprintln(w, "No containers found for this project.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tNAME\tSTATE\tSTATUS\tCREATED")
	for _, c := range found {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s ago\n",
			c.Service, c.Name, c.State, c.Status, units.HumanDuration(now.Sub(c.Created)))
	}
	tw.Flush()
}

// printInitContainer reports a one-off init container left behind by an
// interrupted setup. err is the lookup error; any error prints nothing.
func printInitContainer(w io.Writer, name, state string, err error) {
	if err != nil {
		return
	}
	fmt.Fprintf(w, "\nLeftover init container %s (%s), remove it with: docker rm -f %s\n", name, state, name)
}

func printHealth(w io.Writer, url string, err error) {
	if err != nil {
		fmt.Fprintf(w, "\nWeb %s: unhealthy (%v)\n", url, err)
		return
	}
	fmt.Fprintf(w, "\nWeb %s: healthy\n", url)
}
