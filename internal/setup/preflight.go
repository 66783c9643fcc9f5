package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"runtime"
	"slices"
	"strconv"
)

var (
	// ErrNoDockerAccess is returned on linux when the invoking user is
	// neither root nor a member of the docker group.
	ErrNoDockerAccess = errors.New("must be docker superuser")

	// ErrComposeExists stops a second setup of an already provisioned
	// project.
	ErrComposeExists = errors.New("a docker-compose file exists, is setup really needed?")

	// ErrLocked is returned when another setup holds the project lock.
	ErrLocked = errors.New("another setup is running for this project")
)

var hostOS = runtime.GOOS

// checkDockerAccess mirrors the docker socket's default permissions: root
// or the docker group. Other platforms go through Docker Desktop.
func checkDockerAccess() error {
	if hostOS != "linux" || os.Geteuid() == 0 {
		return nil
	}
	g, err := user.LookupGroup("docker")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDockerAccess, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("%w: bad docker gid %q", ErrNoDockerAccess, g.Gid)
	}
	groups, err := os.Getgroups()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDockerAccess, err)
	}
	if !slices.Contains(groups, gid) {
		return ErrNoDockerAccess
	}
	return nil
}

func checkNoCompose(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("%w (%s)", ErrComposeExists, path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
