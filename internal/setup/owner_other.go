//go:build !unix

package setup

import "os"

func fileOwner(string) (int, error) {
	return os.Getuid(), nil
}

func chownUser(string, int) error {
	return nil
}
