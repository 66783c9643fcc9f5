// Package envfile prepares and rewrites dotenv files in place.
package envfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	envName     = ".env"
	exampleName = ".env.example"
)

// ErrNoEnvFile is returned by Prepare when dir holds neither .env nor
// .env.example.
var ErrNoEnvFile = errors.New("no .env or .env.example found")

// Prepare makes sure dir contains a .env to rewrite. An existing .env is
// backed up to .env.YYYY-MM-DD (now's date) first; otherwise .env.example
// is copied to .env. It returns the path of the .env file.
func Prepare(dir string, now time.Time) (string, error) {
	env := filepath.Join(dir, envName)

	_, err := os.Stat(env)
	switch {
	case err == nil:
		backup := env + "." + now.Format("2006-01-02")
		if err := copyFile(env, backup); err != nil {
			return "", fmt.Errorf("back up %s: %w", env, err)
		}
		return env, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", err
	}

	example := filepath.Join(dir, exampleName)
	if err := copyFile(example, env); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", ErrNoEnvFile, dir)
		}
		return "", fmt.Errorf("copy %s: %w", example, err)
	}
	return env, nil
}

// Rewrite replaces the value of every line whose key is in values and keeps
// all other lines untouched. Keys missing from the file are not added.
// It returns the keys that were rewritten.
func Rewrite(path string, values map[string]string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	out, changed := rewrite(string(data), values)
	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return changed, nil
}

func rewrite(content string, values map[string]string) (string, []string) {
	lines := strings.Split(content, "\n")
	var changed []string
	for i, line := range lines {
		key, _, _ := strings.Cut(line, "=")
		v, ok := values[key]
		if !ok {
			continue
		}
		lines[i] = key + "=" + v
		changed = append(changed, key)
	}
	return strings.Join(lines, "\n"), changed
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}
