package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves $VARS and a leading ~ in a user-supplied path, so
// "~/.local/share/gosyncprogress/queue.db" and "$XDG_DATA_HOME/queue.db"
// both work in the config file. "~user" forms are rejected.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(strings.TrimSpace(path))
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	rest := path[1:]
	if rest != "" && rest[0] != '/' && rest[0] != filepath.Separator {
		return "", fmt.Errorf("cannot expand %q: only ~ for the current user is supported", path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand %q: %w", path, err)
	}
	return filepath.Join(home, rest), nil
}
