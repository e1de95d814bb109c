package transport

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnsureInstanceID returns the id stored under ~/.logshim/id, creating it on
// first use. If the home directory is unusable an ephemeral id is returned.
func EnsureInstanceID() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return uuid.New().String()
	}
	return ensureInstanceIDIn(filepath.Join(homeDir, ".logshim"))
}

func ensureInstanceIDIn(dir string) string {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return uuid.New().String()
	}

	idFile := filepath.Join(dir, "id")
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	newID := uuid.New().String()
	_ = os.WriteFile(idFile, []byte(newID), 0644)
	return newID
}
