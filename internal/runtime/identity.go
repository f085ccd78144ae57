package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const identityFile = "identity"

// ensureIdentity returns the transfer identity stored in dir, creating it on
// first use. The identity must survive restarts: journalled transfer tasks
// and host resume events are matched against it.
func ensureIdentity(dir string) (string, error) {
	path := filepath.Join(dir, identityFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read identity: %w", err)
	}

	id := "relay-" + uuid.New().String()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	return id, nil
}
