package tui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ClientState is what the client remembers between runs: its server identity
// and the conversation to resume.
type ClientState struct {
	UID            string `json:"uid,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Title          string `json:"title,omitempty"`
}

// DefaultStateDir resolves the per-user state directory, ~/.shiplog.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tui: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".shiplog"), nil
}

func statePaths(dir string) (stateFile, lockFile string) {
	return filepath.Join(dir, "state.json"), filepath.Join(dir, "state.lock")
}

// LoadState reads the persisted client state from dir. A missing or
// corrupt file is not an error; it returns a zero ClientState.
func LoadState(dir string) (*ClientState, error) {
	stateFile, lockFile := statePaths(dir)

	if _, err := os.Stat(stateFile); errors.Is(err, fs.ErrNotExist) {
		return &ClientState{}, nil
	}

	lock := flock.New(lockFile)
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("tui: lock state file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	raw, err := os.ReadFile(stateFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ClientState{}, nil
		}
		return nil, fmt.Errorf("tui: read state: %w", err)
	}

	var st ClientState
	if err := json.Unmarshal(raw, &st); err != nil {
		// Corrupt state is discarded rather than blocking startup.
		return &ClientState{}, nil
	}
	return &st, nil
}

// SaveState writes the client state under an exclusive file lock so
// concurrent instances cannot interleave writes. The write itself is
// atomic via a rename.
func SaveState(dir string, st *ClientState) error {
	stateFile, lockFile := statePaths(dir)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("tui: create state directory: %w", err)
	}

	lock := flock.New(lockFile)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("tui: lock state file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("tui: marshal state: %w", err)
	}

	tmp := stateFile + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("tui: write state: %w", err)
	}
	if err := os.Rename(tmp, stateFile); err != nil {
		return fmt.Errorf("tui: replace state: %w", err)
	}
	return nil
}
