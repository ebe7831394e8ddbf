package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists Config documents to disk. Writes are atomic (temp file +
// rename) and, unless the caller opts out, preceded by a timestamped backup
// of the file being replaced (routing-substrate spec §4.1).
type Store struct {
	path string
}

// NewStore returns a Store bound to path. path's extension need not be
// .json: Save always writes canonical JSON content regardless of the
// extension the config was originally loaded under.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path this Store writes to.
func (s *Store) Path() string {
	return s.path
}

// Save serializes cfg to canonical-ish JSON (struct fields plus any
// preserved Extra fields) and writes it to the store's path. If a file
// already exists at that path, it is first copied to a sibling
// "<path>.backup.<unix-timestamp>" file so a bad write can be recovered by
// hand even before the Version Manager's ring buffer is consulted.
func (s *Store) Save(cfg *Config) error {
	if err := s.backupExisting(); err != nil {
		return err
	}

	payload, err := marshalWithExtra(cfg)
	if err != nil {
		return fmt.Errorf("config store: marshal: %w", err)
	}

	return atomicWriteFile(s.path, payload, 0o600)
}

// backupExisting copies the current file at s.path to a timestamped
// sibling. It is a no-op if nothing exists yet at s.path.
func (s *Store) backupExisting() error {
	existing, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config store: read existing config: %w", err)
	}

	backupPath := fmt.Sprintf("%s.backup.%d", s.path, time.Now().Unix())
	return atomicWriteFile(backupPath, existing, 0o600)
}

// atomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place, so readers (including the file watcher) never
// observe a partially written config.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ccr-gateway-config-*.tmp")
	if err != nil {
		return fmt.Errorf("config store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("config store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("config store: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("config store: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("config store: rename temp file into place: %w", err)
	}
	return nil
}

// marshalWithExtra serializes cfg and re-merges its Extra side-channel into
// the resulting top-level JSON object, so unknown fields an operator added
// survive a load-validate-save round trip (routing-substrate spec §3).
func marshalWithExtra(cfg *Config) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	if len(cfg.Extra) == 0 {
		return json.MarshalIndent(json.RawMessage(raw), "", "  ")
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range cfg.Extra {
		if _, known := merged[k]; known {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = encoded
	}

	return json.MarshalIndent(merged, "", "  ")
}
