package inspection

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/9in8/juillet/internal/bridge"
	"github.com/9in8/juillet/internal/intake"
	"github.com/9in8/juillet/internal/observability"
)

// cacheDirName is the assets subdirectory holding cache entries.
const cacheDirName = "cache"

// readFile is replaced in tests to interleave with a concurrent purge.
var readFile = os.ReadFile

// EntryPath returns where the entry for fingerprint fp of the package in
// pkgDir is stored.
func EntryPath(pkgDir, fp string) string {
	return filepath.Join(pkgDir, intake.AssetsDirName, cacheDirName, "inspection."+fp+".json")
}

// Store reads and writes cache entries on the package filesystem.
type Store struct {
	logger *observability.Logger
}

// NewStore creates a Store.
func NewStore(logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{logger: logger}
}

// Load returns the entry at path. A missing, unreadable, corrupt or
// failed entry is a miss, and so is one last written before notBefore.
// An entry removed between the stat and the read is a miss too.
func (s *Store) Load(path string, notBefore time.Time) (bridge.Outcome, bool) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", path).Msg("cannot stat cache entry")
		}
		return bridge.Outcome{}, false
	}
	if !notBefore.IsZero() && info.ModTime().Before(notBefore) {
		s.logger.Debug().Str("path", path).Msg("cache entry is older than its sources")
		return bridge.Outcome{}, false
	}

	data, err := readFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", path).Msg("cannot read cache entry")
		}
		return bridge.Outcome{}, false
	}

	var out bridge.Outcome
	if err := json.Unmarshal(data, &out); err != nil || !out.Success || len(out.Result) == 0 {
		s.logger.Warn().Err(err).Str("path", path).Msg("ignoring corrupt cache entry")
		return bridge.Outcome{}, false
	}
	return out, true
}

// Save writes out to path atomically: readers see either the previous
// entry or the complete new one.
func (s *Store) Save(path string, out bridge.Outcome) error {
	if !out.Success {
		return fmt.Errorf("refusing to cache a failed outcome")
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".inspection-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}
