package intake

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/9in8/juillet/internal/domain"
)

// Stored describes a package directory found under the storage root.
type Stored struct {
	ID      string
	Dir     string
	ModTime time.Time
}

// List returns the package directories under the storage root, oldest
// first. Entries whose name is not a package id are skipped.
func (s *Service) List() ([]Stored, error) {
	entries, err := os.ReadDir(s.cfg.StorageRoot)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.IOError("list storage root", err)
	}

	var out []Stored
	for _, e := range entries {
		if !e.IsDir() || ValidateID(e.Name()) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Stored{
			ID:      e.Name(),
			Dir:     filepath.Join(s.cfg.StorageRoot, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.Before(out[j].ModTime) })
	return out, nil
}

// Remove deletes a package directory with everything in it.
func (s *Service) Remove(id string) error {
	if err := ValidateID(id); err != nil {
		return domain.NotFoundError("package not found", err)
	}
	if err := os.RemoveAll(filepath.Join(s.cfg.StorageRoot, id)); err != nil {
		return domain.IOError("remove package", err)
	}
	s.logger.WithPackage(id).Info().Msg("package removed")
	return nil
}
