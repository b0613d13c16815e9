package intake

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/9in8/juillet/internal/domain"
)

// ErrPathTraversal is returned when a name would escape its base directory.
var ErrPathTraversal = errors.New("path traversal detected")

// SafeJoin joins a slash or backslash separated name under base, refusing
// absolute names and any ".." segment.
func SafeJoin(base, name string) (string, error) {
	norm := strings.ReplaceAll(name, `\`, "/")
	if norm == "" || strings.HasPrefix(norm, "/") || filepath.VolumeName(name) != "" {
		return "", ErrPathTraversal
	}
	for _, seg := range strings.Split(norm, "/") {
		if seg == ".." {
			return "", ErrPathTraversal
		}
	}

	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, filepath.FromSlash(norm))
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}

// ValidateID checks that id is a package id issued by intake.
func ValidateID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return domain.ValidationError("invalid package id", err)
	}
	return nil
}
