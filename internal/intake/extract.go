package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/nwaples/rardecode/v2"
)

// ErrTooLarge is returned when an archive expands past the configured ceiling.
var ErrTooLarge = errors.New("extracted content exceeds size limit")

// Extractor unpacks an archive into dest, writing at most limit bytes
// (zero means unbounded).
type Extractor interface {
	Extract(ctx context.Context, archive, dest string, limit int64) error
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, archive, dest string, limit int64) error

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, archive, dest string, limit int64) error {
	return f(ctx, archive, dest, limit)
}

// ZipExtractor extracts .zip archives.
type ZipExtractor struct{}

// Extract implements Extractor.
func (ZipExtractor) Extract(ctx context.Context, archive, dest string, limit int64) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	w := newEntryWriter(dest, limit)
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := w.dir(f.Name); err != nil {
				return err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		err = w.file(f.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// RarExtractor extracts .rar archives.
type RarExtractor struct{}

// Extract implements Extractor.
func (RarExtractor) Extract(ctx context.Context, archive, dest string, limit int64) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open rar: %w", err)
	}
	defer f.Close()

	r, err := rardecode.NewReader(f)
	if err != nil {
		return fmt.Errorf("read rar: %w", err)
	}

	w := newEntryWriter(dest, limit)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rar entry: %w", err)
		}
		if hdr.IsDir {
			if err := w.dir(hdr.Name); err != nil {
				return err
			}
			continue
		}
		if err := w.file(hdr.Name, r); err != nil {
			return err
		}
	}
}

// entryWriter materialises archive entries under dest within a byte budget.
type entryWriter struct {
	dest      string
	remaining int64
	bounded   bool
}

func newEntryWriter(dest string, limit int64) *entryWriter {
	return &entryWriter{dest: dest, remaining: limit, bounded: limit > 0}
}

func (w *entryWriter) dir(name string) error {
	if skipEntry(name) || reservedEntry(name) {
		return nil
	}
	target, err := SafeJoin(w.dest, name)
	if err != nil {
		return fmt.Errorf("archive entry %q: %w", name, err)
	}
	return os.MkdirAll(target, 0o755)
}

func (w *entryWriter) file(name string, r io.Reader) error {
	if skipEntry(name) || reservedEntry(name) {
		return nil
	}
	target, err := SafeJoin(w.dest, name)
	if err != nil {
		return fmt.Errorf("archive entry %q: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer out.Close()

	if !w.bounded {
		if _, err := io.Copy(out, r); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return out.Close()
	}

	n, err := io.Copy(out, io.LimitReader(r, w.remaining+1))
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if n > w.remaining {
		return ErrTooLarge
	}
	w.remaining -= n
	return out.Close()
}

// skipEntry drops macOS resource forks, which would otherwise be picked up
// as extra documents.
func skipEntry(name string) bool {
	norm := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(norm, "__MACOSX/") || norm == "__MACOSX" {
		return true
	}
	return strings.HasPrefix(path.Base(norm), "._")
}

// reservedEntry reports whether name lands in the assets folder the service
// owns. Cache entries and previews there are only ever written by inspections.
func reservedEntry(name string) bool {
	norm := path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))
	first, _, _ := strings.Cut(strings.TrimPrefix(norm, "/"), "/")
	return strings.EqualFold(first, AssetsDirName)
}
