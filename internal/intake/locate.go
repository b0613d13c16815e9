package intake

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/9in8/juillet/internal/domain"
)

// derivativeMarker tags a copy of a document the engine saved after inspection.
const derivativeMarker = ".inspected"

// AssetsDirName is the per-package directory that holds engine output.
const AssetsDirName = "assets"

// Document is one logical document of a package: the uploaded original
// and, once inspected, the derivative the engine saved next to it.
type Document struct {
	Original   string
	Derivative string
}

// Preferred is the file an inspection should open.
func (d Document) Preferred() string {
	if d.Derivative != "" {
		return d.Derivative
	}
	return d.Original
}

// Locate finds the single logical document with extension ext under dir.
// Files named <stem>.INSPECTED.<ext> count as derivatives of <stem>.<ext>
// in the same directory. The assets directory is not searched.
func Locate(dir, ext string) (Document, error) {
	docs, err := scan(dir, ext)
	if err != nil {
		return Document{}, err
	}

	switch len(docs) {
	case 0:
		return Document{}, domain.AmbiguousError(fmt.Sprintf("no .%s document found in package", ext))
	case 1:
		return docs[0], nil
	default:
		names := make([]string, 0, len(docs))
		for _, d := range docs {
			rel, _ := filepath.Rel(dir, d.Preferred())
			names = append(names, rel)
		}
		return Document{}, domain.AmbiguousError(fmt.Sprintf(
			"package holds %d .%s documents, expected exactly one: %s", len(docs), ext, strings.Join(names, ", ")))
	}
}

// SourcesModTime returns the latest modification time among the document
// files of every logical document in dir.
func SourcesModTime(dir, ext string) (time.Time, error) {
	docs, err := scan(dir, ext)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, d := range docs {
		for _, p := range []string{d.Original, d.Derivative} {
			if p == "" {
				continue
			}
			info, err := os.Stat(p)
			if err != nil {
				return time.Time{}, domain.IOError("stat document", err)
			}
			if info.ModTime().After(latest) {
				latest = info.ModTime()
			}
		}
	}
	return latest, nil
}

func scan(dir, ext string) ([]Document, error) {
	suffix := "." + strings.ToLower(strings.TrimPrefix(ext, "."))
	groups := make(map[string]*Document)
	assets := filepath.Join(dir, AssetsDirName)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == assets {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || skipEntry(d.Name()) {
			return nil
		}

		lower := strings.ToLower(d.Name())
		if !strings.HasSuffix(lower, suffix) {
			return nil
		}
		stem := strings.TrimSuffix(lower, suffix)
		derivative := strings.HasSuffix(stem, derivativeMarker)
		stem = strings.TrimSuffix(stem, derivativeMarker)

		key := filepath.Join(filepath.Dir(p), stem)
		doc, ok := groups[key]
		if ok && ((derivative && doc.Derivative != "") || (!derivative && doc.Original != "")) {
			// names differing only in case are distinct documents
			key = p
			doc, ok = groups[key]
		}
		if !ok {
			doc = &Document{}
			groups[key] = doc
		}
		if derivative {
			doc.Derivative = p
		} else {
			doc.Original = p
		}
		return nil
	})
	if err != nil {
		return nil, domain.IOError("scan package", err)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	docs := make([]Document, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, *groups[k])
	}
	return docs, nil
}
