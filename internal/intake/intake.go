// Package intake receives uploaded archives, extracts them into per-package
// storage directories and locates the document each package carries.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/9in8/juillet/internal/domain"
	"github.com/9in8/juillet/internal/observability"
)

// Asset subdirectories created for every package.
var assetSubdirs = []string{"fonts", "images", "cache"}

// Config holds intake limits.
type Config struct {
	StorageRoot       string
	AllowedExtensions []string
	MaxUploadBytes    int64
	MaxExtractedBytes int64
	TempDir           string
}

// Upload is an uploaded archive spooled to a temporary file.
type Upload struct {
	Name string // client file name, used for its extension
	Path string
	Size int64
}

// Package is an extracted package.
type Package struct {
	ID       string
	Dir      string
	Document Document
}

// AssetsDir returns the directory engines write previews, images and cache entries to.
func (p *Package) AssetsDir() string {
	return filepath.Join(p.Dir, AssetsDirName)
}

// Service receives and opens packages.
type Service struct {
	cfg        Config
	extractors map[string]Extractor
	newID      func() string
	logger     *observability.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator replaces the package id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithExtractor registers an extractor for an archive extension such as ".zip".
func WithExtractor(ext string, e Extractor) Option {
	return func(s *Service) { s.extractors[strings.ToLower(ext)] = e }
}

// New creates a Service with zip and rar extractors. The storage root is
// made absolute, since engines run with their own working directory.
func New(cfg Config, logger *observability.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if abs, err := filepath.Abs(cfg.StorageRoot); err == nil {
		cfg.StorageRoot = abs
	}
	s := &Service{
		cfg: cfg,
		extractors: map[string]Extractor{
			".zip": ZipExtractor{},
			".rar": RarExtractor{},
		},
		newID:  uuid.NewString,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spool streams r into a temporary file, refusing more than the upload ceiling.
// The caller hands the result to Receive, which removes the file.
func (s *Service) Spool(r io.Reader, name string) (Upload, error) {
	tmp, err := os.CreateTemp(s.cfg.TempDir, "juillet-upload-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return Upload{}, domain.IOError("create upload file", err)
	}

	n, err := io.Copy(tmp, io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return Upload{}, domain.IOError("write upload file", err)
	}
	if n > s.cfg.MaxUploadBytes {
		os.Remove(tmp.Name())
		return Upload{}, domain.ValidationError(fmt.Sprintf("file exceeds max size (%d MB)", s.cfg.MaxUploadBytes>>20), nil)
	}

	return Upload{Name: name, Path: tmp.Name(), Size: n}, nil
}

// Receive validates an uploaded archive, extracts it under a fresh package
// id and checks that it holds exactly one document with extension docExt.
// The uploaded file is removed on every path; a failed package leaves no
// directory behind.
func (s *Service) Receive(ctx context.Context, up Upload, docExt string) (*Package, error) {
	defer func() {
		if err := os.Remove(up.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", up.Path).Msg("failed to remove uploaded file")
		}
	}()

	ext := strings.ToLower(filepath.Ext(up.Name))
	extractor, err := s.extractorFor(ext)
	if err != nil {
		return nil, err
	}

	if up.Size > s.cfg.MaxUploadBytes {
		return nil, domain.ValidationError(fmt.Sprintf("file exceeds max size (%d MB)", s.cfg.MaxUploadBytes>>20), nil)
	}

	id := s.newID()
	if err := ValidateID(id); err != nil {
		return nil, domain.ConfigError("id generator produced an invalid package id", err)
	}

	if err := os.MkdirAll(s.cfg.StorageRoot, 0o755); err != nil {
		return nil, domain.IOError("prepare storage root", err)
	}
	dir := filepath.Join(s.cfg.StorageRoot, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, domain.IOError("create package directory", err)
	}

	log := s.logger.WithPackage(id)
	pkg, err := s.populate(ctx, extractor, up, dir, docExt)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Error().Err(rmErr).Msg("failed to remove rejected package")
		}
		log.Info().Err(err).Str("file", up.Name).Msg("package rejected")
		return nil, err
	}
	pkg.ID = id

	log.Info().
		Str("file", up.Name).
		Int64("bytes", up.Size).
		Str("document", pkg.Document.Original).
		Msg("package received")
	return pkg, nil
}

func (s *Service) populate(ctx context.Context, extractor Extractor, up Upload, dir, docExt string) (*Package, error) {
	if err := extractor.Extract(ctx, up.Path, dir, s.cfg.MaxExtractedBytes); err != nil {
		return nil, domain.ExtractionError("could not extract package", err)
	}

	doc, err := Locate(dir, docExt)
	if err != nil {
		return nil, err
	}

	for _, sub := range assetSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, AssetsDirName, sub), 0o755); err != nil {
			return nil, domain.IOError("create assets directory", err)
		}
	}

	return &Package{Dir: dir, Document: doc}, nil
}

// Open returns a previously received package.
func (s *Service) Open(id, docExt string) (*Package, error) {
	if err := ValidateID(id); err != nil {
		return nil, domain.NotFoundError("package not found", err)
	}

	dir := filepath.Join(s.cfg.StorageRoot, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, domain.NotFoundError("package not found", err)
	}

	doc, err := Locate(dir, docExt)
	if err != nil {
		return nil, err
	}
	return &Package{ID: id, Dir: dir, Document: doc}, nil
}

// Dir returns the storage directory of a package id without checking it exists.
func (s *Service) Dir(id string) string {
	return filepath.Join(s.cfg.StorageRoot, id)
}

// StorageRoot returns the configured storage root.
func (s *Service) StorageRoot() string {
	return s.cfg.StorageRoot
}

func (s *Service) extractorFor(ext string) (Extractor, error) {
	allowed := false
	for _, a := range s.cfg.AllowedExtensions {
		if strings.EqualFold("."+strings.TrimPrefix(a, "."), ext) {
			allowed = true
			break
		}
	}
	if !allowed || ext == "" {
		return nil, domain.ValidationError(fmt.Sprintf("file extension %q is not allowed", ext), nil)
	}

	e, ok := s.extractors[ext]
	if !ok {
		return nil, domain.ValidationError(fmt.Sprintf("no extractor for %q archives", ext), nil)
	}
	return e, nil
}
