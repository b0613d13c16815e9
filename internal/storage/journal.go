package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a journal record does not exist.
var ErrNotFound = errors.New("record not found")

// Package is a journal row for a received package.
type Package struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	FileName  string    `json:"file_name"`
	Document  string    `json:"document"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Inspection is a journal row for one served inspection.
type Inspection struct {
	ID          string            `json:"id"`
	PackageID   string            `json:"package_id"`
	Tool        string            `json:"tool"`
	Fingerprint string            `json:"fingerprint"`
	Params      map[string]string `json:"params"`
	CacheHit    bool              `json:"cache_hit"`
	Success     bool              `json:"success"`
	Failure     string            `json:"failure,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
	Bytes       int64             `json:"bytes"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Journal records packages and inspections.
type Journal struct {
	db DB
}

// NewJournal creates a journal over db.
func NewJournal(db DB) *Journal {
	return &Journal{db: db}
}

// RecordPackage inserts a package row.
func (j *Journal) RecordPackage(ctx context.Context, p *Package) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO packages (id, tool, file_name, document, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := j.db.ExecContext(ctx, query,
		p.ID, p.Tool, p.FileName, p.Document, p.SizeBytes, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert package: %w", err)
	}
	return nil
}

// GetPackage retrieves a package by id.
func (j *Journal) GetPackage(ctx context.Context, id string) (*Package, error) {
	query := `
		SELECT id, tool, file_name, document, size_bytes, created_at
		FROM packages WHERE id = $1
	`
	p := &Package{}
	err := j.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Tool, &p.FileName, &p.Document, &p.SizeBytes, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	return p, nil
}

// RecordInspection inserts an inspection row.
func (j *Journal) RecordInspection(ctx context.Context, in *Inspection) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	params, err := json.Marshal(in.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	query := `
		INSERT INTO inspections (id, package_id, tool, fingerprint, params, cache_hit,
			success, failure, duration_ms, bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = j.db.ExecContext(ctx, query,
		in.ID, in.PackageID, in.Tool, in.Fingerprint, string(params), in.CacheHit,
		in.Success, in.Failure, in.DurationMS, in.Bytes, in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inspection: %w", err)
	}
	return nil
}

// ListInspections returns the inspections of a package, newest first.
func (j *Journal) ListInspections(ctx context.Context, packageID string, limit int) ([]Inspection, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, package_id, tool, fingerprint, params, cache_hit, success, failure,
			duration_ms, bytes, created_at
		FROM inspections WHERE package_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := j.db.QueryContext(ctx, query, packageID, limit)
	if err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	defer rows.Close()

	var out []Inspection
	for rows.Next() {
		var in Inspection
		var params string
		if err := rows.Scan(
			&in.ID, &in.PackageID, &in.Tool, &in.Fingerprint, &params, &in.CacheHit,
			&in.Success, &in.Failure, &in.DurationMS, &in.Bytes, &in.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan inspection: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &in.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", in.ID, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// DeletePackage removes a package and its inspections.
func (j *Journal) DeletePackage(ctx context.Context, id string) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM inspections WHERE package_id = $1", id); err != nil {
		return fmt.Errorf("delete inspections: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, "DELETE FROM packages WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return nil
}
