package app

import (
	"context"
	"time"
)

// PurgeResult lists the packages a purge removed, or would remove.
type PurgeResult struct {
	Cutoff  time.Time
	Removed []string
	DryRun  bool
}

// Purge removes the packages last modified before now minus olderThan,
// together with their journal rows. Eviction is left to operators, so
// nothing in the request path calls it.
func (a *App) Purge(ctx context.Context, olderThan time.Duration, dryRun bool) (*PurgeResult, error) {
	res := &PurgeResult{Cutoff: time.Now().Add(-olderThan), DryRun: dryRun}

	stored, err := a.Intake.List()
	if err != nil {
		return nil, err
	}

	for _, p := range stored {
		if !p.ModTime.Before(res.Cutoff) {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !dryRun {
			if err := a.Intake.Remove(p.ID); err != nil {
				return res, err
			}
			if a.Journal != nil {
				if err := a.Journal.DeletePackage(ctx, p.ID); err != nil {
					a.Logger.WithPackage(p.ID).Warn().Err(err).Msg("failed to purge journal rows")
				}
			}
		}
		res.Removed = append(res.Removed, p.ID)
	}

	a.Logger.Info().
		Int("packages", len(res.Removed)).
		Bool("dry_run", dryRun).
		Str("cutoff", res.Cutoff.Format(time.RFC3339)).
		Msg("purge finished")
	return res, nil
}
