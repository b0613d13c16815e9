package inspection

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/9in8/juillet/internal/bridge"
	"github.com/9in8/juillet/internal/cache"
	"github.com/9in8/juillet/internal/domain"
	"github.com/9in8/juillet/internal/engine"
	"github.com/9in8/juillet/internal/intake"
	"github.com/9in8/juillet/internal/observability"
	"github.com/9in8/juillet/internal/rewrite"
	"github.com/9in8/juillet/internal/storage"
)

// Stale policies.
const (
	StaleNever       = "never"
	StaleSourceMtime = "source_mtime"
)

// leaseAttempts bounds how many lease holders a request waits out before
// computing without a lease.
const leaseAttempts = 3

// Packages opens received packages.
type Packages interface {
	Open(id, docExt string) (*intake.Package, error)
	StorageRoot() string
}

// Recorder journals served inspections.
type Recorder interface {
	RecordInspection(ctx context.Context, in *storage.Inspection) error
}

// Config tunes a Resolver.
type Config struct {
	StalePolicy  string
	PollInterval time.Duration
	LeaseTTL     time.Duration
}

// Request asks for the report of one package.
type Request struct {
	PackageID string
	Tool      string
	Params    map[string]string
	// BaseURL replaces the {hostname} placeholder in the served report.
	BaseURL string
}

// Result is a served inspection.
type Result struct {
	Outcome     bridge.Outcome
	Fingerprint string
	CacheHit    bool
	Duration    time.Duration
	Bytes       int
}

type computed struct {
	outcome  bridge.Outcome
	cacheHit bool
}

// Resolver answers inspection requests from the cache, running the engine
// on a miss.
type Resolver struct {
	cfg      Config
	engines  *engine.Registry
	packages Packages
	store    *Store
	leaser   *cache.Leaser
	recorder Recorder
	group    singleflight.Group
	logger   *observability.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLeaser coordinates computations with other processes sharing the storage.
func WithLeaser(l *cache.Leaser) Option {
	return func(r *Resolver) { r.leaser = l }
}

// WithRecorder journals every served inspection.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config, engines *engine.Registry, packages Packages, logger *observability.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.StalePolicy == "" {
		cfg.StalePolicy = StaleNever
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	r := &Resolver{
		cfg:      cfg,
		engines:  engines,
		packages: packages,
		store:    NewStore(logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the report for req. Engine failures come back as a
// Result whose Outcome is not successful; an error means the request
// itself could not be served.
//
// The computation is detached from ctx. When ctx ends first the caller
// gets a timeout error while the engine keeps running and its result is
// cached for the next request.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	eng, ok := r.engines.Get(req.Tool)
	if !ok {
		return nil, domain.NotFoundError(fmt.Sprintf("unknown engine %q", req.Tool), nil)
	}
	opts, err := eng.ParseOptions(req.Params)
	if err != nil {
		return nil, domain.ValidationError(err.Error(), err)
	}
	pkg, err := r.packages.Open(req.PackageID, eng.Ext())
	if err != nil {
		return nil, err
	}

	params := opts.Parameters()
	fp := Fingerprint(eng.Tool(), params)
	log := r.logger.WithContext(ctx).WithPackage(pkg.ID).With().
		Str("engine", eng.Tool()).
		Str("fingerprint", fp).
		Logger()

	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(pkg.ID+":"+fp, func() (any, error) {
		return r.compute(detached, log, eng, pkg, opts, fp)
	})

	var c computed
	select {
	case <-ctx.Done():
		log.Warn().Dur("waited", time.Since(start)).Msg("inspection still running, request gave up")
		return nil, domain.TimeoutError("inspection did not finish in time, retry later", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		c = res.Val.(computed)
	}

	out := c.outcome
	if out.Success {
		expanded, err := rewrite.Expand(out.Result, map[string]string{rewrite.HostnameToken: req.BaseURL})
		if err != nil {
			return nil, domain.IOError("rewrite report", err)
		}
		out.Result = expanded
	}

	result := &Result{
		Outcome:     out,
		Fingerprint: fp,
		CacheHit:    c.cacheHit,
		Duration:    time.Since(start),
		Bytes:       len(out.Result),
	}

	var evt *observability.LogEvent
	if out.Success {
		evt = log.Info()
	} else {
		evt = log.Warn().Str("failure", string(out.Failure))
	}
	evt.Bool("cache_hit", result.CacheHit).
		Int("bytes", result.Bytes).
		Dur("duration", result.Duration).
		Msg("inspection served")

	r.record(detached, log, pkg.ID, eng.Tool(), params, result)
	return result, nil
}

func (r *Resolver) compute(ctx context.Context, log *observability.Logger, eng *engine.Engine, pkg *intake.Package, opts engine.Options, fp string) (computed, error) {
	path := EntryPath(pkg.Dir, fp)
	notBefore, err := r.notBefore(pkg, eng.Ext())
	if err != nil {
		return computed{}, err
	}

	if out, ok := r.store.Load(path, notBefore); ok {
		return computed{outcome: out, cacheHit: true}, nil
	}

	lease, out, ok := r.acquire(ctx, log, pkg.ID+":"+fp, path, notBefore)
	if ok {
		return computed{outcome: out, cacheHit: true}, nil
	}
	if lease != nil {
		defer func() {
			if err := lease.Release(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to release inspection lease")
			}
		}()
		// the previous holder may have finished just before we took over
		if out, ok := r.store.Load(path, notBefore); ok {
			return computed{outcome: out, cacheHit: true}, nil
		}
	}

	log.Debug().Str("document", pkg.Document.Preferred()).Msg("cache miss, running engine")
	out = <-eng.Run(ctx, engine.Request{
		Action:       engine.ActionInspect,
		DocumentPath: pkg.Document.Preferred(),
		AssetsDir:    pkg.AssetsDir(),
		Options:      opts,
	})
	if !out.Success {
		return computed{outcome: out}, nil
	}

	portable, err := rewrite.Portable(out.Result, r.packages.StorageRoot())
	if err != nil {
		failed := bridge.Unstructured(out.Action, err.Error())
		failed.ExitCode = out.ExitCode
		failed.Duration = out.Duration
		return computed{outcome: failed}, nil
	}
	out.Result = portable

	if err := r.store.Save(path, out); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to persist inspection")
	}
	return computed{outcome: out}, nil
}

// acquire takes the cross-process lease on key. While another process
// holds it, acquire polls for the entry that process is producing and
// returns it with ok set. A nil lease without ok means compute unguarded.
func (r *Resolver) acquire(ctx context.Context, log *observability.Logger, key, path string, notBefore time.Time) (*cache.Lease, bridge.Outcome, bool) {
	if r.leaser == nil {
		return nil, bridge.Outcome{}, false
	}

	for attempt := 0; attempt < leaseAttempts; attempt++ {
		lease, err := r.leaser.TryAcquire(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("lease backend unavailable, computing without lease")
			return nil, bridge.Outcome{}, false
		}
		if lease != nil {
			return lease, bridge.Outcome{}, false
		}

		log.Debug().Int("attempt", attempt+1).Msg("inspection leased elsewhere, waiting")
		if out, ok := r.wait(ctx, key, path, notBefore); ok {
			return nil, out, true
		}
	}

	log.Warn().Msg("inspection lease never freed, computing without lease")
	return nil, bridge.Outcome{}, false
}

// wait polls until the entry appears, the lease is released or one lease
// lifetime has passed.
func (r *Resolver) wait(ctx context.Context, key, path string, notBefore time.Time) (bridge.Outcome, bool) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(r.cfg.LeaseTTL)

	for {
		select {
		case <-ctx.Done():
			return bridge.Outcome{}, false
		case <-ticker.C:
		}

		if out, ok := r.store.Load(path, notBefore); ok {
			return out, true
		}
		held, err := r.leaser.Held(ctx, key)
		if err != nil || !held || time.Now().After(deadline) {
			return bridge.Outcome{}, false
		}
	}
}

func (r *Resolver) notBefore(pkg *intake.Package, ext string) (time.Time, error) {
	if r.cfg.StalePolicy != StaleSourceMtime {
		return time.Time{}, nil
	}
	return intake.SourcesModTime(pkg.Dir, ext)
}

func (r *Resolver) record(ctx context.Context, log *observability.Logger, pkgID, tool string, params map[string]string, res *Result) {
	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := r.recorder.RecordInspection(ctx, &storage.Inspection{
		PackageID:   pkgID,
		Tool:        tool,
		Fingerprint: res.Fingerprint,
		Params:      params,
		CacheHit:    res.CacheHit,
		Success:     res.Outcome.Success,
		Failure:     string(res.Outcome.Failure),
		DurationMS:  res.Duration.Milliseconds(),
		Bytes:       int64(res.Bytes),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to journal inspection")
	}
}
