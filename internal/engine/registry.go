package engine

import (
	"fmt"
	"strings"

	"github.com/9in8/juillet/internal/bridge"
	"github.com/9in8/juillet/internal/config"
	"github.com/9in8/juillet/internal/observability"
)

// Registry holds the configured engines by tool name.
type Registry struct {
	engines map[string]*Engine
	order   []string
}

// NewRegistry builds one bridge and engine per configured entry. All
// engines share runner, which may be nil for real processes.
func NewRegistry(cfg *config.Config, runner bridge.Runner, logger *observability.Logger) (*Registry, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Registry{engines: make(map[string]*Engine, len(cfg.Engines))}

	for _, entry := range cfg.Engines {
		launcher, err := bridge.NewLauncher(bridge.LauncherConfig{
			Platform:      cfg.Engine.Platform,
			ApplicationID: entry.ApplicationID,
			ProgID:        entry.ProgID,
		})
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", entry.Tool, err)
		}

		b := bridge.New(bridge.Config{
			Script:  entry.Script,
			Timeout: cfg.Engine.Timeout,
		}, launcher, runner, logger.With().Str("engine", entry.Tool).Logger())

		eng, err := New(entry.Tool, strings.TrimPrefix(strings.ToLower(entry.Ext), "."), b)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", entry.Tool, err)
		}
		if err := r.add(eng); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// NewStaticRegistry wraps already built engines.
func NewStaticRegistry(engines ...*Engine) (*Registry, error) {
	r := &Registry{engines: make(map[string]*Engine, len(engines))}
	for _, e := range engines {
		if err := r.add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(e *Engine) error {
	if _, dup := r.engines[e.Tool()]; dup {
		return fmt.Errorf("duplicate engine %s", e.Tool())
	}
	r.engines[e.Tool()] = e
	r.order = append(r.order, e.Tool())
	return nil
}

// Get returns the engine registered as tool.
func (r *Registry) Get(tool string) (*Engine, bool) {
	e, ok := r.engines[tool]
	return e, ok
}

// Engines returns the engines in configuration order.
func (r *Registry) Engines() []*Engine {
	out := make([]*Engine, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.engines[t])
	}
	return out
}
