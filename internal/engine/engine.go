// Package engine describes the document engines juillet can drive: their
// actions, the arguments each action takes and the reports they return.
package engine

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/9in8/juillet/internal/bridge"
)

//go:embed schema/inspect.schema.json
var inspectSchemaJSON []byte

var (
	inspectSchemaOnce sync.Once
	inspectSchema     *jsonschema.Schema
	inspectSchemaErr  error
)

func compiledInspectSchema() (*jsonschema.Schema, error) {
	inspectSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("inspect.schema.json", bytes.NewReader(inspectSchemaJSON)); err != nil {
			inspectSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		inspectSchema, inspectSchemaErr = compiler.Compile("inspect.schema.json")
	})
	return inspectSchema, inspectSchemaErr
}

// Invoker starts an engine action. *bridge.Bridge satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, action string, args ...string) <-chan bridge.Outcome
}

// Options are the request parameters that change what a report contains.
type Options struct {
	Units Units
}

// Parameters returns the options as the flat set a fingerprint is taken over.
func (o Options) Parameters() map[string]string {
	return map[string]string{"units": string(o.Units)}
}

// Request asks an engine to run an action on one document.
type Request struct {
	Action       Action
	DocumentPath string
	AssetsDir    string
	Options      Options
}

// Engine is one configured document engine.
type Engine struct {
	tool    string
	ext     string
	invoker Invoker
	schema  *jsonschema.Schema
}

// New creates an engine handling documents with extension ext.
func New(tool, ext string, invoker Invoker) (*Engine, error) {
	schema, err := compiledInspectSchema()
	if err != nil {
		return nil, fmt.Errorf("compile inspect schema: %w", err)
	}
	return &Engine{tool: tool, ext: ext, invoker: invoker, schema: schema}, nil
}

// Tool is the engine name used in routes and fingerprints.
func (e *Engine) Tool() string { return e.tool }

// Ext is the document extension, without a dot.
func (e *Engine) Ext() string { return e.ext }

// ParseOptions turns raw route parameters into Options.
func (e *Engine) ParseOptions(params map[string]string) (Options, error) {
	units, err := ParseUnits(params["units"])
	if err != nil {
		return Options{}, err
	}
	return Options{Units: units}, nil
}

// Run starts the action and returns a channel delivering exactly one
// Outcome. Successful payloads that do not match the action's report
// schema are turned into unstructured failures.
func (e *Engine) Run(ctx context.Context, req Request) <-chan bridge.Outcome {
	done := make(chan bridge.Outcome, 1)

	args, err := e.args(req)
	if err != nil {
		done <- bridge.Unstructured(string(req.Action), err.Error())
		close(done)
		return done
	}

	go func() {
		defer close(done)
		out := <-e.invoker.Invoke(ctx, string(req.Action), args...)
		if out.Success {
			if err := e.validate(req.Action, out.Result); err != nil {
				failed := bridge.Unstructured(out.Action, err.Error())
				failed.ExitCode = out.ExitCode
				failed.Duration = out.Duration
				out = failed
			}
		}
		done <- out
	}()
	return done
}

func (e *Engine) args(req Request) ([]string, error) {
	switch req.Action {
	case ActionInspect:
		if req.DocumentPath == "" || req.AssetsDir == "" {
			return nil, fmt.Errorf("inspect needs a document and an assets folder")
		}
		return []string{req.DocumentPath, string(req.Options.Units), req.AssetsDir}, nil
	default:
		return nil, fmt.Errorf("unknown engine action %q", req.Action)
	}
}

func (e *Engine) validate(action Action, payload json.RawMessage) error {
	switch action {
	case ActionInspect:
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode %s report: %w", action, err)
		}
		if err := e.schema.Validate(v); err != nil {
			return fmt.Errorf("%s report does not match schema: %w", action, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown engine action %q", action)
	}
}
