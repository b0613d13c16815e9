// Package bridge runs a document engine as a subprocess and turns whatever it
// leaves on stdout, stderr and its exit status into exactly one Outcome.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/9in8/juillet/internal/observability"
)

// FailureKind classifies a failed Outcome.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureSpawn means the engine process could not be started.
	FailureSpawn FailureKind = "spawn"
	// FailureEngine means the engine reported a structured exception.
	FailureEngine FailureKind = "engine"
	// FailureUnstructured means the engine failed without a usable payload.
	FailureUnstructured FailureKind = "unstructured"
)

// Outcome is the single result of one engine invocation. It marshals to
// the envelope returned to clients and persisted in the cache.
type Outcome struct {
	Success  bool            `json:"success"`
	Action   string          `json:"action"`
	Result   json.RawMessage `json:"result"`
	Failure  FailureKind     `json:"failure,omitempty"`
	ExitCode int             `json:"-"`
	Duration time.Duration   `json:"-"`
}

// Exception is the structured failure payload emitted by engine scripts.
type Exception struct {
	Exception string          `json:"exception"`
	Error     string          `json:"error"`
	File      string          `json:"file,omitempty"`
	Line      json.RawMessage `json:"line,omitempty"`
}

// Config configures a Bridge.
type Config struct {
	Script  string
	Timeout time.Duration
}

// Bridge invokes one engine script through a Launcher.
type Bridge struct {
	launcher Launcher
	runner   Runner
	cfg      Config
	logger   *observability.Logger
}

// New creates a Bridge. A nil runner uses ExecRunner.
func New(cfg Config, launcher Launcher, runner Runner, logger *observability.Logger) *Bridge {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bridge{launcher: launcher, runner: runner, cfg: cfg, logger: logger}
}

// Invoke starts the action and returns immediately. The channel delivers
// exactly one Outcome and is then closed. The process is bounded by the
// configured timeout, not by the caller giving up on the channel.
func (b *Bridge) Invoke(ctx context.Context, action string, args ...string) <-chan Outcome {
	done := make(chan Outcome, 1)
	go func() {
		defer close(done)
		done <- b.run(ctx, action, args)
	}()
	return done
}

// Call is the blocking form of Invoke.
func (b *Bridge) Call(ctx context.Context, action string, args ...string) Outcome {
	return <-b.Invoke(ctx, action, args...)
}

func (b *Bridge) run(ctx context.Context, action string, args []string) Outcome {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	name, argv := b.launcher.Command(b.cfg.Script, action, args)
	log := b.logger.With().Str("action", action).Str("command", name).Logger()
	log.Debug().Strs("args", argv).Msg("invoking engine")

	start := time.Now()
	exe, err := b.runner.Run(ctx, name, argv...)
	out := classify(action, exe, err, b.cfg.Timeout)
	out.Duration = time.Since(start)

	var evt *observability.LogEvent
	if out.Success {
		evt = log.Info()
	} else {
		evt = log.Warn().Str("failure", string(out.Failure)).Str("stderr", truncate(string(exe.Stderr), 8<<10))
		if out.Failure == FailureSpawn {
			evt = evt.Stack().Err(err)
		}
	}
	evt.Int("exit_code", out.ExitCode).
		Int("stdout_bytes", len(exe.Stdout)).
		Dur("duration", out.Duration).
		Msg("engine finished")

	return out
}

// classify maps a finished (or unstartable) process onto an Outcome.
func classify(action string, exe Execution, runErr error, timeout time.Duration) Outcome {
	out := Outcome{Action: action, ExitCode: exe.ExitCode}

	switch {
	case errors.Is(runErr, ErrKilled):
		out.Failure = FailureUnstructured
		out.Result = lines(exe.Stderr, fmt.Sprintf("engine did not finish within %s and was killed", timeout))
		return out
	case runErr != nil:
		out.Failure = FailureSpawn
		out.ExitCode = -1
		out.Result = mustJSON([]string{runErr.Error()})
		return out
	case exe.ExitCode != 0:
		out.Failure = FailureUnstructured
		out.Result = lines(exe.Stderr, fmt.Sprintf("engine exited with code %d", exe.ExitCode))
		return out
	}

	payload := bytes.TrimSpace(exe.Stdout)
	if len(payload) == 0 {
		out.Failure = FailureUnstructured
		out.Result = lines(exe.Stderr, "engine produced no output")
		return out
	}
	if !json.Valid(payload) {
		out.Failure = FailureUnstructured
		out.Result = lines(exe.Stderr, "engine output is not valid JSON")
		return out
	}

	var fields map[string]json.RawMessage
	if json.Unmarshal(payload, &fields) == nil {
		if _, ok := fields["exception"]; ok {
			out.Failure = FailureEngine
			out.Result = json.RawMessage(payload)
			return out
		}
	}

	out.Success = true
	out.Result = json.RawMessage(payload)
	return out
}

// lines renders stderr as a JSON array of its non-empty lines, falling
// back to diagnostic when stderr is empty.
func lines(stderr []byte, diagnostic string) json.RawMessage {
	var result []string
	for _, l := range strings.Split(string(stderr), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			result = append(result, l)
		}
	}
	if len(result) == 0 {
		result = []string{diagnostic}
	}
	return mustJSON(result)
}

// Exception decodes the structured failure of an engine Outcome.
func (o Outcome) Exception() (Exception, bool) {
	if o.Failure != FailureEngine {
		return Exception{}, false
	}
	var ex Exception
	if err := json.Unmarshal(o.Result, &ex); err != nil {
		return Exception{}, false
	}
	return ex, true
}

// Messages decodes the stderr lines of a spawn or unstructured Outcome.
func (o Outcome) Messages() []string {
	var msgs []string
	if o.Failure == FailureSpawn || o.Failure == FailureUnstructured {
		_ = json.Unmarshal(o.Result, &msgs)
	}
	return msgs
}

// Unstructured builds a failure Outcome for problems found after the
// engine returned, such as a payload that fails validation.
func Unstructured(action string, messages ...string) Outcome {
	return Outcome{Action: action, Failure: FailureUnstructured, Result: mustJSON(messages)}
}

func mustJSON(v []string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
