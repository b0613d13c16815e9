package bridge

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner replays a canned execution and records what it was asked to run.
type stubRunner struct {
	exe   Execution
	err   error
	calls atomic.Int32
	name  string
	args  []string
}

func (s *stubRunner) Run(ctx context.Context, name string, args ...string) (Execution, error) {
	s.calls.Add(1)
	s.name = name
	s.args = args
	return s.exe, s.err
}

func newTestBridge(r Runner) *Bridge {
	return New(Config{Script: "/opt/juillet/indesign.jsx", Timeout: time.Minute}, DirectLauncher{}, r, nil)
}

func TestCall_Success(t *testing.T) {
	runner := &stubRunner{exe: Execution{Stdout: []byte(`{"fonts":[],"pages":[]}` + "\n")}}
	out := newTestBridge(runner).Call(context.Background(), "inspect", "/doc.idml", "pt", "/assets")

	assert.True(t, out.Success)
	assert.Equal(t, "inspect", out.Action)
	assert.Equal(t, FailureNone, out.Failure)
	assert.JSONEq(t, `{"fonts":[],"pages":[]}`, string(out.Result))

	assert.Equal(t, "/opt/juillet/indesign.jsx", runner.name)
	assert.Equal(t, []string{"inspect", "/doc.idml", "pt", "/assets"}, runner.args)
}

func TestCall_EngineException(t *testing.T) {
	payload := `{"exception":"Error","error":"document is damaged","file":"indesign.jsx","line":42}`
	out := newTestBridge(&stubRunner{exe: Execution{Stdout: []byte(payload)}}).Call(context.Background(), "inspect")

	assert.False(t, out.Success)
	assert.Equal(t, FailureEngine, out.Failure)
	ex, ok := out.Exception()
	require.True(t, ok)
	assert.Equal(t, "document is damaged", ex.Error)
	assert.Equal(t, "42", string(ex.Line))
}

func TestCall_Unstructured(t *testing.T) {
	tests := []struct {
		name string
		exe  Execution
		err  error
		want []string
	}{
		{
			name: "non-zero exit with stderr",
			exe:  Execution{Stderr: []byte("execution error: InDesign got an error\n\n  line two \n"), ExitCode: 1},
			want: []string{"execution error: InDesign got an error", "line two"},
		},
		{
			name: "non-zero exit without stderr",
			exe:  Execution{ExitCode: 3},
			want: []string{"engine exited with code 3"},
		},
		{
			name: "empty stdout",
			exe:  Execution{Stdout: []byte("  \n")},
			want: []string{"engine produced no output"},
		},
		{
			name: "garbage stdout",
			exe:  Execution{Stdout: []byte("{not json")},
			want: []string{"engine output is not valid JSON"},
		},
		{
			name: "killed",
			exe:  Execution{ExitCode: -1},
			err:  ErrKilled,
			want: []string{"engine did not finish within 1m0s and was killed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newTestBridge(&stubRunner{exe: tt.exe, err: tt.err}).Call(context.Background(), "inspect")
			assert.False(t, out.Success)
			assert.Equal(t, FailureUnstructured, out.Failure)
			assert.Equal(t, tt.want, out.Messages())
		})
	}
}

func TestCall_Spawn(t *testing.T) {
	out := newTestBridge(&stubRunner{err: errors.New("exec: \"osascript\": executable file not found")}).
		Call(context.Background(), "inspect")

	assert.False(t, out.Success)
	assert.Equal(t, FailureSpawn, out.Failure)
	assert.Equal(t, -1, out.ExitCode)
	assert.Len(t, out.Messages(), 1)
}

func TestInvoke_DeliversExactlyOnce(t *testing.T) {
	ch := newTestBridge(&stubRunner{exe: Execution{Stdout: []byte(`{}`)}}).Invoke(context.Background(), "inspect")

	first, ok := <-ch
	require.True(t, ok)
	assert.True(t, first.Success)

	_, ok = <-ch
	assert.False(t, ok, "channel must be closed after the single outcome")
}

func TestOutcome_EnvelopeJSON(t *testing.T) {
	ok := Outcome{Success: true, Action: "inspect", Result: []byte(`{"pages":[]}`), ExitCode: 0}
	body, err := jsonMarshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"action":"inspect","result":{"pages":[]}}`, body)

	failed := Unstructured("inspect", "report does not match schema")
	body, err = jsonMarshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"action":"inspect","result":["report does not match schema"],"failure":"unstructured"}`, body)
}

func TestExecRunner_RealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine needs a POSIX shell")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "engine.sh")
	body := "#!/bin/sh\n" +
		"if [ \"$1\" = \"fail\" ]; then echo 'boom' >&2; exit 2; fi\n" +
		"if [ \"$1\" = \"slow\" ]; then exec sleep 5; fi\n" +
		"printf '{\"action\":\"%s\",\"file\":\"%s\"}' \"$1\" \"$2\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	b := New(Config{Script: script, Timeout: 2 * time.Second}, DirectLauncher{}, ExecRunner{}, nil)

	out := b.Call(context.Background(), "inspect", "doc.idml")
	require.True(t, out.Success, "messages: %v", out.Messages())
	assert.JSONEq(t, `{"action":"inspect","file":"doc.idml"}`, string(out.Result))

	out = b.Call(context.Background(), "fail")
	assert.Equal(t, FailureUnstructured, out.Failure)
	assert.Equal(t, 2, out.ExitCode)
	assert.Equal(t, []string{"boom"}, out.Messages())

	short := New(Config{Script: script, Timeout: 100 * time.Millisecond}, DirectLauncher{}, ExecRunner{}, nil)
	out = short.Call(context.Background(), "slow")
	assert.Equal(t, FailureUnstructured, out.Failure)
}

func TestWaitResult(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, waitResult(expired, "engine", nil), "exited on its own at the deadline")
	assert.ErrorIs(t, waitResult(expired, "engine", errors.New("signal: killed")), ErrKilled)
	assert.NoError(t, waitResult(context.Background(), "engine", &exec.ExitError{}))

	err := waitResult(context.Background(), "engine", errors.New("copy stdout: broken pipe"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKilled)
	assert.Contains(t, err.Error(), "wait engine")
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), filepath.Join(t.TempDir(), "no-such-engine"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKilled)
}
