package bridge

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ErrKilled reports a process terminated because its context ended.
var ErrKilled = errors.New("process killed")

// Execution is what a finished process left behind.
type Execution struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner lets us stub the engine process in tests.
//
// Run returns a nil error whenever the process ran to completion, whatever
// its exit code. A non-nil error means it never started, or ErrKilled.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Execution, error)
}

var lookPath = exec.LookPath

const waitDelay = 2 * time.Second

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts name with args and waits for it.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Execution, error) {
	path, err := lookPath(name)
	if err != nil {
		return Execution{}, pkgerrors.Wrapf(err, "locate %s", name)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	// Grandchildren holding the pipes open must not outlive a kill.
	cmd.WaitDelay = waitDelay
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	if err := cmd.Start(); err != nil {
		return Execution{}, pkgerrors.Wrapf(err, "start %s", name)
	}

	waitErr := cmd.Wait()
	exe := Execution{Stdout: out.Bytes(), Stderr: errb.Bytes()}
	if cmd.ProcessState != nil {
		exe.ExitCode = cmd.ProcessState.ExitCode()
	}
	return exe, waitResult(ctx, name, waitErr)
}

// waitResult interprets the error of Wait. A process that exited on its own
// is never reported as killed, even when the deadline passed meanwhile.
func waitResult(ctx context.Context, name string, waitErr error) error {
	if waitErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ErrKilled
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return nil
	}
	return pkgerrors.Wrapf(waitErr, "wait %s", name)
}
