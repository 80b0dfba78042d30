package tools

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// Result captures one finished session command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
}

// CommandRunner abstracts session command execution for the stub broker.
type CommandRunner interface {
	Run(ctx context.Context, cmd []string, env []string) (Result, error)
}

// ExecRunner executes commands on the local host with env appended to the
// broker's own environment.
type ExecRunner struct{}

var ErrEmptyCommand = errors.New("tools: empty command")

func (r ExecRunner) Run(ctx context.Context, argv []string, env []string) (Result, error) {
	if len(argv) == 0 || argv[0] == "" {
		return Result{ExitCode: 127}, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = int32(exitErr.ExitCode())
		return res, err
	}

	res.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		res.ExitCode = 127
	}
	return res, err
}
