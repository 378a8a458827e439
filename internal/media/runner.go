package media

import (
	"context"
	"io"
	"os/exec"
)

// Runner abstracts external encoder process invocation so orchestration can
// be exercised in tests without ffmpeg installed.
type Runner interface {
	// Output runs the command and returns its standard output.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Run runs the command, streaming combined diagnostic output to sink as
	// it is produced. A non-zero exit status is returned as an error.
	Run(ctx context.Context, sink io.Writer, name string, args ...string) error
}

// CommandRunner executes commands on the host.
type CommandRunner struct{}

func NewCommandRunner() CommandRunner {
	return CommandRunner{}
}

func (CommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (CommandRunner) Run(ctx context.Context, sink io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if sink != nil {
		cmd.Stdout = sink
		cmd.Stderr = sink
	}
	return cmd.Run()
}
