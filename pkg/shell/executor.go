package shell

import (
	"context"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// killGrace bounds how long Wait keeps draining output after the process group was killed.
const killGrace = 2 * time.Second

type Command struct {
	Cmd *exec.Cmd
}

// NewCommand prepares a command that runs in its own process group. Cancelling ctx
// kills the whole group, so children spawned by compiler drivers do not outlive it.
func NewCommand(ctx context.Context, command string, args ...string) *Command {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = killGrace
	return &Command{Cmd: cmd}
}

type Result struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// RunWithOutput runs the command with stdout and stderr both written to out. A non-zero
// exit or a timeout is reported in Result, err is only set when the process could not run.
func (c *Command) RunWithOutput(ctx context.Context, dir string, out io.Writer) (*Result, error) {
	c.Cmd.Dir = dir
	c.Cmd.Stdout = out
	c.Cmd.Stderr = out

	start := time.Now()
	err := c.Cmd.Run()
	res := &Result{Duration: time.Since(start), ExitCode: c.Cmd.ProcessState.ExitCode()}
	if ctx.Err() != nil {
		res.TimedOut = true
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, nil
		}
		return res, errors.Wrap(err, "failed to run command")
	}
	return res, nil
}
