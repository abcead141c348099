package ffbuild

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Runner runs a prepared command to completion. Everything that shells out
// goes through a Runner so tests can record commands instead of running them.
type Runner interface {
	Run(cmd *exec.Cmd) error
}

// Executor runs commands in their own process group and kills the whole
// group when its context is cancelled, so an interrupted make takes its
// compiler children with it.
type Executor struct {
	Context context.Context
}

func NewExecutor(ctx context.Context) *Executor {
	return &Executor{Context: ctx}
}

// Run wires default stdio, starts cmd and waits for it.
func (e *Executor) Run(cmd *exec.Cmd) error {
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(cmd.Env) == 0 {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := e.Context.Err(); err != nil {
		return fmt.Errorf("command aborted: %v", err)
	}
	debugf("=> exec %s (in %s)\n", strings.Join(cmd.Args, " "), cmd.Dir)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Args[0], err)
	}

	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.Context.Done():
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-done:
		}
	}()

	if err := cmd.Wait(); err != nil {
		if e.Context.Err() != nil {
			return fmt.Errorf("command aborted: %v", e.Context.Err())
		}
		return err
	}
	return nil
}

// command prepares name with args in dir, writing combined output to out.
func command(dir string, env []string, out io.Writer, name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd
}

// output runs name and returns its trimmed stdout.
func output(r Runner, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := r.Run(cmd); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
