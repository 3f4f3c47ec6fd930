package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// ShellBackend runs the strategy payload's command through "sh -c".
// Subprocesses get their own process group so a timeout kills the whole
// tree, not just the immediate child.
type ShellBackend struct {
	workDir string
	log     zerolog.Logger
}

// NewShellBackend builds a shell adapter rooted at workDir. Empty
// workDir means the process working directory.
func NewShellBackend(workDir string, log zerolog.Logger) *ShellBackend {
	return &ShellBackend{workDir: workDir, log: log}
}

// Name implements Backend.
func (s *ShellBackend) Name() string { return "shell" }

// Execute runs the payload command. The work item's identity is exposed
// to the command through SWARMD_* environment variables.
func (s *ShellBackend) Execute(ctx context.Context, req Request) (*Result, error) {
	command, ok := req.Payload["command"].(string)
	if !ok || command == "" {
		return nil, fmt.Errorf("shell backend: strategy payload has no command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative PID targets the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Env = append(os.Environ(),
		"SWARMD_ITEM_ID="+req.ItemID,
		"SWARMD_ITEM_TITLE="+req.Title,
	)

	stdout, stderr, err := runDrained(cmd)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("shell backend: %w", ctx.Err())
		}
		if len(stderr) > 0 {
			return nil, fmt.Errorf("shell backend: %w (stderr: %s)", err, bytes.TrimSpace(stderr))
		}
		return nil, fmt.Errorf("shell backend: %w", err)
	}

	s.log.Debug().Str("item", req.ItemID).Int("stdout_bytes", len(stdout)).
		Msg("shell command completed")
	return &Result{Output: string(stdout)}, nil
}

// runDrained starts the command and drains stdout and stderr
// concurrently before Wait, so output larger than the pipe buffer
// cannot deadlock the child.
func runDrained(cmd *exec.Cmd) (stdout, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start: %w", err)
	}

	var wg sync.WaitGroup
	var outBuf, errBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&outBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&errBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	return outBuf.Bytes(), errBuf.Bytes(), waitErr
}
