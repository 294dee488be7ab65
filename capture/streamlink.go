package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// stderrTailSize bounds how much subprocess stderr is kept for error messages.
const stderrTailSize = 4096

// tailBuffer keeps the last stderrTailSize bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTailSize; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

type streamlinkProcess struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
}

func (p *streamlinkProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *streamlinkProcess) Wait() error {
	err := p.cmd.Wait()
	if err != nil {
		if tail := p.stderr.String(); tail != "" {
			return fmt.Errorf("streamlink: %w: %s", err, tail)
		}
		return fmt.Errorf("streamlink: %w", err)
	}
	return nil
}

// StreamlinkLauncher returns a LaunchFunc running the streamlink CLI. extraArgs are
// appended verbatim (e.g. "--http-header", "Authorization=OAuth <token>").
func StreamlinkLauncher(extraArgs ...string) LaunchFunc {
	return func(ctx context.Context, source, quality, out string) (Process, error) {
		args := []string{source, quality, "-o", out, "--force"}
		args = append(args, extraArgs...)
		cmd := exec.CommandContext(ctx, "streamlink", args...) //nolint:gosec // channel and output path are built internally
		stderr := &tailBuffer{}
		cmd.Stdout = stderr
		cmd.Stderr = stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start streamlink: %w", err)
		}
		return &streamlinkProcess{cmd: cmd, stderr: stderr}, nil
	}
}
