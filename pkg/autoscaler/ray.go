package autoscaler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

// Runner invokes the autoscaler CLI.
type Runner interface {
	Up(ctx context.Context, configPath string) error
}

// RunError is a failed autoscaler invocation. Output keeps the tail of what it printed
// so callers can classify the cloud error behind it.
type RunError struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *RunError) Error() string {
	last := lastLine(e.Output)
	if last == "" {
		return fmt.Sprintf("%s exited with status %d", strings.Join(e.Args, " "), e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", strings.Join(e.Args, " "), e.ExitCode, last)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// RayCLI shells out to the ray binary.
type RayCLI struct {
	Binary string
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

var _ Runner = RayCLI{}

const outputTailLines = 50

func (r RayCLI) Up(ctx context.Context, configPath string) error {
	return r.run(ctx, "up", "-y", "--no-config-cache", configPath)
}

func (r RayCLI) run(ctx context.Context, args ...string) error {
	binary := r.Binary
	if binary == "" {
		binary = "ray"
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stdout := r.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := r.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec // binary is configured by the user
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}

	logger.Debug("running autoscaler", zap.String("binary", binary), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return dafterrors.WrapAndTrace(err, "is ray installed? set DAFT_RAY_BINARY to its path")
	}

	tail := &tailBuffer{max: outputTailLines}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		stream(outPipe, stdout, tail)
	}()
	go func() {
		defer wg.Done()
		stream(errPipe, stderr, tail)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if dafterrors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &RunError{
			Args:     append([]string{binary}, args...),
			ExitCode: code,
			Output:   tail.String(),
			Err:      err,
		}
	}
	return nil
}

func stream(r io.Reader, w io.Writer, tail *tailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		_, _ = fmt.Fprintln(w, line)
		tail.Add(line)
	}
}

type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
