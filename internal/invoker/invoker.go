package invoker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/averlard/custos/internal/domain"
)

// Result captures the outcome of one engine invocation.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
}

// Invoker runs the external backup engine. The orchestration core treats it
// as an opaque asynchronous function; onOutput receives stdout lines as they
// are produced.
type Invoker interface {
	Invoke(ctx context.Context, args []string, onOutput func(line string)) (*Result, error)
}

// EngineInvoker executes the engine binary as a subprocess. Cancelling the
// context terminates the process, which is how job cancellation reaches the
// engine.
type EngineInvoker struct {
	binary  string
	timeout time.Duration // 0 disables the deadline
	log     *log.Logger
}

// New creates an invoker for the given engine binary. A non-zero timeout
// force-fails runs that exceed it.
func New(binary string, timeout time.Duration, logger *log.Logger) *EngineInvoker {
	return &EngineInvoker{
		binary:  binary,
		timeout: timeout,
		log:     logger,
	}
}

func (e *EngineInvoker) Invoke(ctx context.Context, args []string, onOutput func(line string)) (*Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stdout pipe: %w", err)
	}

	e.log.Debug("Invoking backup engine", "binary", e.binary, "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine process: %w", err)
	}

	var stdout strings.Builder
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		stdout.WriteString(line)
		stdout.WriteByte('\n')
		if onOutput != nil {
			onOutput(line)
		}
	}

	waitErr := cmd.Wait()

	result := &Result{
		Success:  waitErr == nil,
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return result, fmt.Errorf("engine run exceeded %s: %w", e.timeout, domain.ErrExternalFailure)
			}
			return result, fmt.Errorf("engine run cancelled: %w", ctxErr)
		}
		return result, fmt.Errorf("engine exited with code %d: %s: %w",
			result.ExitCode, firstLine(result.Stderr), domain.ErrExternalFailure)
	}

	return result, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "no error output"
	}
	return s
}
