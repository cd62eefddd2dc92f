//go:build linux

package core

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	syscgroup "github.com/ja7ad/mergen/pkg/system/cgroup"
)

// requiredBinaries must be resolvable on PATH before a run starts.
var requiredBinaries = []string{"cgcreate", "cgset", "cgdelete", "cgexec", "perf"}

// RunContext carries the run-wide state shared by every executor: input and
// output paths, entity filters and the run logger. Prepare materializes the
// timestamped run directory; Validate checks host preconditions.
type RunContext struct {
	PlanPath string
	WorkPath string
	LogLevel string

	FilterPlan  string
	FilterSuite string
	FilterCase  string

	runPath string
	logger  *slog.Logger
	logFile *os.File
}

// NewRunContext returns a context rooted at the given plan and work paths.
func NewRunContext(planPath, workPath string) *RunContext {
	return &RunContext{PlanPath: planPath, WorkPath: workPath}
}

// RunPath is the timestamped output root of this run; empty before Prepare.
func (c *RunContext) RunPath() string { return c.runPath }

// Logger returns the run logger, falling back to the default logger when the
// context was not prepared (tests).
func (c *RunContext) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Prepare creates the work directory and the UTC-timestamped run directory
// under it, then wires the run logger to stderr and <run_path>/mergen.log.
func (c *RunContext) Prepare() error {
	if err := os.MkdirAll(c.WorkPath, 0o755); err != nil {
		return fmt.Errorf("%w: create work path %s: %v", ErrPrecondition, c.WorkPath, err)
	}
	c.runPath = filepath.Join(c.WorkPath, time.Now().UTC().Format("20060102_150405"))
	if err := os.MkdirAll(c.runPath, 0o755); err != nil {
		return fmt.Errorf("%w: create run path %s: %v", ErrPrecondition, c.runPath, err)
	}

	w := io.Writer(os.Stderr)
	f, err := os.Create(filepath.Join(c.runPath, "mergen.log"))
	if err == nil {
		c.logFile = f
		w = io.MultiWriter(os.Stderr, f)
	}
	c.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.level()}))
	return nil
}

func (c *RunContext) level() slog.Level {
	switch c.LogLevel {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn", "WARNING", "warning":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close releases the run log file handle.
func (c *RunContext) Close() {
	if c.logFile != nil {
		_ = c.logFile.Close()
		c.logFile = nil
	}
}

// Validate checks host preconditions: Linux only, required binaries on PATH,
// an existing plan path and a mounted unified cgroup hierarchy.
func (c *RunContext) Validate() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("%w: Linux support only", ErrPrecondition)
	}
	for _, bin := range requiredBinaries {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: command %s not found", ErrPrecondition, bin)
		}
	}
	if _, err := os.Stat(c.PlanPath); err != nil {
		return fmt.Errorf("%w: plan path %s does not exist", ErrPrecondition, c.PlanPath)
	}
	if err := syscgroup.RequireV2(); err != nil {
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	return nil
}
