//go:build linux

package collector

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ja7ad/mergen/pkg/core"
	"github.com/ja7ad/mergen/pkg/entity"
	syscgroup "github.com/ja7ad/mergen/pkg/system/cgroup"
)

// Process-wide stat file handles keyed by absolute path, so concurrent
// collectors scraping the same source share one reader and one ordered log
// stream per destination.
var (
	statMu      sync.Mutex
	statReaders = map[string]*statReader{}
	statLoggers = map[string]*statLogger{}
)

func readerFor(path string) *statReader {
	statMu.Lock()
	defer statMu.Unlock()
	if r, ok := statReaders[path]; ok {
		return r
	}
	r := &statReader{path: path}
	statReaders[path] = r
	return r
}

func loggerFor(path string) *statLogger {
	statMu.Lock()
	defer statMu.Unlock()
	if l, ok := statLoggers[path]; ok {
		return l
	}
	l := &statLogger{path: path, first: true}
	statLoggers[path] = l
	return l
}

// statReader lazily opens a controller stat file and parses its two
// recognized shapes: two-column "<key> <value>" lines, or labeled
// "<label> k1=v1 k2=v2 ..." lines.
type statReader struct {
	path string
	mu   sync.Mutex
	fh   *os.File
}

func (r *statReader) read() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fh == nil {
		f, err := os.Open(r.path)
		if err != nil {
			return nil, fmt.Errorf("open stat file %s: %w", r.path, err)
		}
		r.fh = f
	}
	if _, err := r.fh.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek stat file %s: %w", r.path, err)
	}
	data, err := io.ReadAll(r.fh)
	if err != nil {
		return nil, fmt.Errorf("read stat file %s: %w", r.path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// Headers parses the column names, prefixed with "timestamp".
func (r *statReader) Headers() ([]string, error) {
	lines, err := r.read()
	if err != nil {
		return nil, err
	}
	headers := []string{"timestamp"}
	for _, line := range lines {
		fields := strings.Fields(line)
		switch {
		case len(fields) == 2 && !strings.Contains(fields[1], "="):
			headers = append(headers, fields[0])
		case len(fields) > 1 && strings.Contains(fields[1], "="):
			label := fields[0]
			for _, kv := range fields[1:] {
				k, _, ok := strings.Cut(kv, "=")
				if !ok {
					return nil, fmt.Errorf("%w: unable to parse headers from %s: %q", core.ErrConfig, r.path, line)
				}
				headers = append(headers, label+"_"+k)
			}
		default:
			return nil, fmt.Errorf("%w: unable to parse headers from %s: %q", core.ErrConfig, r.path, line)
		}
	}
	return headers, nil
}

// Values parses one sample, prefixed with an ISO timestamp.
func (r *statReader) Values() ([]string, error) {
	lines, err := r.read()
	if err != nil {
		return nil, err
	}
	values := []string{time.Now().Format(time.RFC3339Nano)}
	for _, line := range lines {
		fields := strings.Fields(line)
		switch {
		case len(fields) == 2 && !strings.Contains(fields[1], "="):
			values = append(values, fields[1])
		case len(fields) > 1 && strings.Contains(fields[1], "="):
			for _, kv := range fields[1:] {
				_, v, ok := strings.Cut(kv, "=")
				if !ok {
					return nil, fmt.Errorf("%w: unable to parse values from %s: %q", core.ErrConfig, r.path, line)
				}
				values = append(values, v)
			}
		default:
			return nil, fmt.Errorf("%w: unable to parse values from %s: %q", core.ErrConfig, r.path, line)
		}
	}
	return values, nil
}

// statLogger appends rows to a sample log, writing the header row once and
// flushing after every row.
type statLogger struct {
	path  string
	mu    sync.Mutex
	fh    *os.File
	first bool
}

// FirstCall reports and clears the first-call flag.
func (l *statLogger) FirstCall() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.first {
		l.first = false
		return true
	}
	return false
}

func (l *statLogger) Line(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fh == nil {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open stat log %s: %w", l.path, err)
		}
		l.fh = f
	}
	if _, err := l.fh.WriteString(s + "\n"); err != nil {
		return err
	}
	return l.fh.Sync()
}

// CGroupStat periodically scrapes the stat files of every controller in the
// cgroups exposed by the collecting frame. Sampling starts after a ramp
// delay and repeats on the interval until the worker is joined.
type CGroupStat struct {
	Thread

	Ramp     float64
	Interval float64
}

func NewCGroupStat(ctx *core.RunContext, spec entity.CollectorSpec) *CGroupStat {
	c := &CGroupStat{
		Thread:   Thread{base: base{ctx: ctx, name: spec.Name}},
		Ramp:     spec.Ramp,
		Interval: spec.Interval,
	}
	if c.Interval <= 0 {
		c.Interval = 1
	}
	c.run = c.sample
	return c
}

func (c *CGroupStat) sample(frame *core.Frame, w *core.Worker) {
	dir, err := core.RunPath(c.ctx, frame)
	if err != nil {
		c.ctx.Logger().Error("cgroup collector output path", "collector", c.name, "err", err)
		return
	}

	if !w.Sleep(seconds(c.Ramp)) {
		return
	}
	for !w.JoinRequested() {
		for _, group := range frame.CGroups() {
			for _, ctrl := range group.Controllers() {
				for _, file := range ctrl.StatFiles() {
					c.scrape(dir, group.Name(), file)
				}
			}
		}
		if !w.Sleep(seconds(c.Interval)) {
			return
		}
	}
}

func (c *CGroupStat) scrape(dir, group, file string) {
	statPath := syscgroup.StatPath(group, file)
	logPath := filepath.Join(dir, fmt.Sprintf("collector.cgroup_%s_%s.log",
		group, strings.ReplaceAll(file, ".", "_")))

	reader := readerFor(statPath)
	logger := loggerFor(logPath)

	if logger.FirstCall() {
		headers, err := reader.Headers()
		if err != nil {
			c.ctx.Logger().Warn("cgroup stat headers", "collector", c.name, "err", err)
			return
		}
		if err := logger.Line(strings.Join(headers, "\t")); err != nil {
			c.ctx.Logger().Warn("cgroup stat log", "collector", c.name, "err", err)
			return
		}
	}
	values, err := reader.Values()
	if err != nil {
		c.ctx.Logger().Warn("cgroup stat values", "collector", c.name, "err", err)
		return
	}
	if err := logger.Line(strings.Join(values, "\t")); err != nil {
		c.ctx.Logger().Warn("cgroup stat log", "collector", c.name, "err", err)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// resetStatHandles clears the process-wide stat handle pools (tests only).
func resetStatHandles() {
	statMu.Lock()
	defer statMu.Unlock()
	for _, r := range statReaders {
		if r.fh != nil {
			_ = r.fh.Close()
		}
	}
	for _, l := range statLoggers {
		if l.fh != nil {
			_ = l.fh.Close()
		}
	}
	statReaders = map[string]*statReader{}
	statLoggers = map[string]*statLogger{}
}
