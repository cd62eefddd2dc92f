//go:build linux

package core

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ja7ad/mergen/pkg/controller"
	"github.com/ja7ad/mergen/pkg/entity"
)

// Executor runs one node of the experiment tree under a parent frame. Every
// execution is pre-hooks, then the executor body, then post-hooks; fan-out
// happens only inside the body.
type Executor interface {
	Execute(parent *Frame) error
	Clone() Executor
	AddChild(Executor)
	Children() []Executor
}

type base struct {
	ctx      *RunContext
	ent      entity.Node
	children []Executor
}

func (b *base) AddChild(c Executor) { b.children = append(b.children, c) }

func (b *base) Children() []Executor { return b.children }

func (b *base) cloneChildren() []Executor {
	out := make([]Executor, len(b.children))
	for i, c := range b.children {
		out[i] = c.Clone()
	}
	return out
}

func (b *base) execute(parent *Frame, main func(*Frame) error) error {
	if err := b.executeHooks(parent, b.ent.Pre()); err != nil {
		return err
	}
	if err := main(parent); err != nil {
		return err
	}
	return b.executeHooks(parent, b.ent.Post())
}

func (b *base) executeHooks(frame *Frame, cmds []*entity.Command) error {
	for _, c := range cmds {
		if err := NewProcessExecutor(b.ctx, c).Execute(frame); err != nil {
			return err
		}
	}
	return nil
}

// RunPath composes the output directory for a frame from the contributing
// frames of its chain, rooted at the run path, and creates it idempotently.
// An entity contributes its <kind>_<name> segment once, followed by the ids
// of its frames.
func RunPath(ctx *RunContext, frame *Frame) (string, error) {
	chain := frame.Walk()
	var segs []string
	var lastEnt entity.Node
	for i := len(chain) - 1; i >= 0; i-- {
		f := chain[i]
		if f.ExcludeFromPath() {
			continue
		}
		if f.Entity() != lastEnt {
			segs = append(segs, f.Entity().DirName())
			lastEnt = f.Entity()
		}
		segs = append(segs, f.ID())
	}
	path := filepath.Join(append([]string{ctx.RunPath()}, segs...)...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("%w: create output path %s: %v", ErrInternal, path, err)
	}
	return path, nil
}

// ControllingExecutor wraps the outermost region: it builds the plan's
// cgroups before the child runs and destroys them afterwards. Builder failure
// aborts; destroyer failures are logged but never mask the child outcome.
type ControllingExecutor struct {
	base
	cgroups []*controller.Group
}

func NewControllingExecutor(ctx *RunContext, ent entity.Node, cgroups []*controller.Group) *ControllingExecutor {
	return &ControllingExecutor{base: base{ctx: ctx, ent: ent}, cgroups: cgroups}
}

func (e *ControllingExecutor) Execute(parent *Frame) error {
	return e.execute(parent, e.executeMain)
}

func (e *ControllingExecutor) Clone() Executor {
	cp := *e
	cp.children = e.cloneChildren()
	return &cp
}

func (e *ControllingExecutor) executeMain(parent *Frame) error {
	frame := NewControllingFrame(parent, e.ent)

	var built []*controller.Group
	defer func() {
		for _, g := range built {
			for _, c := range g.Destroyers() {
				if err := e.runGroupCmd(frame, c); err != nil {
					e.ctx.Logger().Error("cgroup destroyer failed", "cgroup", g.Name(), "err", err)
				}
			}
		}
	}()

	for _, g := range e.cgroups {
		built = append(built, g)
		for _, c := range g.Builders() {
			if err := e.runGroupCmd(frame, c); err != nil {
				return fmt.Errorf("cgroup %s build: %w", g.Name(), err)
			}
		}
	}

	for _, child := range e.children {
		if err := child.Execute(frame); err != nil {
			return err
		}
	}
	return nil
}

func (e *ControllingExecutor) runGroupCmd(frame *Frame, c controller.Cmd) error {
	cmd := entity.NewCommand()
	_ = cmd.SetName(c.Name)
	cmd.Cmd = c.Line
	cmd.BecomeCmd = c.BecomeCmd
	return NewProcessExecutor(e.ctx, cmd).Execute(frame)
}

// CollectingExecutor starts every configured collector before the child runs
// and stops every started collector after it returns, regardless of outcome.
type CollectingExecutor struct {
	base
	collectors []Collector
	cgroups    []*controller.Group
}

func NewCollectingExecutor(ctx *RunContext, ent entity.Node, collectors []Collector, cgroups []*controller.Group) *CollectingExecutor {
	return &CollectingExecutor{base: base{ctx: ctx, ent: ent}, collectors: collectors, cgroups: cgroups}
}

func (e *CollectingExecutor) Execute(parent *Frame) error {
	return e.execute(parent, e.executeMain)
}

func (e *CollectingExecutor) Clone() Executor {
	cp := *e
	cp.children = e.cloneChildren()
	return &cp
}

func (e *CollectingExecutor) executeMain(parent *Frame) error {
	frame := NewCollectingFrame(parent, e.ent, e.cgroups)

	var started []Collector
	defer func() {
		for _, col := range started {
			if err := col.Stop(); err != nil {
				e.ctx.Logger().Warn("collector stop failed", "collector", col.Name(), "err", err)
			}
		}
	}()
	for _, col := range e.collectors {
		if err := col.Start(frame); err != nil {
			e.ctx.Logger().Warn("collector start failed", "collector", col.Name(), "err", err)
			continue
		}
		started = append(started, col)
	}

	for _, child := range e.children {
		if err := child.Execute(frame); err != nil {
			return err
		}
	}
	return nil
}

// ReplicatingExecutor repeats its children replication times in sequence,
// timing each pass and re-running the entity hooks around every pass. A
// failed pass stops further passes.
type ReplicatingExecutor struct {
	base
}

func NewReplicatingExecutor(ctx *RunContext, ent entity.Node) *ReplicatingExecutor {
	return &ReplicatingExecutor{base: base{ctx: ctx, ent: ent}}
}

func (e *ReplicatingExecutor) Execute(parent *Frame) error {
	return e.execute(parent, e.executeMain)
}

func (e *ReplicatingExecutor) Clone() Executor {
	cp := *e
	cp.children = e.cloneChildren()
	return &cp
}

func (e *ReplicatingExecutor) executeMain(parent *Frame) error {
	n := e.ent.Config().Replication
	for i := 1; i <= n; i++ {
		frame := NewReplicatingFrame(parent, e.ent)
		frame.SetCurrent(i)
		e.ctx.Logger().Info("replication pass", "entity", e.ent.LongName(), "pass", frame.ID())

		timer := &Timer{}
		if err := timer.Start(); err != nil {
			return err
		}
		err := e.executeHooks(frame, e.ent.Pre())
		if err == nil {
			for _, child := range e.children {
				if err = child.Execute(frame); err != nil {
					break
				}
			}
		}
		if err == nil {
			err = e.executeHooks(frame, e.ent.Post())
		}
		if serr := timer.Stop(); err == nil {
			err = serr
		}
		if dir, derr := RunPath(e.ctx, frame); derr != nil {
			if err == nil {
				err = derr
			}
		} else if lerr := timer.Log(dir); err == nil {
			err = lerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// IteratingExecutor expands the entity's iteration axes into bindings and
// runs its children once per binding, sequentially in expansion order.
type IteratingExecutor struct {
	base
}

func NewIteratingExecutor(ctx *RunContext, ent entity.Node) *IteratingExecutor {
	return &IteratingExecutor{base: base{ctx: ctx, ent: ent}}
}

func (e *IteratingExecutor) Execute(parent *Frame) error {
	return e.execute(parent, e.executeMain)
}

func (e *IteratingExecutor) Clone() Executor {
	cp := *e
	cp.children = e.cloneChildren()
	return &cp
}

func (e *IteratingExecutor) executeMain(parent *Frame) error {
	cfg := e.ent.Config()
	for idx, binding := range ExpandBindings(cfg.Iters, cfg.Iteration) {
		frame := NewIteratingFrame(parent, e.ent)
		frame.SetCurrent(idx + 1)
		frame.SetIters(binding)
		for _, child := range e.children {
			if err := child.Execute(frame); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExpandBindings turns the ordered axes into the sequence of iteration
// bindings. PRODUCT is the cartesian product with the first axis varying
// slowest; ZIP pairs element-wise up to the shortest axis. No axes yields a
// single empty binding.
func ExpandBindings(axes []entity.Axis, mode entity.Iteration) []map[string]string {
	if len(axes) == 0 {
		return []map[string]string{{}}
	}
	if mode == entity.IterationZip {
		n := len(axes[0].Values)
		for _, a := range axes[1:] {
			if len(a.Values) < n {
				n = len(a.Values)
			}
		}
		out := make([]map[string]string, 0, n)
		for i := 0; i < n; i++ {
			binding := make(map[string]string, len(axes))
			for _, a := range axes {
				binding[a.Name] = a.Values[i]
			}
			out = append(out, binding)
		}
		return out
	}

	counts := make([]int, len(axes))
	for _, a := range axes {
		if len(a.Values) == 0 {
			return nil
		}
	}
	var out []map[string]string
	for {
		binding := make(map[string]string, len(axes))
		for i, a := range axes {
			binding[a.Name] = a.Values[counts[i]]
		}
		out = append(out, binding)

		k := len(axes) - 1
		for k >= 0 {
			counts[k]++
			if counts[k] < len(axes[k].Values) {
				break
			}
			counts[k] = 0
			k--
		}
		if k < 0 {
			return out
		}
	}
}

// ConcurrentExecutor fans its children out on worker goroutines when the
// suite enables concurrency; otherwise it runs them sequentially, all
// siblings sharing sequence number one.
type ConcurrentExecutor struct {
	base
}

func NewConcurrentExecutor(ctx *RunContext, ent entity.Node) *ConcurrentExecutor {
	return &ConcurrentExecutor{base: base{ctx: ctx, ent: ent}}
}

func (e *ConcurrentExecutor) Execute(parent *Frame) error {
	return e.execute(parent, e.executeMain)
}

func (e *ConcurrentExecutor) Clone() Executor {
	cp := *e
	cp.children = e.cloneChildren()
	return &cp
}

func (e *ConcurrentExecutor) executeMain(parent *Frame) error {
	if e.ent.Config().Concurrency {
		var g errgroup.Group
		for i, child := range e.children {
			frame := NewConcurrentFrame(parent, e.ent)
			frame.SetCurrent(i + 1)
			g.Go(func() error { return child.Execute(frame) })
		}
		return g.Wait()
	}
	for _, child := range e.children {
		frame := NewConcurrentFrame(parent, e.ent)
		if err := child.Execute(frame); err != nil {
			return err
		}
	}
	return nil
}

// ParallelExecutor spawns parallelism copies of each child subtree on worker
// goroutines. Copies are shallow clones sharing the underlying entities but
// carrying independent executor state.
type ParallelExecutor struct {
	base
}

func NewParallelExecutor(ctx *RunContext, ent entity.Node) *ParallelExecutor {
	return &ParallelExecutor{base: base{ctx: ctx, ent: ent}}
}

func (e *ParallelExecutor) Execute(parent *Frame) error {
	return e.execute(parent, e.executeMain)
}

func (e *ParallelExecutor) Clone() Executor {
	cp := *e
	cp.children = e.cloneChildren()
	return &cp
}

func (e *ParallelExecutor) executeMain(parent *Frame) error {
	p := e.ent.Config().Parallelism
	if p <= 1 {
		for _, child := range e.children {
			frame := NewParallelFrame(parent, e.ent)
			if err := child.Execute(frame); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	for _, child := range e.children {
		for i := 1; i <= p; i++ {
			cp := child.Clone()
			frame := NewParallelFrame(parent, e.ent)
			frame.SetCurrent(i)
			g.Go(func() error { return cp.Execute(frame) })
		}
	}
	return g.Wait()
}

var placeholderRE = regexp.MustCompile(`\{m:(entity|param|iter|context):([A-Za-z0-9_.-]+)\}`)

// ProcessExecutor is the leaf of the synchronous path: it materializes the
// command template against the context chain and drives one subprocess
// lifecycle.
type ProcessExecutor struct {
	base
	command *entity.Command
}

func NewProcessExecutor(ctx *RunContext, cmd *entity.Command) *ProcessExecutor {
	return &ProcessExecutor{base: base{ctx: ctx, ent: cmd}, command: cmd}
}

func (e *ProcessExecutor) Execute(parent *Frame) error {
	return e.execute(parent, e.executeMain)
}

func (e *ProcessExecutor) Clone() Executor {
	cp := *e
	cp.children = e.cloneChildren()
	return &cp
}

func (e *ProcessExecutor) executeMain(parent *Frame) error {
	c, err := e.materialize(parent)
	if err != nil {
		return err
	}
	return NewProcess(e.ctx, c).Run()
}

// materialize prepares the runnable command: cgexec wrapping, privilege
// wrapping, then placeholder substitution on the command line and pipe paths.
func (e *ProcessExecutor) materialize(frame *Frame) (*entity.Command, error) {
	c := e.command.Clone()

	line := c.Cmd
	for i := len(c.CGroups) - 1; i >= 0; i-- {
		g, err := e.lookupCGroup(c.CGroups[i])
		if err != nil {
			return nil, err
		}
		line = g.ExecPrefix() + " " + line
	}
	if c.BecomeCmd != "" {
		line = c.BecomeCmd + " " + line
	}

	var err error
	if line, err = e.substitute(line, frame); err != nil {
		return nil, err
	}
	c.Cmd = line
	if c.PipeStdout != "" {
		if c.PipeStdout, err = e.substitute(c.PipeStdout, frame); err != nil {
			return nil, err
		}
	}
	if c.PipeStderr != "" {
		if c.PipeStderr, err = e.substitute(c.PipeStderr, frame); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (e *ProcessExecutor) lookupCGroup(name string) (*controller.Group, error) {
	for ent := entity.Node(e.command); ent != nil; ent = ent.Parent() {
		if p, ok := ent.(*entity.Plan); ok {
			if g := p.CGroup(name); g != nil {
				return g, nil
			}
			break
		}
	}
	return nil, fmt.Errorf("%w: cgroup %q is not defined", ErrConfig, name)
}

func (e *ProcessExecutor) substitute(s string, frame *Frame) (string, error) {
	var subErr error
	out := placeholderRE.ReplaceAllStringFunc(s, func(tok string) string {
		m := placeholderRE.FindStringSubmatch(tok)
		val, ok := e.resolve(m[1], m[2], frame)
		if !ok {
			if subErr == nil {
				subErr = fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, tok)
			}
			return tok
		}
		return val
	})
	if subErr != nil {
		return "", subErr
	}
	if i := strings.Index(out, "{m:"); i >= 0 {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, out[i:])
	}
	return out, nil
}

func (e *ProcessExecutor) resolve(ns, key string, frame *Frame) (string, bool) {
	switch ns {
	case "entity":
		for ent := entity.Node(e.command); ent != nil; ent = ent.Parent() {
			if ent.Kind().String() == key {
				return ent.Name(), true
			}
		}
	case "param":
		for ent := entity.Node(e.command); ent != nil; ent = ent.Parent() {
			if v, ok := ent.Config().Params[key]; ok {
				return v, true
			}
		}
	case "iter":
		if frame == nil {
			return "", false
		}
		for _, f := range frame.Walk() {
			if v, ok := f.Iters()[key]; ok {
				return v, true
			}
		}
	case "context":
		switch key {
		case "run_path":
			if frame == nil {
				return "", false
			}
			dir, err := RunPath(e.ctx, frame)
			if err != nil {
				return "", false
			}
			return dir, true
		case "pid":
			return strconv.Itoa(os.Getpid()), true
		case "ppid":
			return strconv.Itoa(os.Getppid()), true
		case "pgid":
			pgid, err := unix.Getpgid(os.Getpid())
			if err != nil {
				return "", false
			}
			return strconv.Itoa(pgid), true
		}
	}
	return "", false
}

// AsyncProcessExecutor starts its command and returns; ExecuteStop signals
// the process and waits for exit. Used for long-running telemetry producers.
type AsyncProcessExecutor struct {
	ProcessExecutor
	proc *Process
}

func NewAsyncProcessExecutor(ctx *RunContext, cmd *entity.Command) *AsyncProcessExecutor {
	return &AsyncProcessExecutor{ProcessExecutor: *NewProcessExecutor(ctx, cmd)}
}

func (e *AsyncProcessExecutor) Execute(parent *Frame) error {
	return e.execute(parent, e.executeMain)
}

func (e *AsyncProcessExecutor) executeMain(parent *Frame) error {
	c, err := e.materialize(parent)
	if err != nil {
		return err
	}
	e.proc = NewProcess(e.ctx, c)
	return e.proc.Start()
}

// ExecuteStop terminates the running process and reaps it.
func (e *AsyncProcessExecutor) ExecuteStop() error {
	if e.proc == nil {
		return nil
	}
	return e.proc.Stop()
}

// AsyncThreadExecutor runs a cooperative worker whose body is the target
// function; ExecuteStop sets the worker's join flag and waits.
type AsyncThreadExecutor struct {
	ctx    *RunContext
	target func(*Frame, *Worker)
	worker *Worker
}

func NewAsyncThreadExecutor(ctx *RunContext, target func(*Frame, *Worker)) *AsyncThreadExecutor {
	return &AsyncThreadExecutor{ctx: ctx, target: target}
}

func (e *AsyncThreadExecutor) Execute(parent *Frame) error {
	e.worker = NewWorker()
	e.worker.Run(func() { e.target(parent, e.worker) })
	return nil
}

// ExecuteStop requests the worker to wind down and joins it.
func (e *AsyncThreadExecutor) ExecuteStop() error {
	if e.worker == nil {
		return nil
	}
	e.worker.RequestJoin()
	e.worker.Join()
	return nil
}
