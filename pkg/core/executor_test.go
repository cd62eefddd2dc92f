//go:build linux

package core

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/mergen/pkg/controller"
	"github.com/ja7ad/mergen/pkg/entity"
)

type fakeExecutor struct {
	mu     sync.Mutex
	frames []*Frame
	err    error
}

func (f *fakeExecutor) Execute(parent *Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, parent)
	return f.err
}

func (f *fakeExecutor) Clone() Executor       { return f }
func (f *fakeExecutor) AddChild(Executor)     {}
func (f *fakeExecutor) Children() []Executor  { return nil }

type fakeCollector struct {
	mu      sync.Mutex
	started int
	stopped int
	frame   *Frame
	failure error
}

func (c *fakeCollector) Name() string { return "fake" }

func (c *fakeCollector) Start(frame *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	c.frame = frame
	return c.failure
}

func (c *fakeCollector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
	return nil
}

func testTree(t *testing.T) (*entity.Plan, *entity.Suite, *entity.Case, *entity.Command) {
	t.Helper()
	plan := entity.NewPlan()
	require.NoError(t, plan.SetName("P"))
	suite := entity.NewSuite()
	require.NoError(t, suite.SetName("S"))
	kase := entity.NewCase()
	require.NoError(t, kase.SetName("K"))
	cmd := entity.NewCommand()
	require.NoError(t, cmd.SetName("Q"))
	cmd.Cmd = "true"

	plan.AddSuite(suite)
	suite.AddCase(kase)
	kase.AddCommand(cmd)
	return plan, suite, kase, cmd
}

func Test_ExpandBindings_Product(t *testing.T) {
	axes := []entity.Axis{
		{Name: "var1", Values: []string{"A", "B"}},
		{Name: "var2", Values: []string{"C", "D"}},
	}

	bindings := ExpandBindings(axes, entity.IterationProduct)
	require.Len(t, bindings, 4)
	assert.Equal(t, map[string]string{"var1": "A", "var2": "C"}, bindings[0])
	assert.Equal(t, map[string]string{"var1": "A", "var2": "D"}, bindings[1])
	assert.Equal(t, map[string]string{"var1": "B", "var2": "C"}, bindings[2])
	assert.Equal(t, map[string]string{"var1": "B", "var2": "D"}, bindings[3])
}

func Test_ExpandBindings_Zip(t *testing.T) {
	axes := []entity.Axis{
		{Name: "var1", Values: []string{"A", "B"}},
		{Name: "var2", Values: []string{"C", "D"}},
	}

	bindings := ExpandBindings(axes, entity.IterationZip)
	require.Len(t, bindings, 2)
	assert.Equal(t, map[string]string{"var1": "A", "var2": "C"}, bindings[0])
	assert.Equal(t, map[string]string{"var1": "B", "var2": "D"}, bindings[1])
}

func Test_ExpandBindings_Zip_Ragged(t *testing.T) {
	axes := []entity.Axis{
		{Name: "var1", Values: []string{"A", "B", "X"}},
		{Name: "var2", Values: []string{"C"}},
	}

	bindings := ExpandBindings(axes, entity.IterationZip)
	require.Len(t, bindings, 1)
	assert.Equal(t, map[string]string{"var1": "A", "var2": "C"}, bindings[0])
}

func Test_ExpandBindings_Empty(t *testing.T) {
	bindings := ExpandBindings(nil, entity.IterationProduct)
	require.Len(t, bindings, 1)
	assert.Empty(t, bindings[0])
}

func Test_RunPath_Layout(t *testing.T) {
	ctx := testCtx(t)
	plan, suite, kase, _ := testTree(t)

	ctl := NewControllingFrame(nil, plan)
	planRep := NewReplicatingFrame(ctl, plan)
	suiteRep := NewReplicatingFrame(planRep, suite)
	collecting := NewCollectingFrame(suiteRep, suite, nil)
	concurrent := NewConcurrentFrame(collecting, suite)
	caseRep := NewReplicatingFrame(concurrent, kase)
	iterating := NewIteratingFrame(caseRep, kase)
	parallel := NewParallelFrame(iterating, kase)

	path, err := RunPath(ctx, parallel)
	require.NoError(t, err)

	want := filepath.Join(ctx.RunPath(),
		"plan_P", "r001", "suite_S", "r001", "case_K", "r001", "i001", "p001")
	assert.Equal(t, want, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func Test_RunPath_Deterministic(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, _ := testTree(t)

	frame := NewReplicatingFrame(nil, kase)
	p1, err := RunPath(ctx, frame)
	require.NoError(t, err)
	p2, err := RunPath(ctx, frame)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func Test_Materialize_EntityAndParamPlaceholders(t *testing.T) {
	ctx := testCtx(t)
	plan, suite, kase, cmd := testTree(t)
	plan.Config().Params["shared"] = "P"
	suite.Config().Params["shared"] = "S"
	kase.Config().Params["shared"] = "C"
	plan.Config().Params["plan_only"] = "pv"

	cmd.Cmd = "echo {m:entity:plan} {m:entity:suite} {m:entity:case} {m:entity:command} {m:param:shared} {m:param:plan_only}"

	e := NewProcessExecutor(ctx, cmd)
	frame := NewReplicatingFrame(nil, kase)

	c, err := e.materialize(frame)
	require.NoError(t, err)
	assert.Equal(t, "echo P S K Q C pv", c.Cmd)
}

func Test_Materialize_IterPlaceholders(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, cmd := testTree(t)
	cmd.Cmd = "echo {m:iter:var1}-{m:iter:var2}"

	outer := NewIteratingFrame(nil, kase)
	outer.SetIters(map[string]string{"var2": "outer2", "var1": "outerShadowed"})
	inner := NewIteratingFrame(outer, kase)
	inner.SetIters(map[string]string{"var1": "inner1"})

	e := NewProcessExecutor(ctx, cmd)
	c, err := e.materialize(inner)
	require.NoError(t, err)
	assert.Equal(t, "echo inner1-outer2", c.Cmd)
}

func Test_Materialize_ContextPlaceholders(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, cmd := testTree(t)
	cmd.Cmd = "echo {m:context:run_path} {m:context:pid} {m:context:ppid} {m:context:pgid}"
	frame := NewReplicatingFrame(nil, kase)

	e := NewProcessExecutor(ctx, cmd)
	c, err := e.materialize(frame)
	require.NoError(t, err)
	assert.Contains(t, c.Cmd, filepath.Join(ctx.RunPath(), "case_K", "r001"))
	assert.NotContains(t, c.Cmd, "{m:")
}

func Test_Materialize_CgroupAndBecomeWrap(t *testing.T) {
	ctx := testCtx(t)
	plan, _, _, cmd := testTree(t)

	g := controller.NewGroup("g")
	cpu, err := controller.New("cpu")
	require.NoError(t, err)
	g.AddController(cpu)
	plan.AddCGroup(g)

	cmd.Cmd = "stress --cpu 1"
	cmd.CGroups = []string{"g"}
	cmd.BecomeCmd = "sudo"

	e := NewProcessExecutor(ctx, cmd)
	c, err := e.materialize(NewReplicatingFrame(nil, plan))
	require.NoError(t, err)
	assert.Equal(t, "sudo cgexec -g cpu:g stress --cpu 1", c.Cmd)
}

func Test_Materialize_UnknownCgroup(t *testing.T) {
	ctx := testCtx(t)
	_, _, _, cmd := testTree(t)
	cmd.CGroups = []string{"missing"}

	e := NewProcessExecutor(ctx, cmd)
	_, err := e.materialize(NewReplicatingFrame(nil, cmd))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func Test_Materialize_UnresolvedPlaceholder(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, cmd := testTree(t)
	cmd.Cmd = "echo {m:param:nope}"

	e := NewProcessExecutor(ctx, cmd)
	_, err := e.materialize(NewReplicatingFrame(nil, kase))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}

func Test_Materialize_PipePaths(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, cmd := testTree(t)
	cmd.Cmd = "echo hi"
	cmd.PipeStdout = "{m:context:run_path}/stdout.txt"
	cmd.PipeStderr = "{m:context:run_path}/stderr.txt"
	frame := NewReplicatingFrame(nil, kase)

	e := NewProcessExecutor(ctx, cmd)
	c, err := e.materialize(frame)
	require.NoError(t, err)

	dir := filepath.Join(ctx.RunPath(), "case_K", "r001")
	assert.Equal(t, filepath.Join(dir, "stdout.txt"), c.PipeStdout)
	assert.Equal(t, filepath.Join(dir, "stderr.txt"), c.PipeStderr)
}

func Test_ProcessExecutor_EndToEnd(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, cmd := testTree(t)
	cmd.Cmd = "echo {m:entity:case}"
	cmd.PipeStdout = "{m:context:run_path}/out.txt"

	e := NewProcessExecutor(ctx, cmd)
	require.NoError(t, e.Execute(NewReplicatingFrame(nil, kase)))

	data, err := os.ReadFile(filepath.Join(ctx.RunPath(), "case_K", "r001", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "K\n", string(data))
}

func Test_ReplicatingExecutor_Passes(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, _ := testTree(t)
	kase.Config().Replication = 3

	child := &fakeExecutor{}
	e := NewReplicatingExecutor(ctx, kase)
	e.AddChild(child)

	require.NoError(t, e.Execute(nil))
	require.Len(t, child.frames, 3)
	for i, f := range child.frames {
		assert.Equal(t, i+1, f.Current())
		assert.False(t, f.ExcludeFromPath())
	}

	for _, pass := range []string{"r001", "r002", "r003"} {
		_, err := os.Stat(filepath.Join(ctx.RunPath(), "case_K", pass, TimerFileName))
		assert.NoError(t, err, pass)
	}
}

func Test_ReplicatingExecutor_FailedPassStops(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, _ := testTree(t)
	kase.Config().Replication = 5

	child := &fakeExecutor{err: ErrSubprocess}
	e := NewReplicatingExecutor(ctx, kase)
	e.AddChild(child)

	err := e.Execute(nil)
	require.Error(t, err)
	assert.Len(t, child.frames, 1)
}

func Test_ReplicatingExecutor_Hooks(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, _ := testTree(t)
	dir := t.TempDir()

	pre := entity.NewCommand()
	require.NoError(t, pre.SetName("pre"))
	pre.Cmd = "touch " + filepath.Join(dir, "pre.txt")
	post := entity.NewCommand()
	require.NoError(t, post.SetName("post"))
	post.Cmd = "touch " + filepath.Join(dir, "post.txt")
	kase.AddPre(pre)
	kase.AddPost(post)

	e := NewReplicatingExecutor(ctx, kase)
	e.AddChild(&fakeExecutor{})
	require.NoError(t, e.Execute(nil))

	_, err := os.Stat(filepath.Join(dir, "pre.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "post.txt"))
	assert.NoError(t, err)
}

func Test_IteratingExecutor_ProductOrder(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, _ := testTree(t)
	kase.Config().Iters = []entity.Axis{
		{Name: "var1", Values: []string{"A", "B"}},
		{Name: "var2", Values: []string{"C", "D"}},
	}

	child := &fakeExecutor{}
	e := NewIteratingExecutor(ctx, kase)
	e.AddChild(child)

	require.NoError(t, e.Execute(nil))
	require.Len(t, child.frames, 4)
	assert.Equal(t, map[string]string{"var1": "A", "var2": "C"}, child.frames[0].Iters())
	assert.Equal(t, map[string]string{"var1": "A", "var2": "D"}, child.frames[1].Iters())
	assert.Equal(t, map[string]string{"var1": "B", "var2": "C"}, child.frames[2].Iters())
	assert.Equal(t, map[string]string{"var1": "B", "var2": "D"}, child.frames[3].Iters())
	for i, f := range child.frames {
		assert.Equal(t, i+1, f.Current())
	}
}

func Test_IteratingExecutor_NoAxes(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, _ := testTree(t)

	child := &fakeExecutor{}
	e := NewIteratingExecutor(ctx, kase)
	e.AddChild(child)

	require.NoError(t, e.Execute(nil))
	require.Len(t, child.frames, 1)
	assert.Equal(t, 1, child.frames[0].Current())
	assert.Empty(t, child.frames[0].Iters())
}

func Test_ConcurrentExecutor_Sequential(t *testing.T) {
	ctx := testCtx(t)
	_, suite, _, _ := testTree(t)

	child1 := &fakeExecutor{}
	child2 := &fakeExecutor{}
	e := NewConcurrentExecutor(ctx, suite)
	e.AddChild(child1)
	e.AddChild(child2)

	require.NoError(t, e.Execute(nil))
	require.Len(t, child1.frames, 1)
	require.Len(t, child2.frames, 1)
	// Sequentially scheduled siblings share the same sequence number.
	assert.Equal(t, 1, child1.frames[0].Current())
	assert.Equal(t, 1, child2.frames[0].Current())
	assert.True(t, child1.frames[0].ExcludeFromPath())
}

func Test_ConcurrentExecutor_Concurrent(t *testing.T) {
	ctx := testCtx(t)
	_, suite, _, _ := testTree(t)
	suite.Config().Concurrency = true

	child1 := &fakeExecutor{}
	child2 := &fakeExecutor{}
	e := NewConcurrentExecutor(ctx, suite)
	e.AddChild(child1)
	e.AddChild(child2)

	require.NoError(t, e.Execute(nil))
	require.Len(t, child1.frames, 1)
	require.Len(t, child2.frames, 1)
	assert.Equal(t, 1, child1.frames[0].Current())
	assert.Equal(t, 2, child2.frames[0].Current())
}

func Test_ParallelExecutor_Copies(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, _ := testTree(t)
	kase.Config().Parallelism = 3

	child := &fakeExecutor{}
	e := NewParallelExecutor(ctx, kase)
	e.AddChild(child)

	require.NoError(t, e.Execute(nil))
	require.Len(t, child.frames, 3)

	currents := map[int]bool{}
	for _, f := range child.frames {
		currents[f.Current()] = true
		assert.False(t, f.ExcludeFromPath())
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, currents)
}

func Test_ParallelExecutor_Inline(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, _ := testTree(t)

	child := &fakeExecutor{}
	e := NewParallelExecutor(ctx, kase)
	e.AddChild(child)

	require.NoError(t, e.Execute(nil))
	require.Len(t, child.frames, 1)
	assert.Equal(t, 1, child.frames[0].Current())
}

func Test_CollectingExecutor_StartStop(t *testing.T) {
	ctx := testCtx(t)
	_, suite, _, _ := testTree(t)
	groups := []*controller.Group{controller.NewGroup("g1")}

	col := &fakeCollector{}
	child := &fakeExecutor{}
	e := NewCollectingExecutor(ctx, suite, []Collector{col}, groups)
	e.AddChild(child)

	require.NoError(t, e.Execute(nil))
	assert.Equal(t, 1, col.started)
	assert.Equal(t, 1, col.stopped)
	assert.Len(t, child.frames, 1)
	assert.Equal(t, groups, col.frame.CGroups())
}

func Test_CollectingExecutor_StopsOnChildFailure(t *testing.T) {
	ctx := testCtx(t)
	_, suite, _, _ := testTree(t)

	col := &fakeCollector{}
	child := &fakeExecutor{err: ErrSubprocess}
	e := NewCollectingExecutor(ctx, suite, []Collector{col}, nil)
	e.AddChild(child)

	err := e.Execute(nil)
	require.Error(t, err)
	assert.Equal(t, 1, col.started)
	assert.Equal(t, 1, col.stopped)
}

func Test_CollectingExecutor_StartFailureDoesNotAbort(t *testing.T) {
	ctx := testCtx(t)
	_, suite, _, _ := testTree(t)

	broken := &fakeCollector{failure: ErrSubprocess}
	child := &fakeExecutor{}
	e := NewCollectingExecutor(ctx, suite, []Collector{broken}, nil)
	e.AddChild(child)

	require.NoError(t, e.Execute(nil))
	assert.Equal(t, 1, broken.started)
	// A collector that failed to start is never stopped.
	assert.Equal(t, 0, broken.stopped)
	assert.Len(t, child.frames, 1)
}

func Test_ControllingExecutor_NoCgroups(t *testing.T) {
	ctx := testCtx(t)
	plan, _, _, _ := testTree(t)

	child := &fakeExecutor{}
	e := NewControllingExecutor(ctx, plan, nil)
	e.AddChild(child)

	require.NoError(t, e.Execute(nil))
	require.Len(t, child.frames, 1)
	assert.True(t, child.frames[0].ExcludeFromPath())
	assert.Equal(t, "cne001", child.frames[0].ID())
}

func Test_ControllingExecutor_BuilderFailureAborts(t *testing.T) {
	ctx := testCtx(t)
	plan, _, _, _ := testTree(t)

	// cgcreate is not on PATH in the test environment, so the builder fails
	// before the child runs.
	g := controller.NewGroup("g")
	cpu, err := controller.New("cpu")
	require.NoError(t, err)
	g.AddController(cpu)

	child := &fakeExecutor{}
	e := NewControllingExecutor(ctx, plan, []*controller.Group{g})
	e.AddChild(child)

	if _, lookErr := exec.LookPath("cgcreate"); lookErr == nil {
		t.Skip("cgcreate present on host; builder failure path not testable")
	}

	execErr := e.Execute(nil)
	require.Error(t, execErr)
	assert.ErrorIs(t, execErr, ErrSubprocess)
	assert.Empty(t, child.frames)
}

func Test_Clone_IndependentChildren(t *testing.T) {
	ctx := testCtx(t)
	_, _, kase, cmd := testTree(t)

	parallel := NewParallelExecutor(ctx, kase)
	parallel.AddChild(NewProcessExecutor(ctx, cmd))

	cp := parallel.Clone()
	require.Len(t, cp.Children(), 1)
	assert.NotSame(t, parallel.Children()[0], cp.Children()[0])
}
