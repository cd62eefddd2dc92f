//go:build linux

package collector

import (
	"github.com/ja7ad/mergen/pkg/core"
	"github.com/ja7ad/mergen/pkg/entity"
)

// Process runs an arbitrary long-lived command for the duration of an
// experiment region. Start spawns it asynchronously; Stop signals it and
// waits for exit.
type Process struct {
	base

	Cmd             string
	BecomeCmd       string
	Shell           bool
	ShellExecutable string
	PipeStdout      string
	PipeStderr      string

	executor *core.AsyncProcessExecutor
}

func NewProcess(ctx *core.RunContext, spec entity.CollectorSpec) *Process {
	return &Process{
		base:            base{ctx: ctx, name: spec.Name},
		Cmd:             spec.Cmd,
		BecomeCmd:       spec.BecomeCmd,
		Shell:           spec.Shell,
		ShellExecutable: spec.ShellExecutable,
		PipeStdout:      spec.PipeStdout,
		PipeStderr:      spec.PipeStderr,
	}
}

// Start materializes the collector command under the collecting frame and
// spawns it.
func (c *Process) Start(frame *core.Frame) error {
	cmd := entity.NewCommand()
	if err := cmd.SetName(c.name); err != nil {
		return err
	}
	cmd.Cmd = c.Cmd
	cmd.BecomeCmd = c.BecomeCmd
	cmd.Shell = c.Shell
	cmd.ShellExecutable = c.ShellExecutable
	cmd.PipeStdout = c.PipeStdout
	cmd.PipeStderr = c.PipeStderr
	// Collector teardown is best-effort; exit status surfaces in the log only.
	cmd.RaiseError = false

	c.executor = core.NewAsyncProcessExecutor(c.ctx, cmd)
	return c.executor.Execute(frame)
}

// Stop signals the collector process and joins it.
func (c *Process) Stop() error {
	if c.executor == nil {
		return nil
	}
	return c.executor.ExecuteStop()
}
