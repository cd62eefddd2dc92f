//go:build linux

package collector

import (
	"github.com/ja7ad/mergen/pkg/core"
)

// Thread is the base for collectors that sample on a cooperative background
// worker. The run function is expected to consult the worker's join flag
// between iterations.
type Thread struct {
	base

	run      func(frame *core.Frame, w *core.Worker)
	executor *core.AsyncThreadExecutor
}

// Start launches the worker under the collecting frame.
func (c *Thread) Start(frame *core.Frame) error {
	c.executor = core.NewAsyncThreadExecutor(c.ctx, c.run)
	return c.executor.Execute(frame)
}

// Stop sets the worker's join flag and waits for it to wind down.
func (c *Thread) Stop() error {
	if c.executor == nil {
		return nil
	}
	return c.executor.ExecuteStop()
}
