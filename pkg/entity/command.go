package entity

import "time"

// Command describes one subprocess invocation. Cmd is a template; `{m:...}`
// placeholders are resolved at execution time against the runtime context
// chain.
type Command struct {
	Entity

	// Cmd is the command line template. BecomeCmd, when set, is prefixed for
	// privilege escalation after any cgexec wrapping.
	Cmd       string
	BecomeCmd string

	// Shell selects shell interpretation of the full line; direct mode
	// tokenizes the line itself, splitting pipelines on unquoted '|'.
	Shell           bool
	ShellExecutable string

	// Timeout is the hard wait cap; zero waits unbounded. RunTime is the soft
	// duration in whole seconds after which the termination signal is sent;
	// zero disables the timer.
	Timeout time.Duration
	RunTime int

	// PipeStdout/PipeStderr are output path templates. When empty, the stream
	// is buffered only if the matching Debug flag is set and discarded
	// otherwise.
	PipeStdout string
	PipeStderr string

	// DebugStdout/DebugStderr echo captured output to the runner log.
	DebugStdout bool
	DebugStderr bool

	// RaiseError controls whether subprocess and timeout failures propagate.
	RaiseError bool

	// CGroups names the plan-owned cgroups the process is attached to via
	// cgexec.
	CGroups []string
}

func NewCommand() *Command {
	c := &Command{Entity: newEntity(KindCommand), RaiseError: true}
	c.self = c
	return c
}

// Clone returns a copy sharing the parent link, for per-run materialization.
func (c *Command) Clone() *Command {
	cp := *c
	cp.self = &cp
	cp.CGroups = append([]string(nil), c.CGroups...)
	return &cp
}
