package entity

// Case is one workload definition. Its commands run in parallel copies when
// parallelism is configured, and its iteration axes expand into per-binding
// runs.
type Case struct {
	Entity
	commands []*Command
}

func NewCase() *Case {
	c := &Case{Entity: newEntity(KindCase)}
	c.self = c
	return c
}

func (c *Case) Commands() []*Command { return c.commands }

// AddCommand appends a command and links it to this case.
func (c *Case) AddCommand(cmd *Command) {
	cmd.SetParent(c)
	c.commands = append(c.commands, cmd)
}
