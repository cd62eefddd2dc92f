package controller

import (
	"fmt"
	"strings"
)

// Cmd is one externally executed cgroup manipulation command.
type Cmd struct {
	Name      string
	Line      string
	BecomeCmd string
}

// Group is a named cgroup with its attached controllers. Builders and
// destroyers are pure: they return command lines without executing anything.
type Group struct {
	name        string
	becomeCmd   string
	controllers []*Controller
}

func NewGroup(name string) *Group {
	return &Group{name: name}
}

func (g *Group) Name() string { return g.name }

func (g *Group) BecomeCmd() string { return g.becomeCmd }

// SetBecomeCmd sets the privilege prefix inherited by every emitted command.
func (g *Group) SetBecomeCmd(cmd string) { g.becomeCmd = cmd }

func (g *Group) Controllers() []*Controller { return g.controllers }

// AddController attaches a controller to the group.
func (g *Group) AddController(c *Controller) {
	g.controllers = append(g.controllers, c)
}

func (g *Group) controllerNames() string {
	names := make([]string, 0, len(g.controllers))
	for _, c := range g.controllers {
		names = append(names, string(c.Name()))
	}
	return strings.Join(names, ",")
}

// Builders returns the creation sequence: one cgcreate for the group, then
// one cgset per limit in declaration order.
func (g *Group) Builders() []Cmd {
	cmds := []Cmd{{
		Name:      fmt.Sprintf("cgcreate_%s", g.name),
		Line:      fmt.Sprintf("cgcreate -g %s:%s", g.controllerNames(), g.name),
		BecomeCmd: g.becomeCmd,
	}}
	for _, c := range g.controllers {
		for _, l := range c.Limits() {
			cmds = append(cmds, Cmd{
				Name:      fmt.Sprintf("cgset_%s_%s_%s", g.name, c.Name(), l.Key),
				Line:      fmt.Sprintf("cgset -r %s.%s=%s %s", c.Name(), l.Key, l.Value, g.name),
				BecomeCmd: g.becomeCmd,
			})
		}
	}
	return cmds
}

// Destroyers returns the teardown sequence: a single cgdelete for the group.
func (g *Group) Destroyers() []Cmd {
	return []Cmd{{
		Name:      fmt.Sprintf("cgdelete_%s", g.name),
		Line:      fmt.Sprintf("cgdelete -g %s:%s", g.controllerNames(), g.name),
		BecomeCmd: g.becomeCmd,
	}}
}

// ExecPrefix returns the cgexec prefix that attaches a child process to the
// group.
func (g *Group) ExecPrefix() string {
	return fmt.Sprintf("cgexec -g %s:%s", g.controllerNames(), g.name)
}
