// Package entity holds the declarative experiment tree: a plan owns suites,
// a suite owns cases, a case owns commands. Entities carry tuning knobs
// (replication, concurrency, parallelism, iteration axes, parameters) and
// ordered pre/post hook commands. The tree is pure data; pkg/core turns it
// into a runnable executor composition.
package entity

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies the level of an entity inside the experiment tree.
type Kind int

const (
	KindPlan Kind = iota
	KindSuite
	KindCase
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindPlan:
		return "plan"
	case KindSuite:
		return "suite"
	case KindCase:
		return "case"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Title returns the capitalized kind used in log names.
func (k Kind) Title() string {
	s := k.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

// Node is the navigation surface shared by all entities. The parent link is a
// lookup relation only; ownership always runs top-down.
type Node interface {
	Name() string
	Kind() Kind
	Config() *Config
	Parent() Node
	SetParent(Node)
	Pre() []*Command
	Post() []*Command
	DirName() string
	ShortName() string
	LongName() string
}

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Entity is the shared declarative node embedded by Plan, Suite, Case and
// Command. Names are validated on assignment; hooks are owned by their entity.
type Entity struct {
	name   string
	kind   Kind
	config *Config
	parent Node
	pre    []*Command
	post   []*Command

	// self points back at the embedding entity so hooks and children can be
	// parent-linked from shared methods.
	self Node
}

func newEntity(kind Kind) Entity {
	return Entity{kind: kind, config: NewConfig()}
}

func (e *Entity) Name() string { return e.name }

// SetName validates and assigns the entity name.
func (e *Entity) SetName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: name %q can only contain alphanumeric, dash and underscore characters", ErrInvalidName, name)
	}
	e.name = name
	return nil
}

func (e *Entity) Kind() Kind          { return e.kind }
func (e *Entity) Config() *Config     { return e.config }
func (e *Entity) Parent() Node        { return e.parent }
func (e *Entity) SetParent(p Node)    { e.parent = p }
func (e *Entity) Pre() []*Command     { return e.pre }
func (e *Entity) Post() []*Command    { return e.post }

// AddPre appends a pre-hook command and links it to this entity.
func (e *Entity) AddPre(c *Command) {
	c.SetParent(e.self)
	e.pre = append(e.pre, c)
}

// AddPost appends a post-hook command and links it to this entity.
func (e *Entity) AddPost(c *Command) {
	c.SetParent(e.self)
	e.post = append(e.post, c)
}

// DirName is the filesystem segment this entity contributes to output paths.
func (e *Entity) DirName() string {
	return fmt.Sprintf("%s_%s", e.kind, e.name)
}

// ShortName is the single-level display name, e.g. "Case[build]".
func (e *Entity) ShortName() string {
	return fmt.Sprintf("%s[%s]", e.kind.Title(), e.name)
}

// LongName renders the full ancestry, e.g. "Plan[p] > Suite[s] > Case[c]".
func (e *Entity) LongName() string {
	if e.parent == nil {
		return e.ShortName()
	}
	return e.parent.LongName() + " > " + e.ShortName()
}
