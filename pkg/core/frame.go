//go:build linux

package core

import (
	"fmt"

	"github.com/ja7ad/mergen/pkg/controller"
	"github.com/ja7ad/mergen/pkg/entity"
)

// Frame is one runtime activation record of an executor. The chain of frames
// from a leaf up to the root represents the full dynamic scope of a single
// attempt: identifiers, iteration bindings and path contributions all resolve
// by walking it.
type Frame struct {
	parent  *Frame
	entity  entity.Node
	current int
	prefix  string

	// excludeFromPath keeps the frame out of output directory composition
	// while still contributing to placeholder lookups.
	excludeFromPath bool

	iters   map[string]string
	cgroups []*controller.Group
}

func newFrame(parent *Frame, ent entity.Node, prefix string, exclude bool) *Frame {
	return &Frame{parent: parent, entity: ent, current: 1, prefix: prefix, excludeFromPath: exclude}
}

// NewControllingFrame wraps the cgroup build/teardown region.
func NewControllingFrame(parent *Frame, ent entity.Node) *Frame {
	return newFrame(parent, ent, "cne", true)
}

// NewCollectingFrame wraps a collector region and exposes the active cgroups.
func NewCollectingFrame(parent *Frame, ent entity.Node, cgroups []*controller.Group) *Frame {
	f := newFrame(parent, ent, "cle", true)
	f.cgroups = cgroups
	return f
}

// NewReplicatingFrame identifies one replication pass.
func NewReplicatingFrame(parent *Frame, ent entity.Node) *Frame {
	return newFrame(parent, ent, "r", false)
}

// NewConcurrentFrame identifies one concurrently scheduled sibling.
func NewConcurrentFrame(parent *Frame, ent entity.Node) *Frame {
	return newFrame(parent, ent, "cce", true)
}

// NewParallelFrame identifies one parallel copy of a case workload.
func NewParallelFrame(parent *Frame, ent entity.Node) *Frame {
	return newFrame(parent, ent, "p", false)
}

// NewIteratingFrame identifies one iteration binding.
func NewIteratingFrame(parent *Frame, ent entity.Node) *Frame {
	f := newFrame(parent, ent, "i", false)
	f.iters = map[string]string{}
	return f
}

func (f *Frame) Parent() *Frame      { return f.parent }
func (f *Frame) Entity() entity.Node { return f.entity }
func (f *Frame) Current() int        { return f.current }

// SetCurrent assigns the 1-based sequence number of this frame.
func (f *Frame) SetCurrent(n int) { f.current = n }

func (f *Frame) ExcludeFromPath() bool { return f.excludeFromPath }

// ID formats the frame identifier: prefix plus the zero-padded three-digit
// sequence number.
func (f *Frame) ID() string {
	return fmt.Sprintf("%s%03d", f.prefix, f.current)
}

func (f *Frame) Iters() map[string]string { return f.iters }

// SetIters assigns the iteration binding carried by an iterating frame.
func (f *Frame) SetIters(iters map[string]string) { f.iters = iters }

func (f *Frame) CGroups() []*controller.Group { return f.cgroups }

// Walk returns the chain of frames from this one up to the root.
func (f *Frame) Walk() []*Frame {
	var chain []*Frame
	for c := f; c != nil; c = c.parent {
		chain = append(chain, c)
	}
	return chain
}
