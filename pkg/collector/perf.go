//go:build linux

package collector

import (
	"fmt"
	"strings"

	"github.com/ja7ad/mergen/pkg/core"
	"github.com/ja7ad/mergen/pkg/entity"
)

// PerfEvent assembles the event arguments shared by the perf stat and perf
// profile collectors. Cgroup events are emitted as one -e '{...}' -G <name>
// block per cgroup in declaration order; system events as -a -e '{...}'.
type PerfEvent struct {
	Process

	Custom []string

	cgroupOrder  []string
	cgroupEvents map[string][]string
	systemEvents []string
}

func newPerfEvent(ctx *core.RunContext, spec entity.CollectorSpec) PerfEvent {
	p := PerfEvent{
		Process:      *NewProcess(ctx, spec),
		Custom:       append([]string(nil), spec.Custom...),
		cgroupEvents: map[string][]string{},
	}
	for _, ev := range spec.Events {
		if ev.CGroup != "" {
			p.AddCgroupEvent(ev.CGroup, ev.Name)
		} else {
			p.AddSystemEvent(ev.Name)
		}
	}
	return p
}

// AddCgroupEvent attaches an event to a cgroup, keeping cgroup declaration
// order.
func (p *PerfEvent) AddCgroupEvent(cgroup, event string) {
	if _, ok := p.cgroupEvents[cgroup]; !ok {
		p.cgroupOrder = append(p.cgroupOrder, cgroup)
	}
	p.cgroupEvents[cgroup] = append(p.cgroupEvents[cgroup], event)
}

// AddSystemEvent registers a system-wide event.
func (p *PerfEvent) AddSystemEvent(event string) {
	p.systemEvents = append(p.systemEvents, event)
}

func (p *PerfEvent) eventParts() []string {
	var parts []string
	for _, cg := range p.cgroupOrder {
		parts = append(parts,
			fmt.Sprintf("-e '{%s}'", strings.Join(p.cgroupEvents[cg], ",")),
			fmt.Sprintf("-G %s", cg))
	}
	if len(p.systemEvents) > 0 {
		parts = append(parts, "-a", fmt.Sprintf("-e '{%s}'", strings.Join(p.systemEvents, ",")))
	}
	return append(parts, p.Custom...)
}

// PerfStat records counter statistics for the experiment region.
type PerfStat struct {
	PerfEvent
}

func NewPerfStat(ctx *core.RunContext, spec entity.CollectorSpec) *PerfStat {
	return &PerfStat{PerfEvent: newPerfEvent(ctx, spec)}
}

// CommandLine returns the templated perf stat record invocation.
func (c *PerfStat) CommandLine() string {
	parts := append([]string{
		"perf stat record",
		"-o {m:context:run_path}/collector.perf_stat.data",
	}, c.eventParts()...)
	return strings.Join(parts, " ")
}

func (c *PerfStat) Start(frame *core.Frame) error {
	c.Cmd = c.CommandLine()
	return c.Process.Start(frame)
}

// PerfProfile records sampled profiles for the experiment region.
type PerfProfile struct {
	PerfEvent
}

func NewPerfProfile(ctx *core.RunContext, spec entity.CollectorSpec) *PerfProfile {
	return &PerfProfile{PerfEvent: newPerfEvent(ctx, spec)}
}

// CommandLine returns the templated perf record invocation.
func (c *PerfProfile) CommandLine() string {
	parts := append([]string{
		"perf record",
		"-o {m:context:run_path}/collector.perf_profile.data",
	}, c.eventParts()...)
	return strings.Join(parts, " ")
}

func (c *PerfProfile) Start(frame *core.Frame) error {
	c.Cmd = c.CommandLine()
	return c.Process.Start(frame)
}
