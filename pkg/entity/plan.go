package entity

import "github.com/ja7ad/mergen/pkg/controller"

// Plan is the outermost experiment scope. It owns suites and declares the
// cgroups and collectors that apply to the whole run of the plan.
type Plan struct {
	Entity
	suites     []*Suite
	cgroups    []*controller.Group
	collectors []CollectorSpec
}

func NewPlan() *Plan {
	p := &Plan{Entity: newEntity(KindPlan)}
	p.self = p
	return p
}

func (p *Plan) Suites() []*Suite { return p.suites }

// AddSuite appends a suite and links it to this plan.
func (p *Plan) AddSuite(s *Suite) {
	s.SetParent(p)
	p.suites = append(p.suites, s)
}

func (p *Plan) CGroups() []*controller.Group { return p.cgroups }

// AddCGroup registers a cgroup specification owned by this plan.
func (p *Plan) AddCGroup(g *controller.Group) {
	p.cgroups = append(p.cgroups, g)
}

// CGroup looks up an owned cgroup by name; nil when not declared.
func (p *Plan) CGroup(name string) *controller.Group {
	for _, g := range p.cgroups {
		if g.Name() == name {
			return g
		}
	}
	return nil
}

func (p *Plan) Collectors() []CollectorSpec { return p.collectors }

// AddCollector registers a collector specification owned by this plan.
func (p *Plan) AddCollector(s CollectorSpec) {
	p.collectors = append(p.collectors, s)
}
