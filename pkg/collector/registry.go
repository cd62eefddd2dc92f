//go:build linux

package collector

import (
	"fmt"

	"github.com/ja7ad/mergen/pkg/core"
	"github.com/ja7ad/mergen/pkg/entity"
)

// engines maps engine names from collector specs to constructors.
var engines = map[string]func(ctx *core.RunContext, spec entity.CollectorSpec) core.Collector{
	"process": func(ctx *core.RunContext, spec entity.CollectorSpec) core.Collector {
		return NewProcess(ctx, spec)
	},
	"perf_stat": func(ctx *core.RunContext, spec entity.CollectorSpec) core.Collector {
		return NewPerfStat(ctx, spec)
	},
	"perf_profile": func(ctx *core.RunContext, spec entity.CollectorSpec) core.Collector {
		return NewPerfProfile(ctx, spec)
	},
	"cgroup": func(ctx *core.RunContext, spec entity.CollectorSpec) core.Collector {
		return NewCGroupStat(ctx, spec)
	},
}

// Engines lists the registered engine names.
func Engines() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	return names
}

// Build instantiates the collectors declared on a plan. It satisfies
// core.CollectorFactory.
func Build(ctx *core.RunContext, plan *entity.Plan) ([]core.Collector, error) {
	var out []core.Collector
	for _, spec := range plan.Collectors() {
		ctor, ok := engines[spec.Engine]
		if !ok {
			return nil, fmt.Errorf("%w: unknown collector engine %q", core.ErrConfig, spec.Engine)
		}
		out = append(out, ctor(ctx, spec))
	}
	return out, nil
}
