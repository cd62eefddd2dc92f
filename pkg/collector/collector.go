//go:build linux

// Package collector implements the telemetry producers driven by collecting
// executors: long-running subprocess collectors (arbitrary commands, perf
// stat/record) and periodic worker-thread collectors that scrape cgroup
// controller stat files. Engines are resolved by name from the collector
// specs declared on a plan.
package collector

import (
	"github.com/ja7ad/mergen/pkg/core"
)

// base carries the state shared by every collector engine.
type base struct {
	ctx  *core.RunContext
	name string
}

func (b *base) Name() string { return b.name }
