//go:build linux

package core

import "github.com/ja7ad/mergen/pkg/entity"

// Collector is a background telemetry producer driven by a collecting
// executor: started before the experiment region runs and stopped exactly
// once after it returns.
type Collector interface {
	Name() string
	Start(frame *Frame) error
	Stop() error
}

// CollectorFactory builds the collectors declared on a plan. The runner is
// handed a factory instead of concrete implementations so that collector
// engines stay outside the core.
type CollectorFactory func(ctx *RunContext, plan *entity.Plan) ([]Collector, error)
