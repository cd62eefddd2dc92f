//go:build linux

package core

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ja7ad/mergen/pkg/entity"
)

// Runner turns entity trees into executor trees and drives them. The
// collecting layer is attached at suite level when the suite runs its cases
// concurrently (the whole region is one experiment) and at case level
// otherwise, so exactly one collector set is active per experiment.
type Runner struct {
	ctx             *RunContext
	buildCollectors CollectorFactory
}

func NewRunner(ctx *RunContext, factory CollectorFactory) *Runner {
	return &Runner{ctx: ctx, buildCollectors: factory}
}

// Run executes each plan to completion; the first failing plan stops the run.
func (r *Runner) Run(plans []*entity.Plan) error {
	for _, plan := range plans {
		root, err := r.Build(plan)
		if err != nil {
			return err
		}
		r.ctx.Logger().Info("running plan", "plan", plan.ShortName())
		if err := root.Execute(nil); err != nil {
			return fmt.Errorf("plan %s: %w", plan.Name(), err)
		}
	}
	return nil
}

// Build wraps one plan into its executor tree and returns the root.
func (r *Runner) Build(plan *entity.Plan) (Executor, error) {
	var collectors []Collector
	if r.buildCollectors != nil {
		var err error
		if collectors, err = r.buildCollectors(r.ctx, plan); err != nil {
			return nil, err
		}
	}

	ctl := NewControllingExecutor(r.ctx, plan, plan.CGroups())
	planRep := NewReplicatingExecutor(r.ctx, plan)
	ctl.AddChild(planRep)

	for _, suite := range plan.Suites() {
		suiteRep := NewReplicatingExecutor(r.ctx, suite)
		planRep.AddChild(suiteRep)

		concurrent := NewConcurrentExecutor(r.ctx, suite)
		if suite.Config().Concurrency {
			collecting := NewCollectingExecutor(r.ctx, suite, collectors, plan.CGroups())
			suiteRep.AddChild(collecting)
			collecting.AddChild(concurrent)
		} else {
			suiteRep.AddChild(concurrent)
		}

		for _, kase := range suite.Cases() {
			caseRep := NewReplicatingExecutor(r.ctx, kase)
			concurrent.AddChild(caseRep)

			iterating := NewIteratingExecutor(r.ctx, kase)
			caseRep.AddChild(iterating)

			parallel := NewParallelExecutor(r.ctx, kase)
			if suite.Config().Concurrency {
				iterating.AddChild(parallel)
			} else {
				collecting := NewCollectingExecutor(r.ctx, kase, collectors, plan.CGroups())
				iterating.AddChild(collecting)
				collecting.AddChild(parallel)
			}

			for _, cmd := range kase.Commands() {
				parallel.AddChild(NewProcessExecutor(r.ctx, cmd))
			}
		}
	}
	return ctl, nil
}

// ReportFiles writes a JSON summary grouping the collector artifacts found
// under the run root by artifact name.
func (r *Runner) ReportFiles(w io.Writer) error {
	groups := map[string][]string{}
	err := filepath.WalkDir(r.ctx.RunPath(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		base := d.Name()
		if !strings.HasPrefix(base, "collector.") {
			return nil
		}
		key := strings.TrimSuffix(base, filepath.Ext(base))
		groups[key] = append(groups[key], path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: walk run path: %v", ErrInternal, err)
	}

	report := map[string]any{"files": map[string]any{"collector": groups}}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal report: %v", ErrInternal, err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
