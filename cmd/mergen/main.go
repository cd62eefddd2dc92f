//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ja7ad/mergen/pkg/collector"
	"github.com/ja7ad/mergen/pkg/core"
	"github.com/ja7ad/mergen/pkg/parser"
)

type opts struct {
	planPath string
	workPath string
	logLevel string

	filterPlan  string
	filterSuite string
	filterCase  string

	reportFiles bool
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "mergen",
		Short: "Linux performance experiment orchestrator",
		Long: `Mergen executes declarative experiment plans: hierarchies of suites,
cases and commands with replication, concurrency, parallelism and iteration
axes. Selected processes are confined in cgroups v2 with configured resource
limits, telemetry collectors (perf, cgroup stat scrapers, arbitrary
processes) run alongside each experiment region, and per-run artifacts are
materialized under a timestamped output tree.

Examples:
  mergen --plan-path plan.yaml --work-path /var/tmp/mergen
  mergen --plan-path plans/ --filter-suite throughput --log-level DEBUG`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}

	root.Flags().StringVarP(&o.planPath, "plan-path", "p", "", "plan file or directory of *.yaml plans (required)")
	root.Flags().StringVarP(&o.workPath, "work-path", "w", ".", "directory to create the timestamped run output under")
	root.Flags().StringVarP(&o.logLevel, "log-level", "l", "INFO", "run log level (DEBUG, INFO, WARN, ERROR)")
	root.Flags().StringVar(&o.filterPlan, "filter-plan", "", "run only the named plan")
	root.Flags().StringVar(&o.filterSuite, "filter-suite", "", "run only the named suite")
	root.Flags().StringVar(&o.filterCase, "filter-case", "", "run only the named case")
	root.Flags().BoolVar(&o.reportFiles, "report-files", false, "print a JSON report of collector artifacts after the run")
	_ = root.MarkFlagRequired("plan-path")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(o opts) error {
	ctx := core.NewRunContext(o.planPath, o.workPath)
	ctx.LogLevel = o.logLevel
	ctx.FilterPlan = o.filterPlan
	ctx.FilterSuite = o.filterSuite
	ctx.FilterCase = o.filterCase

	if err := ctx.Validate(); err != nil {
		return err
	}
	if err := ctx.Prepare(); err != nil {
		return err
	}
	defer ctx.Close()

	p := parser.New(ctx)
	if err := p.Load(); err != nil {
		ctx.Logger().Error(err.Error())
		return err
	}
	plans, err := p.Parse()
	if err != nil {
		ctx.Logger().Error(err.Error())
		return err
	}
	if len(plans) == 0 {
		err := fmt.Errorf("%w: no plans matched", core.ErrConfig)
		ctx.Logger().Error(err.Error())
		return err
	}

	runner := core.NewRunner(ctx, collector.Build)
	if err := runner.Run(plans); err != nil {
		ctx.Logger().Error(err.Error())
		return err
	}

	if o.reportFiles {
		if err := runner.ReportFiles(os.Stdout); err != nil {
			ctx.Logger().Error(err.Error())
			return err
		}
	}
	ctx.Logger().Info("run complete", "run_path", ctx.RunPath())
	return nil
}
