package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rawblock/factory-engine/internal/batch"
	"github.com/rawblock/factory-engine/internal/parser"
	"github.com/rawblock/factory-engine/internal/shadow"
	"github.com/rawblock/factory-engine/pkg/models"
)

type solveOptions struct {
	workers       int
	skip          bool
	expectToggle  int // Negative means unchecked
	expectJoltage int
	shadow        bool
	jsonOut       bool
	policy        batch.Policy
	stateBudget   int
	snapshotID    int64
}

var solveFlags solveOptions

var solveCmd = &cobra.Command{
	Use:   "solve [file]",
	Short: "Solve machines from a puzzle file (stdin when omitted) and print both totals",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		opts := solveFlags
		if !cmd.Flags().Changed("workers") {
			opts.workers = cfg.Solver.Workers
		}
		policy, err := batch.ParsePolicy(cfg.Solver.Policy)
		if err != nil {
			return err
		}
		if opts.skip {
			policy = batch.PolicySkip
		}
		opts.policy = policy
		opts.stateBudget = cfg.Shadow.StateBudget
		opts.snapshotID = cfg.Shadow.SnapshotID

		return runSolve(cmd.Context(), in, cmd.OutOrStdout(), opts)
	},
}

func init() {
	f := solveCmd.Flags()
	f.IntVarP(&solveFlags.workers, "workers", "w", 0, "machines solved in parallel (default from config)")
	f.BoolVar(&solveFlags.skip, "skip", false, "report failed machines and leave them out of the totals")
	f.IntVar(&solveFlags.expectToggle, "expect-toggle", -1, "fail unless the toggle total equals this value")
	f.IntVar(&solveFlags.expectJoltage, "expect-joltage", -1, "fail unless the joltage total equals this value")
	f.BoolVar(&solveFlags.shadow, "shadow", false, "cross-check every joltage answer against the exhaustive search")
	f.BoolVar(&solveFlags.jsonOut, "json", false, "print the full batch report as JSON")
}

func runSolve(ctx context.Context, in io.Reader, out io.Writer, opts solveOptions) error {
	machines, err := parser.ParseMachines(in)
	if err != nil {
		return err
	}

	s := batch.NewSolver(batch.WithWorkers(opts.workers), batch.WithPolicy(opts.policy))
	report, solveErr := s.SolveAll(ctx, machines)
	if report == nil {
		return solveErr
	}
	model := report.Model()

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(model); err != nil {
			return err
		}
	} else {
		printReport(out, model)
	}
	if solveErr != nil {
		return solveErr
	}

	if opts.shadow {
		if err := runShadow(ctx, out, machines, opts); err != nil {
			return err
		}
	}

	if opts.expectToggle >= 0 && model.ToggleTotal != opts.expectToggle {
		return fmt.Errorf("toggle total %d, expected %d", model.ToggleTotal, opts.expectToggle)
	}
	if opts.expectJoltage >= 0 && model.JoltageTotal != opts.expectJoltage {
		return fmt.Errorf("joltage total %d, expected %d", model.JoltageTotal, opts.expectJoltage)
	}
	return nil
}

func printReport(out io.Writer, r models.BatchReport) {
	for _, res := range r.Results {
		if res.Solved() {
			continue
		}
		fmt.Fprintf(out, "machine %d: toggle=%q joltage=%q\n", res.Index, res.ToggleError, res.JoltageError)
	}
	fmt.Fprintf(out, "machines: %d (solved %d, failed %d)\n", r.Machines, r.Solved, r.Failed)
	fmt.Fprintf(out, "toggle: %d\n", r.ToggleTotal)
	fmt.Fprintf(out, "joltage: %d\n", r.JoltageTotal)
}

func runShadow(ctx context.Context, out io.Writer, machines []models.Machine, opts solveOptions) error {
	sr := shadow.NewShadowRunner(nil, opts.snapshotID, opts.stateBudget)
	results, summary, err := sr.CompareAll(ctx, machines)
	if err != nil {
		return err
	}
	for _, c := range results {
		if c.Divergent {
			fmt.Fprintf(out, "shadow divergence on machine %d: decomposer=%d search=%d (%s)\n",
				c.Index, c.Production, c.Shadow, c.Reason)
		}
	}
	fmt.Fprintf(out, "shadow: %d compared, %d divergent, %d skipped\n", summary.Total, summary.Divergent, summary.Skipped)
	if summary.Divergent > 0 {
		return fmt.Errorf("%d shadow divergences", summary.Divergent)
	}
	return nil
}
