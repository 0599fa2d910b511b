package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conductor-ai/conductor/internal/daemon"
	"github.com/conductor-ai/conductor/pkg/pipeline"
	"github.com/conductor-ai/conductor/pkg/plan"
)

var (
	runSteps           string
	runDeps            string
	runAuto            bool
	runUnsafe          bool
	runParallelism     int
	runTimeout         time.Duration
	runStepTimeout     time.Duration
	runContinueOnError bool
)

var runCmd = &cobra.Command{
	Use:   "run [input]",
	Short: "Execute a pipeline once and print the result",
	Long: `Execute a single pipeline in-process and print the result as JSON.

With --steps, the given steps run directly without a planner. Without
--steps, the input is planned automatically using the configured models.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSteps, "steps", "", `explicit steps as JSON, e.g. '[{"tool":"read_file","args":{"path":"a.txt"}}]'`)
	runCmd.Flags().StringVar(&runDeps, "deps", "", `step dependencies as JSON, e.g. '{"1":[0]}'`)
	runCmd.Flags().BoolVar(&runAuto, "auto", true, "plan steps automatically when --steps is not given")
	runCmd.Flags().BoolVar(&runUnsafe, "unsafe", false, "allow tools marked unsafe")
	runCmd.Flags().IntVar(&runParallelism, "parallelism", 0, "max concurrent steps (0 uses the configured default)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall execution timeout (0 uses the default)")
	runCmd.Flags().DurationVar(&runStepTimeout, "step-timeout", 0, "per-step timeout (0 uses the default)")
	runCmd.Flags().BoolVar(&runContinueOnError, "continue-on-error", false, "run remaining steps even after a failure")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := buildRunOptions()
	if err != nil {
		return err
	}

	input := strings.Join(args, " ")
	if input == "" && opts.ProvidedSteps == nil {
		return fmt.Errorf("provide an input to plan or explicit --steps")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	// One-shot runs never expose the network surface.
	cfg.Gateway.Enabled = false
	cfg.Queue.Persist = false
	if cfg.Tools.AllowUnsafe {
		opts.AllowUnsafeTools = true
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, nil)
	if err != nil {
		return fmt.Errorf("assemble runtime: %w", err)
	}
	if err := d.Start(); err != nil {
		return err
	}
	defer d.Stop()

	result, err := d.Pipeline().Execute(cmd.Context(), pipeline.Request{
		Input:   input,
		Options: opts,
	})
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

	if !result.Success {
		return fmt.Errorf("execution %s finished with failed steps", result.ExecutionID)
	}
	return nil
}

func buildRunOptions() (pipeline.Options, error) {
	opts := pipeline.Options{
		AutoPlanning:     runAuto,
		AllowUnsafeTools: runUnsafe,
		MaxParallelism:   runParallelism,
		Timeout:          runTimeout,
		StepTimeout:      runStepTimeout,
		ContinueOnError:  runContinueOnError,
	}

	if runSteps != "" {
		var steps []plan.Step
		if err := json.Unmarshal([]byte(runSteps), &steps); err != nil {
			return opts, fmt.Errorf("parse --steps: %w", err)
		}
		opts.ProvidedSteps = steps
		opts.AutoPlanning = false
	}
	if runDeps != "" {
		var raw map[string][]int
		if err := json.Unmarshal([]byte(runDeps), &raw); err != nil {
			return opts, fmt.Errorf("parse --deps: %w", err)
		}
		deps := make(map[int][]int, len(raw))
		for key, prereqs := range raw {
			var idx int
			if _, err := fmt.Sscanf(key, "%d", &idx); err != nil {
				return opts, fmt.Errorf("parse --deps key %q: %w", key, err)
			}
			deps[idx] = prereqs
		}
		opts.Dependencies = deps
	}
	return opts, nil
}
