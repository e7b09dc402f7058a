package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"popupflow/internal/popup"
)

// Plan is a list of runs with the outcome each one must produce.
type Plan struct {
	Runs []PlannedRun `yaml:"runs"`
}

// PlannedRun is one entry of a Plan.
type PlannedRun struct {
	Name     string        `yaml:"name"`
	Env      string        `yaml:"env"`
	Scenario string        `yaml:"scenario"`
	Loading  time.Duration `yaml:"loading_timeout,omitempty"`
	Expect   Expectation   `yaml:"expect"`
}

// Expectation is matched field by field; empty fields match anything.
type Expectation struct {
	Kind    string `yaml:"kind"`
	Reason  string `yaml:"reason,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// ParsePlan decodes a YAML plan and rejects entries that cannot run.
func ParsePlan(data []byte) (Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Runs) == 0 {
		return Plan{}, fmt.Errorf("plan has no runs")
	}
	for i, run := range plan.Runs {
		if run.Env == "" || run.Scenario == "" {
			return Plan{}, fmt.Errorf("run %d: env and scenario are required", i+1)
		}
		if run.Expect.Kind == "" {
			return Plan{}, fmt.Errorf("run %d: expect.kind is required", i+1)
		}
	}
	return plan, nil
}

// Mismatch describes how an outcome differs from the expectation, or returns
// "" when it matches.
func (e Expectation) Mismatch(out popup.Outcome) string {
	if string(out.Kind) != e.Kind {
		return fmt.Sprintf("kind %s, want %s", out.Kind, e.Kind)
	}
	if e.Reason != "" && string(out.Reason) != e.Reason {
		return fmt.Sprintf("reason %s, want %s", out.Reason, e.Reason)
	}
	if e.Message != "" && out.Message() != e.Message {
		return fmt.Sprintf("message %q, want %q", out.Message(), e.Message)
	}
	return ""
}

func newPlanCmd(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <file>",
		Short: "Run every flow in a YAML plan and check its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}
			plan, err := ParsePlan(data)
			if err != nil {
				return err
			}
			cfg, err := LoadConfig(root.ConfigFile, nil)
			if err != nil {
				return err
			}

			failed := 0
			for _, run := range plan.Runs {
				opts := RunOptions{
					Environment:          run.Env,
					Scenario:             run.Scenario,
					LoadingTimeout:       cfg.LoadingTimeout,
					LegitimateCloseAfter: cfg.LegitimateCloseAfter,
					Timeout:              cfg.Timeout,
				}
				if run.Loading > 0 {
					opts.LoadingTimeout = run.Loading
				}
				name := run.Name
				if name == "" {
					name = run.Env + "/" + run.Scenario
				}

				out, _, err := RunScenario(cmd.Context(), opts, root.logger(cmd.ErrOrStderr()))
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", name, err)
				case run.Expect.Mismatch(out) != "":
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %s\n", name, run.Expect.Mismatch(out))
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", name)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(plan.Runs))
			}
			return nil
		},
	}
}
