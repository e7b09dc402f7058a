package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"popupflow/internal/browser/sim"
	"popupflow/internal/platform/config"
	"popupflow/internal/popup"
	"popupflow/internal/popup/store/outcome"
)

const (
	simOrigin = "https://app.example"

	uaDesktop = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaMobile  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaInApp   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 [FBAN/FBIOS;FBAV/440.0.0.0]"

	pollInterval = 10 * time.Millisecond
)

// Scenarios the simulated user can play.
const (
	ScenarioSuccess      = "success"
	ScenarioCancel       = "cancel"
	ScenarioClose        = "close"
	ScenarioError        = "error"
	ScenarioBlocked      = "blocked"
	ScenarioRedirectFail = "redirect-fail"
)

var (
	environments = []string{string(popup.EnvDesktop), string(popup.EnvMobile), string(popup.EnvInApp), string(popup.EnvIframe)}
	scenarios    = []string{ScenarioSuccess, ScenarioCancel, ScenarioClose, ScenarioError, ScenarioBlocked, ScenarioRedirectFail}
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	Environment          string
	Scenario             string
	LoadingTimeout       time.Duration
	LegitimateCloseAfter time.Duration
	Timeout              time.Duration
}

func newRunCmd(root *RootOptions) *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one flow and print its outcome",
		Example: `  flowsim run --env mobile --scenario close
  flowsim run --env iframe --scenario success --loading-timeout 200ms`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(root.ConfigFile, cmd.Flags())
			if err != nil {
				return err
			}
			opts.LoadingTimeout = cfg.LoadingTimeout
			opts.LegitimateCloseAfter = cfg.LegitimateCloseAfter
			opts.Timeout = cfg.Timeout
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, env, err := RunScenario(cmd.Context(), *opts, root.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "environment=%s outcome=%s", env, out.Kind)
			if out.Reason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " reason=%s", out.Reason)
			}
			if msg := out.Message(); msg != "" && out.Kind != popup.KindCancelled {
				fmt.Fprintf(cmd.OutOrStdout(), " message=%q", msg)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	defaults := flowDefaults()
	flags := cmd.Flags()
	flags.StringVar(&opts.Environment, "env", string(popup.EnvDesktop), "environment: "+strings.Join(environments, ", "))
	flags.StringVar(&opts.Scenario, "scenario", ScenarioSuccess, "scenario: "+strings.Join(scenarios, ", "))
	flags.DurationVar(&opts.LoadingTimeout, "loading-timeout", defaults.LoadingTimeout, "time on the loading page before the redirect")
	flags.DurationVar(&opts.LegitimateCloseAfter, "legitimate-close-after", defaults.LegitimateCloseAfter, "earliest return to the page counted as a closed tab")
	flags.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up waiting for an outcome after this long")
	return cmd
}

// flowDefaults reads the shared flow timings, falling back to the built-in
// values when the environment is unusable.
func flowDefaults() config.FlowConfig {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.FlowConfig{
			LoadingTimeout:       popup.DefaultOptions().LoadingTimeout,
			LegitimateCloseAfter: popup.DefaultLegitimateCloseAfter,
		}
	}
	return cfg.Flow
}

func (o RunOptions) validate() error {
	if !slices.Contains(environments, o.Environment) {
		return fmt.Errorf("unknown environment %q (want one of %s)", o.Environment, strings.Join(environments, ", "))
	}
	if !slices.Contains(scenarios, o.Scenario) {
		return fmt.Errorf("unknown scenario %q (want one of %s)", o.Scenario, strings.Join(scenarios, ", "))
	}
	if o.LoadingTimeout <= 0 || o.Timeout <= 0 {
		return errors.New("durations must be positive")
	}
	return nil
}

// simulation is one browser with the pages a scenario needs.
type simulation struct {
	browser *sim.Browser
	top     *sim.Page
	host    *sim.Page
	store   *outcome.InMemoryStore
}

func newSimulation(env popup.Environment) *simulation {
	b := sim.NewBrowser()
	ua := uaDesktop
	switch env {
	case popup.EnvMobile:
		ua = uaMobile
	case popup.EnvInApp:
		ua = uaInApp
	}
	s := &simulation{browser: b, store: outcome.NewInMemory()}
	s.top = b.NewPage(simOrigin, ua)
	s.host = s.top
	if env == popup.EnvIframe {
		s.host = b.NewFrame(s.top, simOrigin, ua)
	}
	return s
}

// RunScenario opens a flow in env, plays the scenario and waits for the
// outcome.
func RunScenario(ctx context.Context, opts RunOptions, log *slog.Logger) (popup.Outcome, popup.Environment, error) {
	if err := opts.validate(); err != nil {
		return popup.Outcome{}, "", err
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	env := popup.Environment(opts.Environment)
	s := newSimulation(env)
	defer s.browser.Close()

	managerOpts := []popup.Option{
		popup.WithLogger(log),
		popup.WithDefaults(popup.Options{LoadingTimeout: opts.LoadingTimeout}),
		popup.WithLegitimateCloseAfter(opts.LegitimateCloseAfter),
	}

	if env == popup.EnvIframe {
		topManager, err := popup.NewManager(s.top, s.store, managerOpts...)
		if err != nil {
			return popup.Outcome{}, env, err
		}
		defer topManager.Shutdown()
		relay, err := popup.NewRelay(topManager, popup.WithRelayLogger(log))
		if err != nil {
			return popup.Outcome{}, env, err
		}
		relay.Start()
		defer relay.Stop()
	}

	manager, err := popup.NewManager(s.host, s.store, managerOpts...)
	if err != nil {
		return popup.Outcome{}, env, err
	}
	defer manager.Shutdown()

	if opts.Scenario == ScenarioBlocked {
		s.browser.BlockPopups(true)
	}
	flow, err := manager.Open(ctx, popup.FlowConfig{
		TargetURL:   simOrigin + "/thirdparty-bank",
		CallbackURL: simOrigin + "/success-callback",
	})
	if err != nil {
		return popup.Outcome{}, env, err
	}

	go s.play(ctx, flow.Done(), opts)

	out, err := flow.Wait(ctx)
	if err != nil {
		return popup.Outcome{}, env, fmt.Errorf("waiting for outcome: %w", err)
	}
	return out, flow.Environment(), nil
}

// play acts as the user on the secondary context.
func (s *simulation) play(ctx context.Context, done <-chan struct{}, opts RunOptions) {
	var popupPage *sim.Page
	if !s.poll(ctx, done, func() bool {
		popupPage = s.browser.LastOpened()
		return popupPage != nil
	}) {
		return
	}

	if opts.Scenario == ScenarioRedirectFail {
		popupPage.FailNavigation(errors.New("cross-origin navigation denied"))
		return
	}

	if !s.poll(ctx, done, func() bool { return strings.Contains(popupPage.URL(), "/thirdparty-bank") }) {
		return
	}

	tab := popupPage.Name() == "_blank"
	if tab {
		// The user spends a while on the bank page before coming back.
		time.Sleep(opts.LegitimateCloseAfter)
	}

	var msg popup.Message
	switch opts.Scenario {
	case ScenarioSuccess:
		msg = popup.NewMessage(popup.TypeSuccess, "OTP verified successfully")
	case ScenarioCancel:
		msg = popup.NewMessage(popup.TypeCancel, "Operation cancelled by user")
	case ScenarioError:
		msg = popup.NewMessage(popup.TypeError, "Card declined")
	case ScenarioClose:
		popupPage.Close()
		if tab {
			s.top.SetVisible(true)
		}
		return
	default:
		return
	}

	if !tab {
		popupPage.PostToOpener(popup.Encode(msg))
		return
	}
	// Tabs report through the persisted slot, then close themselves.
	_ = s.store.Put(ctx, popup.SlotKey, string(popup.Encode(msg)))
	popupPage.Close()
	s.top.SetVisible(true)
}

func (s *simulation) poll(ctx context.Context, done <-chan struct{}, cond func() bool) bool {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return false
		case <-done:
			return false
		case <-t.C:
		}
	}
	return true
}
