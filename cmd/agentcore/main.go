// Command agentcore is the CLI entry point wiring every §4 component of
// this module into a runnable agent: config loading, provider
// selection, the permission gate, the tool registry, the dispatch
// harness, and the agent loop. Grounded on Dhanuzh-dcode's
// cmd/dcode/main.go, stripped of its TUI (bubbletea) surface per
// spec.md §1's non-goals and reduced to the run/serve/version/auth
// subcommands SPEC_FULL.md's ambient stack names.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore/core/internal/agent"
	"github.com/agentcore/core/internal/agentloop"
	"github.com/agentcore/core/internal/compactor"
	"github.com/agentcore/core/internal/config"
	"github.com/agentcore/core/internal/conversation"
	"github.com/agentcore/core/internal/dispatch"
	"github.com/agentcore/core/internal/logging"
	"github.com/agentcore/core/internal/modelclient"
	"github.com/agentcore/core/internal/permission"
	"github.com/agentcore/core/internal/provider"
	"github.com/agentcore/core/internal/registry"
	"github.com/agentcore/core/internal/server"
	"github.com/agentcore/core/internal/shell"
	"github.com/agentcore/core/internal/welltool"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "agentcore",
		Short:         "agentcore is an AI coding agent's execution substrate",
		Long:          "agentcore drives a tool-using conversation with a model provider: permissioned tool dispatch, subprocess supervision, streaming responses, and microcompaction.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("provider", "p", "", "model provider (anthropic, openai, ...)")
	rootCmd.PersistentFlags().StringP("model", "m", "", "model name, optionally provider/model")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd(), serveCmd(), versionCmd(), authCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		cfg.Provider = p
	}
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		if strings.Contains(m, "/") {
			parts := strings.SplitN(m, "/", 2)
			cfg.Provider = parts[0]
			cfg.Model = parts[1]
		} else {
			cfg.Model = m
		}
	}
}

func newLogger(cmd *cobra.Command) logging.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := "info"
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Config{Level: level, Pretty: true})
}

// buildRegistry assembles the tool registry every run/serve invocation
// shares: the well-known file/search/web/task tools plus the shell
// family over a freshly constructed supervisor. runner's Registry field
// is back-filled with the registry it ends up installed into, so Task
// can dispatch nested turns against the same tool set it was built from.
func buildRegistry(runner *agent.Runner) (*registry.Registry, *shell.Supervisor, error) {
	reg := registry.New()
	runner.Registry = reg
	if err := welltool.Register(reg, runner); err != nil {
		return nil, nil, err
	}
	supervisor := shell.NewSupervisor(0)
	if err := welltool.RegisterShellTools(reg, supervisor); err != nil {
		return nil, nil, err
	}
	return reg, supervisor, nil
}

// actionOf maps a tool name to the permission Action the gate evaluates
// policy against, grounded on Dhanuzh-dcode's agent.go permission
// dispatch switch.
func actionOf(toolName string) permission.Action {
	switch toolName {
	case "bash":
		return permission.ActionBash
	case "read":
		return permission.ActionRead
	case "write":
		return permission.ActionWrite
	case "edit", "multiedit", "notebookedit":
		return permission.ActionEdit
	case "webfetch", "websearch":
		return permission.ActionNetwork
	default:
		return permission.ActionRead
	}
}

func buildHarness(reg *registry.Registry, projectDir string) (*dispatch.Harness, error) {
	gate, err := permission.New(permission.DefaultConfig(projectDir), actionOf)
	if err != nil {
		return nil, err
	}
	return dispatch.New(reg, gate, dispatch.NewHookBus(), func() bool { return false }), nil
}

// cliSink prints assistant text deltas to stdout and tool progress to
// stderr, grounded on Dhanuzh-dcode's non-interactive run output.
type cliSink struct{ out *bufio.Writer }

func (s *cliSink) TextDelta(text string) { s.out.WriteString(text); s.out.Flush() }
func (s *cliSink) ToolProgress(toolUseID string, data map[string]any) {
	fmt.Fprintf(os.Stderr, "[tool %s] %v\n", toolUseID, data)
}
func (s *cliSink) TurnComplete() { s.out.WriteString("\n"); s.out.Flush() }

type noopAppState struct{}

func (noopAppState) InputSubstitution(string, map[string]any) (map[string]any, bool) { return nil, false }

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run a single non-interactive turn against a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg)
			logger := newLogger(cmd)

			prov, err := provider.CreateProvider(cfg.Provider, cfg.GetAPIKey(cfg.Provider))
			if err != nil {
				return fmt.Errorf("creating provider: %w", err)
			}

			workDir, err := os.Getwd()
			if err != nil {
				return err
			}

			runner := &agent.Runner{Provider: prov, Cfg: cfg, WorkDir: workDir}
			reg, supervisor, err := buildRegistry(runner)
			if err != nil {
				return err
			}
			defer supervisor.Reap(time.Now())

			harness, err := buildHarness(reg, workDir)
			if err != nil {
				return err
			}

			conv := conversation.New(cfg.Model)
			client := modelclient.New(prov, cfg.MaxTokens, "")
			loop := agentloop.New(conv, client, harness, compactor.DefaultConfig(), &cliSink{out: bufio.NewWriter(os.Stdout)})
			loop.ProviderName = cfg.Provider

			ctx, cancel := signalContext()
			defer cancel()

			ec := registry.ExecContext{SessionID: conv.ID(), WorkDir: workDir, ToolContext: ctx}
			logger.Info().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("starting run")

			err = loop.RunTurn(ctx, strings.Join(args, " "), ec, noopAppState{}, reg.DescribeAll(), cfg.Model)
			logger.Debug().
				Int("input_tokens", loop.LastStepTokens.InputTokens).
				Int("output_tokens", loop.LastStepTokens.OutputTokens).
				Float64("estimated_cost_usd", loop.LastStepTokens.EstimatedCostUSD).
				Msg("turn token usage")
			if err != nil {
				return provider.FormatProviderError(cfg.Provider, cfg.Model, err)
			}
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/SSE API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg)
			cfg.Server.Enabled = true
			logger := newLogger(cmd)

			workDir, err := os.Getwd()
			if err != nil {
				return err
			}

			apiKey := cfg.GetAPIKey(cfg.Provider)
			prov, err := provider.CreateProvider(cfg.Provider, apiKey)
			if err != nil {
				return fmt.Errorf("creating provider: %w", err)
			}

			runner := &agent.Runner{Provider: prov, Cfg: cfg, WorkDir: workDir}
			reg, supervisor, err := buildRegistry(runner)
			if err != nil {
				return err
			}
			defer supervisor.Reap(time.Now())

			harness, err := buildHarness(reg, workDir)
			if err != nil {
				return err
			}

			srv := server.New(cfg, logger, reg, harness, workDir)

			ctx, cancel := signalContext()
			defer cancel()

			go func() {
				<-ctx.Done()
				logger.Info().Msg("shutting down server")
				_ = srv.Stop()
			}()

			logger.Info().Int("port", cfg.Server.Port).Msg("serving")
			return srv.Start()
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentcore version %s (%s)\n", version, commit)
			fmt.Printf("go version %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// authCmd wires config.Login/ProviderLogin/Logout and the provider package's
// OAuth device/PKCE flows (AnthropicLogin, CopilotLogin) into the CLI,
// grounded on Dhanuzh-dcode's cmd/dcode auth subcommands. Without this
// command the interactive credential-prompt path in internal/config/auth.go
// — and the golang.org/x/term dependency it pulls in — is unreachable.
func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth [provider]",
		Short: "Authenticate with a model provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return config.Login()
			}
			switch args[0] {
			case "anthropic":
				return provider.AnthropicLogin()
			case "copilot":
				return provider.CopilotLogin()
			default:
				return config.ProviderLogin(args[0])
			}
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Remove stored provider credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Logout()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "limits [provider]",
		Short: "Show known context/rate limits for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(provider.ExplainProviderLimits(args[0]))
			return nil
		},
	})
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
