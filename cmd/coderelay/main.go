// Command coderelay is an interactive CLI that relays prompts to a
// Gemini model, extracts Python code blocks from the replies, and runs
// them on a configurable execution backend (sandbox service or remote
// VM over SSH).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/hamidomar/coderelay/pkg/chat"
	"github.com/hamidomar/coderelay/pkg/config"
	"github.com/hamidomar/coderelay/pkg/executor"
	"github.com/hamidomar/coderelay/pkg/executor/sandbox"
	sandboxk8s "github.com/hamidomar/coderelay/pkg/executor/sandbox/kubernetes"
	"github.com/hamidomar/coderelay/pkg/executor/ssh"
	"github.com/hamidomar/coderelay/pkg/model"
	"github.com/hamidomar/coderelay/pkg/observability"
)

func main() {
	var (
		configPath string
		backend    string
		logLevel   string
		logFormat  string
		tty        bool
	)

	rootCmd := &cobra.Command{
		Use:          "coderelay",
		Short:        "Chat with a model and run the code it writes",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(logLevel, logFormat)
			return run(cmd.Context(), configPath, backend, tty)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to config file (default: ./config.yaml, /etc/coderelay/config.yaml)")
	flags.StringVar(&backend, "backend", "", "Execution backend: sandbox or vm (overrides config)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	flags.BoolVar(&tty, "tty", isatty.IsTerminal(os.Stdout.Fd()), "Enable interactive prompts. Defaults to true when stdout is a terminal.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, backendFlag string, tty bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if backendFlag != "" {
		cfg.Executor.Backend = backendFlag
	}

	if tty {
		if err := promptMissing(cfg); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	if cfg.Observability.Metrics.Enabled {
		go observability.Serve(ctx, cfg.Observability.Metrics.Listen)
	}

	client, err := model.NewGeminiClient(model.GeminiConfig{
		APIKey:            cfg.Model.APIKey,
		Project:           cfg.Model.Project,
		Location:          cfg.Model.Location,
		Model:             cfg.Model.Name,
		SystemInstruction: cfg.Chat.SystemInstruction,
		BaseURL:           cfg.Model.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}
	defer client.Close()

	exec, err := buildExecutor(cfg)
	if err != nil {
		return err
	}

	slog.Info("starting executor", "backend", cfg.Executor.Backend)
	if err := exec.Start(ctx); err != nil {
		return fmt.Errorf("connecting to the %s backend: %w", cfg.Executor.Backend, err)
	}
	defer func() {
		if err := exec.Stop(); err != nil {
			slog.Warn("executor shutdown failed", "error", err.Error())
		}
	}()

	loop := chat.New(client, exec, chat.NewStdioUI(tty), chat.Options{
		Generation: model.GenerationConfig{
			Temperature:     cfg.Model.Temperature,
			TopP:            cfg.Model.TopP,
			TopK:            cfg.Model.TopK,
			MaxOutputTokens: cfg.Model.MaxOutputTokens,
		},
		ErrorFeedback: cfg.Chat.ErrorFeedback,
		Backend:       cfg.Executor.Backend,
		ModelName:     cfg.Model.Name,
	})
	return loop.Run(ctx)
}

// buildExecutor constructs the executor selected by the configuration.
func buildExecutor(cfg *config.Config) (executor.Executor, error) {
	switch cfg.Executor.Backend {
	case config.BackendSandbox:
		prov, err := buildProvisioner(&cfg.Executor.Sandbox)
		if err != nil {
			return nil, err
		}
		return sandbox.New(prov, sandbox.NewClient(cfg.Executor.Sandbox.APIKey), cfg.Executor.Sandbox.ExecutionTimeout), nil

	case config.BackendVM:
		return ssh.New(ssh.Config{
			Host:         cfg.Executor.VM.Host,
			User:         cfg.Executor.VM.User,
			Port:         cfg.Executor.VM.Port,
			IdentityFile: cfg.Executor.VM.IdentityFile,
		}), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Executor.Backend)
	}
}

// buildProvisioner picks static URL mode or SandboxClaim mode. Claim
// mode needs kubeconfig (or in-cluster) credentials.
func buildProvisioner(cfg *config.SandboxConfig) (sandbox.Provisioner, error) {
	if cfg.URL != "" {
		return &sandbox.StaticProvisioner{URL: cfg.URL}, nil
	}

	scheme, err := sandboxk8s.NewScheme()
	if err != nil {
		return nil, err
	}
	restCfg, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig for SandboxClaim mode: %w", err)
	}
	k8sClient, err := ctrlclient.New(restCfg, ctrlclient.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating Kubernetes client: %w", err)
	}
	return sandboxk8s.NewClaimProvisioner(
		k8sClient,
		cfg.Template,
		cfg.Namespace,
		time.Duration(cfg.ClaimTimeout)*time.Second,
	), nil
}

// promptMissing fills required values the config layers left empty.
// Validation still runs afterwards, so anything not answered here fails
// with a descriptive error instead of a prompt loop.
func promptMissing(cfg *config.Config) error {
	if cfg.Executor.Backend == "" {
		if err := survey.AskOne(&survey.Select{
			Message: "Execution backend:",
			Options: []string{config.BackendSandbox, config.BackendVM},
		}, &cfg.Executor.Backend); err != nil {
			return err
		}
	}

	if cfg.Executor.Backend == config.BackendSandbox && cfg.Executor.Sandbox.APIKey == "" {
		if err := survey.AskOne(&survey.Password{
			Message: "Sandbox API key:",
		}, &cfg.Executor.Sandbox.APIKey); err != nil {
			return err
		}
	}

	if cfg.Executor.Backend == config.BackendVM {
		if cfg.Executor.VM.Host == "" {
			if err := survey.AskOne(&survey.Input{
				Message: "VM host:",
			}, &cfg.Executor.VM.Host); err != nil {
				return err
			}
		}
		if cfg.Executor.VM.User == "" {
			if err := survey.AskOne(&survey.Input{
				Message: "VM user:",
			}, &cfg.Executor.VM.User); err != nil {
				return err
			}
		}
	}

	if cfg.Model.Project == "" && cfg.Model.APIKey == "" {
		if err := survey.AskOne(&survey.Input{
			Message: "GCP project id (leave empty to use a Gemini API key):",
		}, &cfg.Model.Project); err != nil {
			return err
		}
		if cfg.Model.Project == "" {
			if err := survey.AskOne(&survey.Password{
				Message: "Gemini API key:",
			}, &cfg.Model.APIKey); err != nil {
				return err
			}
		}
	}

	return nil
}

// setupLogging configures the process-wide slog default. Logs go to
// stderr so they never interleave with conversation output on stdout.
func setupLogging(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
