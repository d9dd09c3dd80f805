// Command hamkernel runs the hamnix kernel: the unix-socket service that
// owns the command store and synthesizes missing commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ruapotato/hamnix/internal/config"
	"github.com/ruapotato/hamnix/internal/kernel"
	"github.com/ruapotato/hamnix/internal/logging"
	"github.com/ruapotato/hamnix/internal/oracle"
	"github.com/ruapotato/hamnix/internal/store"
)

// Version is overridden by build-time ldflags.
var Version = "0.3.0"

var (
	configPath string
	socketPath string
	storeDir   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hamkernel",
	Short: "hamnix kernel service",
	Long: `hamkernel listens on a unix socket and serves hamsh.

Every command hamsh cannot find is synthesized by the configured oracle,
written to the command store and reused on later invocations. Requests are
processed strictly one at a time in arrival order.

Run without a subcommand to serve.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve requests until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var callCmd = &cobra.Command{
	Use:   "call <json>",
	Short: "Send one raw request and print the raw response",
	Long: `Sends a single newline-delimited JSON request to a running kernel and
prints the response line unchanged.

Example:
  hamkernel call '{"type":"get_env"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var writeConfig bool

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "configuration file")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "kernel socket path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store", "", "command store directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	configCmd.Flags().BoolVar(&writeConfig, "write", false, "write the effective configuration to --config")

	rootCmd.AddCommand(serveCmd, callCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hamkernel: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Kernel.SocketPath = socketPath
	}
	if storeDir != "" {
		cfg.Kernel.StoreDir = storeDir
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Kernel.StoreDir)
	if err != nil {
		return err
	}

	client, err := oracle.New(ctx, cfg.Oracle, cfg.GetOracleTimeout(), logger.Named("oracle"))
	if err != nil {
		return err
	}
	synth := oracle.NewSynthesizer(client, oracle.SynthesizerConfig{
		MaxAttempts:    cfg.Oracle.MaxAttempts,
		BaseDelay:      cfg.GetRetryDelay(),
		MaxDelay:       oracle.DefaultSynthesizerConfig().MaxDelay,
		BackoffFactor:  oracle.DefaultSynthesizerConfig().BackoffFactor,
		Interpreter:    cfg.Oracle.Interpreter,
		ValidateSyntax: cfg.Oracle.ValidateSyntax,
	}, logger.Named("synth"))

	svc, err := kernel.NewService(kernel.ServiceConfig{
		Store:       st,
		Synthesizer: synth,
		Prompts: oracle.PromptOptions{
			Interpreter:    cfg.Oracle.Interpreter,
			EscalationCode: cfg.Shell.EscalationExitCode,
		},
		FallbackStub: cfg.Oracle.FallbackStub,
		InitialEnv:   kernel.EnvironFromList(os.Environ()),
	}, logger.Named("service"))
	if err != nil {
		return err
	}

	var audit kernel.AuditLogger
	if cfg.Kernel.AuditLog != "" {
		fileAudit, err := kernel.NewFileAuditLogger(cfg.Kernel.AuditLog)
		if err != nil {
			return err
		}
		defer fileAudit.Close()
		audit = fileAudit
	}

	logger.Info("starting kernel",
		zap.String("version", Version),
		zap.String("socket", cfg.Kernel.SocketPath),
		zap.String("store", st.Dir()),
		zap.String("oracle", cfg.Oracle.Provider),
		zap.Bool("fallback_stub", cfg.Oracle.FallbackStub))

	srv := kernel.NewServer(cfg.Kernel.SocketPath, svc, audit, logger.Named("server"))
	err = srv.Serve(ctx)
	if oc, ok := client.(*oracle.OpenAIClient); ok {
		stats := oc.Stats()
		logger.Info("oracle usage",
			zap.Int("requests", stats.RequestCount),
			zap.Int("errors", stats.ErrorCount),
			zap.Int("prompt_tokens", stats.PromptTokens),
			zap.Int("completion_tokens", stats.CompletionTokens),
			zap.Duration("total_duration", stats.TotalDuration))
	}
	return err
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewShell(cfg.Logging, verbose)
	if err != nil {
		return err
	}

	client := kernel.NewClient(kernel.ClientConfig{
		SocketPath: cfg.Kernel.SocketPath,
		Timeout:    cfg.GetRequestTimeout(),
		Retries:    cfg.Shell.ConnectRetries,
		Backoff:    cfg.GetRetryBackoff(),
	}, logger)

	resp, err := client.CallRaw(cmd.Context(), []byte(strings.TrimSpace(args[0])))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(resp))
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if writeConfig {
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	}

	shown := *cfg
	if shown.Oracle.APIKey != "" {
		shown.Oracle.APIKey = "********"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
