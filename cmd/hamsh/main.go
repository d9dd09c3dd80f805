// Command hamsh is the hamnix shell.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ruapotato/hamnix/internal/config"
	"github.com/ruapotato/hamnix/internal/hamsh"
	"github.com/ruapotato/hamnix/internal/kernel"
	"github.com/ruapotato/hamnix/internal/logging"
	"github.com/ruapotato/hamnix/internal/store"
)

var (
	configPath string
	socketPath string
	contextID  string
	command    string
	verbose    bool
)

// exitCode carries a script's status out of RunE without printing an error.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

var rootCmd = &cobra.Command{
	Use:   "hamsh [script]",
	Short: hamsh.Description,
	Long: `hamsh runs pipelines of commands that are written on demand.

Every command is resolved through the hamnix kernel, which synthesizes it the
first time it is used and reuses it afterwards. Pipes, redirections ("<", ">",
">>", "2>") and background jobs ("&") work as in other shells.

  hamsh                 interactive session
  hamsh -c 'a | b'      run one line
  hamsh script.ham      run a file line by line`,
	Version:       hamsh.Version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "configuration file")
	rootCmd.Flags().StringVar(&socketPath, "socket", "", "kernel socket path (overrides config)")
	rootCmd.Flags().StringVar(&contextID, "context", "", "synthesis context id (default: a fresh one per session)")
	rootCmd.Flags().StringVarP(&command, "command", "c", "", "run a single command line")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	err := rootCmd.Execute()
	if code, ok := err.(exitCode); ok {
		os.Exit(int(code))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "hamsh: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Kernel.SocketPath = socketPath
	}
	if contextID != "" {
		cfg.Shell.ContextID = contextID
	}
	if cfg.Shell.ContextID == "" {
		cfg.Shell.ContextID = hamsh.NewContextID()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewShell(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	client := kernel.NewClient(kernel.ClientConfig{
		SocketPath: cfg.Kernel.SocketPath,
		Timeout:    cfg.GetRequestTimeout(),
		Retries:    cfg.Shell.ConnectRetries,
		Backoff:    cfg.GetRetryBackoff(),
	}, logger.Named("client"))

	engine, err := hamsh.NewEngine(client, hamsh.EngineConfig{
		ContextID:      cfg.Shell.ContextID,
		EscalationCode: cfg.Shell.EscalationExitCode,
		EnvFile:        cfg.Shell.EnvFile,
		MaxJobs:        cfg.Shell.MaxJobs,
	}, logger.Named("engine"))
	if err != nil {
		return err
	}
	logger.Debug("session started", zap.String("context", cfg.Shell.ContextID), zap.String("socket", cfg.Kernel.SocketPath))

	var script io.Reader
	switch {
	case command != "":
		script = strings.NewReader(command)
	case len(args) == 1:
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		script = f
	case !term.IsTerminal(int(os.Stdin.Fd())):
		// piped script; stages must not also read the script as their stdin
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		script = strings.NewReader(string(data))
	}

	if script != nil {
		sh := hamsh.NewShell(engine, client, hamsh.ShellConfig{}, logger)
		if err := sh.Start(ctx); err != nil {
			logger.Warn("kernel context not registered", zap.Error(err))
		}
		return status(sh.RunScript(ctx, script))
	}

	// The store index only feeds completion, which is best effort.
	var names func() []string
	if st, err := store.New(cfg.Kernel.StoreDir); err == nil {
		if idx, err := store.NewIndex(st, logger.Named("index")); err == nil {
			defer idx.Close()
			go idx.Run(ctx)
			names = idx.Names
		} else {
			logger.Debug("command index unavailable", zap.Error(err))
		}
	}

	sh := hamsh.NewShell(engine, client, hamsh.ShellConfig{
		HistoryFile: historyFile(cfg.Shell.HistoryFile),
		Names:       names,
	}, logger)
	if err := sh.Start(ctx); err != nil {
		logger.Warn("kernel context not registered", zap.Error(err))
	}
	return sh.Interactive(ctx)
}

func status(code int) error {
	if code == 0 {
		return nil
	}
	return exitCode(code)
}

func historyFile(configured string) string {
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hamsh_history")
}
