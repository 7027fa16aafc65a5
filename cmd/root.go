package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/config"
	"github.com/dhcgn/mail-export/progress"
	"github.com/dhcgn/mail-export/runner"
	"github.com/dhcgn/mail-export/source"
)

var rootCmd = &cobra.Command{
	Use:   "mail-export",
	Short: "Export mailbox messages as documents plus a batch summary table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		slog.SetDefault(logger)
		logger.Info("starting mail-export", "out", cfg.OutDir, "dryRun", cfg.DryRun)

		return run(cmd.Context(), cfg, logger)
	},
}

// Execute runs the root command.
func Execute() {
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	lister, err := buildLister(cfg, logger)
	if err != nil {
		return err
	}

	listed, err := lister.List(ctx)
	if err != nil {
		return fmt.Errorf("list source: %w", err)
	}

	bar := progress.New(len(listed), cfg.LogLevel)
	progress.NewProgressReporter(r, bar, logger)

	report, err := r.Run(listed)
	bar.Stop()
	if err != nil {
		return err
	}

	_, failed, _ := report.Counts()
	if failed > 0 {
		return fmt.Errorf("%d of %d results failed", failed, report.Len())
	}
	return nil
}

// buildLister selects the message source from the configuration. Exactly
// one source is configured; LoadConfig enforces that.
func buildLister(cfg config.Config, logger *slog.Logger) (source.Lister, error) {
	switch {
	case cfg.EmlDir != "":
		return &source.DirSource{Dir: cfg.EmlDir}, nil
	case cfg.MboxPath != "":
		return &source.MboxSource{Path: cfg.MboxPath, Logger: logger}, nil
	case cfg.IMAPHost != "":
		return &source.IMAPSource{
			Opts: source.IMAPOptions{
				Host:               cfg.IMAPHost,
				Port:               cfg.IMAPPort,
				Username:           cfg.IMAPUser,
				Password:           cfg.IMAPPass,
				UseTLS:             cfg.UseTLS,
				InsecureSkipVerify: cfg.InsecureSkipVerify,
				Folder:             cfg.IMAPFolder,
			},
			Logger: logger,
		}, nil
	default:
		return nil, fmt.Errorf("no message source configured")
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mail-export-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
