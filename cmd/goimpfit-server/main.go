package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/server"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(os.Getenv("LOG_FORMAT"))
	srv := server.New(server.Options{Config: cfg, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
}

// bindFlags registers the flags on fs with defaults taken from cfg.
func bindFlags(fs *flag.FlagSet, cfg *config.Config, configPath *string) {
	fs.StringVar(configPath, "config", "", "YAML configuration file")
	fs.StringVar(&cfg.Circuit, "c", cfg.Circuit, "Default circuit topology")
	fs.StringVar(&cfg.Boukamp, "boukamp", cfg.Boukamp, "Default Boukamp circuit code")
	fs.StringVar(&cfg.Weighting, "w", cfg.Weighting, "Weighting: unity, proportional or modulus")
	fs.BoolVar(&cfg.GlobalOpt, "global", cfg.GlobalOpt, "Use basin-hopping global optimization")
	fs.IntVar(&cfg.TrialBudget, "budget", cfg.TrialBudget, "Basin-hopping trial budget")
	fs.Int64Var(&cfg.RngSeed, "seed", cfg.RngSeed, "Random seed")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-spectrum timeout")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Suppress per-request logging")

	fs.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP port")
	fs.IntVar(&cfg.Server.WorkerCount, "threads", cfg.Server.WorkerCount, "Number of worker goroutines")
	fs.StringVar(&cfg.Server.WebhookURL, "webhook", cfg.Server.WebhookURL, "Webhook URL (empty disables)")
	fs.BoolVar(&cfg.Server.WebhookGzip, "webhook-gzip", cfg.Server.WebhookGzip, "Gzip webhook bodies")
	fs.BoolVar(&cfg.Server.EnableMetrics, "metrics", cfg.Server.EnableMetrics, "Expose /metrics")
}

// parseFlags applies defaults, then the YAML file named by -config, then
// the flags given on the command line.
func parseFlags(args []string) (*config.Config, error) {
	var configPath string
	cfg := config.DefaultConfig()
	fs := flag.NewFlagSet("goimpfit-server", flag.ContinueOnError)
	bindFlags(fs, cfg, &configPath)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if configPath == "" {
		return cfg, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	fs = flag.NewFlagSet("goimpfit-server", flag.ContinueOnError)
	bindFlags(fs, cfg, &configPath)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(format string) *slog.Logger {
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}
