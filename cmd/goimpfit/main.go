package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kacperjurak/goimpfit/internal/processing"
	"github.com/kacperjurak/goimpfit/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "goimpfit:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	outDir     string
	logFormat  string
	guess      config.ArrayFlags
}

// bindFlags registers all flags on fs, with defaults taken from cfg.
func bindFlags(fs *flag.FlagSet, cfg *config.Config, opts *options) {
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.outDir, "o", "", "Directory for CSV tables (stdout when empty)")
	fs.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	fs.Var(&opts.guess, "v", "Initial parameter values, repeatable or comma separated (10u, 2.2k)")

	fs.StringVar(&cfg.Circuit, "c", cfg.Circuit, "Circuit topology, e.g. R_1-p(R_2,CPE_1)")
	fs.StringVar(&cfg.Boukamp, "boukamp", cfg.Boukamp, "Boukamp circuit description code, e.g. R(QR)")
	fs.StringVar(&cfg.File, "f", cfg.File, "Measurement data file (freq re im per line)")
	fs.UintVar(&cfg.CutLow, "b", cfg.CutLow, "Cut X of beginning frequencies from the file")
	fs.UintVar(&cfg.CutHigh, "e", cfg.CutHigh, "Cut X of ending frequencies from the file")

	fs.StringVar(&cfg.Weighting, "w", cfg.Weighting, "Weighting: unity, proportional or modulus")
	fs.StringVar(&cfg.LocalMethod, "m", cfg.LocalMethod, "Local method: lm or nelder-mead")
	fs.IntVar(&cfg.MaxIterations, "iter", cfg.MaxIterations, "Maximum local iterations")
	fs.BoolVar(&cfg.GlobalOpt, "global", cfg.GlobalOpt, "Use basin-hopping global optimization")
	fs.IntVar(&cfg.TrialBudget, "budget", cfg.TrialBudget, "Basin-hopping trial budget")
	fs.IntVar(&cfg.Patience, "patience", cfg.Patience, "Trials without improvement before stopping")
	fs.Float64Var(&cfg.Temperature, "T", cfg.Temperature, "Metropolis temperature")
	fs.Float64Var(&cfg.StepSize, "step", cfg.StepSize, "Basin-hopping step size")
	fs.Int64Var(&cfg.RngSeed, "seed", cfg.RngSeed, "Random seed")
	fs.IntVar(&cfg.Workers, "threads", cfg.Workers, "Concurrent basin-hopping trials")
	fs.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Trials per basin-hopping round")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Fit timeout")

	fs.BoolVar(&cfg.SkipKK, "nokk", cfg.SkipKK, "Skip Lin-KK validation")
	fs.Float64Var(&cfg.MuThreshold, "mu", cfg.MuThreshold, "Lin-KK mu threshold")
	fs.IntVar(&cfg.MinM, "minM", cfg.MinM, "Lin-KK first order")
	fs.IntVar(&cfg.MaxM, "maxM", cfg.MaxM, "Lin-KK maximum order")
	fs.IntVar(&cfg.MStep, "stepM", cfg.MStep, "Lin-KK order step")
	fs.StringVar(&cfg.FitType, "fit-type", cfg.FitType, "Lin-KK fit type: complex, real or imag")
	fs.BoolVar(&cfg.AddCap, "cap", cfg.AddCap, "Add a series capacitance to the Lin-KK model")
	fs.Float64Var(&cfg.ResidualTolerance, "kk-tol", cfg.ResidualTolerance, "Stop Lin-KK once residual RMS is below this and require it for validation (0 disables)")

	fs.BoolVar(&cfg.Quiet, "q", cfg.Quiet, "Quiet mode")
}

// parseConfig builds the configuration: defaults, then the YAML file named
// by -config, then the flags given on the command line.
func parseConfig(args []string, stderr io.Writer) (*config.Config, *options, error) {
	cfg := config.DefaultConfig()
	opts := &options{}
	fs := flag.NewFlagSet("goimpfit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bindFlags(fs, cfg, opts)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.configPath == "" {
		if len(opts.guess) > 0 {
			cfg.InitialGuess = opts.guess
		}
		return cfg, opts, nil
	}

	loaded, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	opts = &options{}
	fs = flag.NewFlagSet("goimpfit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bindFlags(fs, loaded, opts)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if len(opts.guess) > 0 {
		loaded.InitialGuess = opts.guess
	}
	return loaded, opts, nil
}

func newLogger(format string, w io.Writer, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, opts, err := parseConfig(args, stderr)
	if err != nil {
		return err
	}
	if cfg.File == "" {
		return fmt.Errorf("no measurement file given (-f)")
	}

	logger := newLogger(opts.logFormat, stderr, cfg.Quiet)

	freqs, impData, err := parseFile(cfg.File)
	if err != nil {
		return err
	}

	processor := processing.NewEISProcessor(logger, nil)
	report, err := processor.Process(ctx, freqs, impData, cfg)
	if err != nil {
		return err
	}
	if report.KKError != "" {
		logger.Warn("lin-kk", "result", report.KKError)
	}

	if opts.outDir == "" {
		return writeTables(stdout, report)
	}
	return writeTableFiles(opts.outDir, report)
}
