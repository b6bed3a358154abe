package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kacperjurak/goimpfit"
)

// unitMap holds the decimal exponent of each magnitude suffix.
var unitMap = map[string]int{
	"T":   12,  // tera
	"G":   9,   // giga
	"meg": 6,   // mega
	"K":   3,   // kilo
	"k":   3,   // kilo
	"m":   -3,  // milli
	"u":   -6,  // micro
	"n":   -9,  // nano
	"p":   -12, // pico
	"f":   -15, // femto
}

var valueRe = regexp.MustCompile(`^([-+]?\d*\.?\d+)(?:[eE]([-+]?\d+))?(meg|[TGKkmunpf])?$`)

// ParseValue parses a number with an optional magnitude suffix. 10u -> 1e-5
//
// The suffix is folded into the decimal exponent before parsing, so 10u
// yields exactly the float64 nearest to 1e-5.
func ParseValue(val string) (float64, error) {
	matches := valueRe.FindStringSubmatch(strings.TrimSpace(val))
	if matches == nil {
		return 0, fmt.Errorf("invalid value format: %s", val)
	}
	exp := 0
	if matches[2] != "" {
		e, err := strconv.Atoi(matches[2])
		if err != nil {
			return 0, fmt.Errorf("invalid exponent in %s: %w", val, err)
		}
		exp = e
	}
	if matches[3] != "" {
		exp += unitMap[matches[3]]
	}
	return strconv.ParseFloat(matches[1]+"e"+strconv.Itoa(exp), 64)
}

// ArrayFlags collects repeated -v flags. Each value may be a comma separated
// list and may carry a magnitude suffix.
type ArrayFlags []float64

func (a *ArrayFlags) String() string {
	parts := make([]string, len(*a))
	for i, v := range *a {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (a *ArrayFlags) Set(value string) error {
	for _, field := range strings.Split(value, ",") {
		v, err := ParseValue(field)
		if err != nil {
			return err
		}
		*a = append(*a, v)
	}
	return nil
}

// Config holds all settings of a fit and KK validation run
type Config struct {
	Circuit      string     `yaml:"circuit"`
	Boukamp      string     `yaml:"boukamp"`
	File         string     `yaml:"file"`
	InitialGuess ArrayFlags `yaml:"initial_guess"`
	CutLow       uint       `yaml:"cut_low"`
	CutHigh      uint       `yaml:"cut_high"`

	Weighting     string        `yaml:"weighting"`
	LocalMethod   string        `yaml:"local_method"`
	MaxIterations int           `yaml:"max_iterations"`
	GlobalOpt     bool          `yaml:"global_opt"`
	TrialBudget   int           `yaml:"trial_budget"`
	Patience      int           `yaml:"patience"`
	Temperature   float64       `yaml:"temperature"`
	StepSize      float64       `yaml:"step_size"`
	RngSeed       int64         `yaml:"rng_seed"`
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	Timeout       time.Duration `yaml:"timeout"`

	SkipKK            bool    `yaml:"skip_kk"`
	MuThreshold       float64 `yaml:"mu_threshold"`
	MinM              int     `yaml:"min_M"`
	MaxM              int     `yaml:"max_M"`
	MStep             int     `yaml:"M_step"`
	ResidualTolerance float64 `yaml:"residual_tolerance"`
	FitType           string  `yaml:"fit_type"`
	AddCap            bool    `yaml:"add_cap"`
	SkipSingular      bool    `yaml:"skip_singular"`

	Quiet  bool         `yaml:"quiet"`
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string        `yaml:"port"`
	WorkerCount     int           `yaml:"worker_count"`
	WebhookURL      string        `yaml:"webhook_url"`
	WebhookGzip     bool          `yaml:"webhook_gzip"`
	EnableMetrics   bool          `yaml:"enable_metrics"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	fit := goimpfit.DefaultFitConfig()
	kk := goimpfit.DefaultKKConfig()
	return &Config{
		Circuit:       "R_1-p(R_2,CPE_1)",
		Weighting:     "modulus",
		LocalMethod:   string(fit.Method),
		MaxIterations: fit.MaxIterations,
		TrialBudget:   fit.TrialBudget,
		Patience:      fit.Patience,
		Temperature:   fit.Temperature,
		StepSize:      fit.StepSize,
		RngSeed:       fit.Seed,
		Workers:       fit.Workers,
		BatchSize:     fit.BatchSize,
		Timeout:       2 * time.Minute,

		MuThreshold:  kk.MuThreshold,
		MinM:         kk.MinOrder,
		MaxM:         kk.MaxOrder,
		MStep:        kk.OrderStep,
		FitType:      kk.FitType.String(),
		AddCap:       kk.AddCap,
		SkipSingular: kk.SkipSingular,

		Server: *DefaultServerConfig(),
	}
}

// DefaultServerConfig returns server configuration with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "8080",
		WorkerCount:     5,
		WebhookURL:      "http://webplot:3001/webhook",
		EnableMetrics:   true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads a YAML file on top of DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Clone returns a deep copy, used to apply per-request overrides.
func (c *Config) Clone() *Config {
	cp := *c
	cp.InitialGuess = append(ArrayFlags(nil), c.InitialGuess...)
	return &cp
}

// Topology returns the circuit in topology syntax, translating the Boukamp
// code when one is set.
func (c *Config) Topology() (string, error) {
	if c.Boukamp != "" {
		return goimpfit.FromBoukamp(c.Boukamp)
	}
	if c.Circuit == "" {
		return "", fmt.Errorf("no circuit configured")
	}
	return c.Circuit, nil
}

// FitConfig converts the fit settings.
func (c *Config) FitConfig(logger *slog.Logger) (goimpfit.FitConfig, error) {
	w, err := goimpfit.ParseWeighting(c.Weighting)
	if err != nil {
		return goimpfit.FitConfig{}, err
	}
	m, err := goimpfit.ParseLocalMethod(c.LocalMethod)
	if err != nil {
		return goimpfit.FitConfig{}, err
	}
	return goimpfit.FitConfig{
		Weighting:     w,
		Method:        m,
		MaxIterations: c.MaxIterations,
		Global:        c.GlobalOpt,
		TrialBudget:   c.TrialBudget,
		Patience:      c.Patience,
		Temperature:   c.Temperature,
		StepSize:      c.StepSize,
		Seed:          c.RngSeed,
		Workers:       c.Workers,
		BatchSize:     c.BatchSize,
		Logger:        logger,
	}, nil
}

// KKConfig converts the Lin-KK settings.
func (c *Config) KKConfig(logger *slog.Logger) (goimpfit.KKConfig, error) {
	ft, err := goimpfit.ParseFitType(c.FitType)
	if err != nil {
		return goimpfit.KKConfig{}, err
	}
	return goimpfit.KKConfig{
		MinOrder:          c.MinM,
		MaxOrder:          c.MaxM,
		OrderStep:         c.MStep,
		MuThreshold:       c.MuThreshold,
		ResidualTolerance: c.ResidualTolerance,
		FitType:           ft,
		AddCap:            c.AddCap,
		SkipSingular:      c.SkipSingular,
		Logger:            logger,
	}, nil
}
