package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config captures CLI options sourced from config files or flags.
type Config struct {
	Pipelines []string `yaml:"pipelines"`
	Stages    []string `yaml:"stages"`

	OnlySteps []string `yaml:"only_step"`
	SkipSteps []string `yaml:"skip_step"`

	Packages []string `yaml:"packages"`

	Trunk string `yaml:"trunk"`
	Bot   string `yaml:"bot"`

	CoverageURL string `yaml:"coverage_url"`
	MergeURL    string `yaml:"merge_url"`
	Listen      string `yaml:"listen"`
	Journal     string `yaml:"journal"`

	DryRun  bool   `yaml:"dry_run"`
	Verbose bool   `yaml:"verbose"`
	Format  string `yaml:"format"`

	Warn WarnConfig `yaml:"warn"`
}

// WarnConfig controls additional warning behaviour.
type WarnConfig struct {
	RuntimeMismatch bool `yaml:"runtime_mismatch"`
}

// Default returns the baseline configuration used when no flags or config file specify values.
func Default() Config {
	return Config{
		Trunk:   "main",
		Bot:     "dependabot[bot]",
		Listen:  ":8787",
		Journal: filepath.Join(".trunkgate", "journal.jsonl"),
		Format:  FormatPretty,
		Warn: WarnConfig{
			RuntimeMismatch: true,
		},
	}
}

const (
	// FormatPretty renders human readable output.
	FormatPretty = "pretty"
	// FormatJSON renders machine readable output.
	FormatJSON = "json"
)

// Environment variables carrying secrets. Secrets never come from the
// config file and are never written to logs or captured output.
const (
	EnvCoverageToken = "TRUNKGATE_COVERAGE_TOKEN"
	EnvMergeToken    = "TRUNKGATE_MERGE_TOKEN"
	EnvWebhookSecret = "TRUNKGATE_WEBHOOK_SECRET"
)

// Secrets holds tokens injected from the process environment.
type Secrets struct {
	CoverageToken string
	MergeToken    string
	WebhookSecret string
}

// LoadSecrets reads secret tokens from the environment.
func LoadSecrets() Secrets {
	return Secrets{
		CoverageToken: os.Getenv(EnvCoverageToken),
		MergeToken:    os.Getenv(EnvMergeToken),
		WebhookSecret: os.Getenv(EnvWebhookSecret),
	}
}

// Values returns the non-empty secret values, for redaction.
func (s Secrets) Values() []string {
	var out []string
	for _, v := range []string{s.CoverageToken, s.MergeToken, s.WebhookSecret} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Load reads .trunkgate.yml from the repository root when present. Missing files are ignored.
func Load(root string) (Config, error) {
	cfg := Default()
	path := filepath.Join(root, ".trunkgate.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg = merge(cfg, fileCfg)
	return cfg, nil
}

func merge(base, override Config) Config {
	out := base

	if len(override.Pipelines) > 0 {
		out.Pipelines = append([]string{}, override.Pipelines...)
	}
	if len(override.Stages) > 0 {
		out.Stages = append([]string{}, override.Stages...)
	}
	if len(override.OnlySteps) > 0 {
		out.OnlySteps = append([]string{}, override.OnlySteps...)
	}
	if len(override.SkipSteps) > 0 {
		out.SkipSteps = append([]string{}, override.SkipSteps...)
	}
	if len(override.Packages) > 0 {
		out.Packages = append([]string{}, override.Packages...)
	}
	if override.Trunk != "" {
		out.Trunk = override.Trunk
	}
	if override.Bot != "" {
		out.Bot = override.Bot
	}
	if override.CoverageURL != "" {
		out.CoverageURL = override.CoverageURL
	}
	if override.MergeURL != "" {
		out.MergeURL = override.MergeURL
	}
	if override.Listen != "" {
		out.Listen = override.Listen
	}
	if override.Journal != "" {
		out.Journal = override.Journal
	}
	if override.Format != "" {
		out.Format = override.Format
	}
	if override.DryRun {
		out.DryRun = true
	}
	if override.Verbose {
		out.Verbose = true
	}

	if override.Warn.RuntimeMismatch {
		out.Warn.RuntimeMismatch = true
	}

	return out
}

// ApplyFlags mutates cfg by applying values from CLI flags when they are present.
func ApplyFlags(cfg *Config, flags FlagValues) {
	if len(flags.Pipelines.Values) > 0 {
		cfg.Pipelines = append([]string{}, flags.Pipelines.Values...)
	}
	if len(flags.Stages.Values) > 0 {
		cfg.Stages = append([]string{}, flags.Stages.Values...)
	}
	if len(flags.OnlySteps.Values) > 0 {
		cfg.OnlySteps = append([]string{}, flags.OnlySteps.Values...)
	}
	if len(flags.SkipSteps.Values) > 0 {
		cfg.SkipSteps = append([]string{}, flags.SkipSteps.Values...)
	}
	if len(flags.Packages.Values) > 0 {
		cfg.Packages = append([]string{}, flags.Packages.Values...)
	}
	if flags.Trunk.Set {
		cfg.Trunk = flags.Trunk.Value
	}
	if flags.Bot.Set {
		cfg.Bot = flags.Bot.Value
	}
	if flags.CoverageURL.Set {
		cfg.CoverageURL = flags.CoverageURL.Value
	}
	if flags.MergeURL.Set {
		cfg.MergeURL = flags.MergeURL.Value
	}
	if flags.Listen.Set {
		cfg.Listen = flags.Listen.Value
	}
	if flags.Format.Set {
		cfg.Format = flags.Format.Value
	}
	if flags.DryRun.Set {
		cfg.DryRun = flags.DryRun.Value
	}
	if flags.Verbose.Set {
		cfg.Verbose = flags.Verbose.Value
	}
}

// FlagValues captures CLI flag state with knowledge of whether each flag was set explicitly.
type FlagValues struct {
	Pipelines   SliceFlag
	Stages      SliceFlag
	OnlySteps   SliceFlag
	SkipSteps   SliceFlag
	Packages    SliceFlag
	Trunk       StringFlag
	Bot         StringFlag
	CoverageURL StringFlag
	MergeURL    StringFlag
	Listen      StringFlag
	Format      StringFlag
	DryRun      BoolFlag
	Verbose     BoolFlag
}

// StringFlag represents a string flag and whether it was set.
type StringFlag struct {
	Value string
	Set   bool
}

// SliceFlag represents a slice flag and whether it captured values via CLI.
type SliceFlag struct {
	Values []string
}

// BoolFlag represents a bool flag and whether it was set.
type BoolFlag struct {
	Value bool
	Set   bool
}
