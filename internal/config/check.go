package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/banshee-data/trace.report/internal/features"
	"github.com/banshee-data/trace.report/internal/integrity"
	"github.com/banshee-data/trace.report/internal/series"
)

// DefaultConfigPath is the path to the canonical check defaults file.
const DefaultConfigPath = "config/check.defaults.json"

// DefaultRulesPath is the path to the canonical sensor rule table.
const DefaultRulesPath = "config/integrity.defaults.json"

// maxFileSize bounds config and rule files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// CheckConfig holds the parameters of a validation run. Fields omitted from
// the JSON file fall back to the defaults returned by the Get* methods.
type CheckConfig struct {
	// Rule table
	RulesPath *string `json:"rules_path,omitempty"`

	// Recording acceptance
	DurationKey  *string  `json:"duration_key,omitempty"`
	MinDurationS *float64 `json:"min_duration_s,omitempty"`
	MaxDurationS *float64 `json:"max_duration_s,omitempty"`
	MaxWarnings  *int     `json:"max_warnings,omitempty"`

	// Series reconstruction
	AnchorPolicy *string `json:"anchor_policy,omitempty"` // "first" or "last"

	// Feature windows
	WindowSeconds    *float64 `json:"window_seconds,omitempty"`
	WindowSampleRate *float64 `json:"window_sample_rate_hz,omitempty"`
	WindowOverlap    *float64 `json:"window_overlap,omitempty"`

	// Batch processing
	Workers *int `json:"workers,omitempty"`

	// Plotting
	PlotMaxPoints *int `json:"plot_max_points,omitempty"`
}

// EmptyCheckConfig returns a CheckConfig with all fields unset.
func EmptyCheckConfig() *CheckConfig {
	return &CheckConfig{}
}

// readBounded validates the extension and size of a config file and
// returns its contents.
func readBounded(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// LoadCheckConfig loads a CheckConfig from a JSON file. Partial files are
// fine.
func LoadCheckConfig(path string) (*CheckConfig, error) {
	data, err := readBounded(path)
	if err != nil {
		return nil, err
	}

	cfg := EmptyCheckConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadRuleTable loads an ordered rule table from a JSON array and validates
// it.
func LoadRuleTable(path string) (integrity.RuleTable, error) {
	data, err := readBounded(path)
	if err != nil {
		return nil, err
	}

	var rules integrity.RuleTable
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rule table JSON: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rule table %s is empty", path)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	return rules, nil
}

// findDefault looks for a repository file from the working directory and
// its parents, so tests in nested packages can reach config/.
func findDefault(rel string) (string, bool) {
	candidates := []string{
		rel,
		"../" + rel,
		"../../" + rel,       // from internal/config/
		"../../../" + rel,    // deeper packages
		"../../../../" + rel, // even deeper
	}
	if _, file, _, ok := runtime.Caller(0); ok {
		candidates = append(candidates, filepath.Join(filepath.Dir(file), "..", "..", rel))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// MustLoadDefaultConfig loads DefaultConfigPath. Panics if the file cannot be
// loaded, intended for test setup.
func MustLoadDefaultConfig() *CheckConfig {
	path, ok := findDefault(DefaultConfigPath)
	if !ok {
		panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
	}
	cfg, err := LoadCheckConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// MustLoadDefaultRules loads DefaultRulesPath. Panics if the file cannot be
// loaded, intended for test setup.
func MustLoadDefaultRules() integrity.RuleTable {
	path, ok := findDefault(DefaultRulesPath)
	if !ok {
		panic("cannot find " + DefaultRulesPath + " - run tests from repository root")
	}
	rules, err := LoadRuleTable(path)
	if err != nil {
		panic(err)
	}
	return rules
}

// Validate checks that the configuration values are valid.
func (c *CheckConfig) Validate() error {
	if c.MinDurationS != nil && *c.MinDurationS < 0 {
		return fmt.Errorf("min_duration_s must be non-negative, got %f", *c.MinDurationS)
	}
	if c.GetMinDurationS() > c.GetMaxDurationS() {
		return fmt.Errorf("min_duration_s %f exceeds max_duration_s %f", c.GetMinDurationS(), c.GetMaxDurationS())
	}
	if c.MaxWarnings != nil && *c.MaxWarnings < 0 {
		return fmt.Errorf("max_warnings must be non-negative, got %d", *c.MaxWarnings)
	}
	if c.AnchorPolicy != nil {
		if _, err := series.ParseCollapsePolicy(*c.AnchorPolicy); err != nil {
			return err
		}
	}
	if c.WindowSeconds != nil && *c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %f", *c.WindowSeconds)
	}
	if c.WindowSampleRate != nil && *c.WindowSampleRate <= 0 {
		return fmt.Errorf("window_sample_rate_hz must be positive, got %f", *c.WindowSampleRate)
	}
	if c.WindowOverlap != nil && (*c.WindowOverlap < 0 || *c.WindowOverlap >= 1) {
		return fmt.Errorf("window_overlap must be in [0, 1), got %f", *c.WindowOverlap)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.PlotMaxPoints != nil && *c.PlotMaxPoints < 100 {
		return fmt.Errorf("plot_max_points must be at least 100, got %d", *c.PlotMaxPoints)
	}
	return nil
}

// GetRulesPath returns the rule table path or the default.
func (c *CheckConfig) GetRulesPath() string {
	if c.RulesPath == nil || *c.RulesPath == "" {
		return DefaultRulesPath
	}
	return *c.RulesPath
}

// GetDurationKey returns the duration_key value or the default.
func (c *CheckConfig) GetDurationKey() string {
	if c.DurationKey == nil {
		return "ax"
	}
	return *c.DurationKey
}

// GetMinDurationS returns the min_duration_s value or the default.
func (c *CheckConfig) GetMinDurationS() float64 {
	if c.MinDurationS == nil {
		return 120
	}
	return *c.MinDurationS
}

// GetMaxDurationS returns the max_duration_s value or the default.
func (c *CheckConfig) GetMaxDurationS() float64 {
	if c.MaxDurationS == nil {
		return 3600
	}
	return *c.MaxDurationS
}

// GetMaxWarnings returns the max_warnings value or the default.
func (c *CheckConfig) GetMaxWarnings() int {
	if c.MaxWarnings == nil {
		return 15
	}
	return *c.MaxWarnings
}

// GetAnchorPolicy returns the parsed anchor_policy or CollapseFirst.
func (c *CheckConfig) GetAnchorPolicy() series.CollapsePolicy {
	if c.AnchorPolicy == nil {
		return series.CollapseFirst
	}
	p, err := series.ParseCollapsePolicy(*c.AnchorPolicy)
	if err != nil {
		return series.CollapseFirst // default on parse error
	}
	return p
}

// GetWindowSeconds returns the window_seconds value or the default.
func (c *CheckConfig) GetWindowSeconds() float64 {
	if c.WindowSeconds == nil {
		return 3
	}
	return *c.WindowSeconds
}

// GetWindowSampleRate returns the window_sample_rate_hz value or the default.
func (c *CheckConfig) GetWindowSampleRate() float64 {
	if c.WindowSampleRate == nil {
		return 200
	}
	return *c.WindowSampleRate
}

// GetWindowOverlap returns the window_overlap value or the default.
func (c *CheckConfig) GetWindowOverlap() float64 {
	if c.WindowOverlap == nil {
		return 0.5
	}
	return *c.WindowOverlap
}

// WindowConfig maps the window settings onto features.WindowConfig.
func (c *CheckConfig) WindowConfig() features.WindowConfig {
	return features.WindowConfig{
		SampleRateHz: c.GetWindowSampleRate(),
		WindowS:      c.GetWindowSeconds(),
		Overlap:      c.GetWindowOverlap(),
	}
}

// GetWorkers returns the workers value or the default. Zero means one worker
// per CPU.
func (c *CheckConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetPlotMaxPoints returns the plot_max_points value or the default.
func (c *CheckConfig) GetPlotMaxPoints() int {
	if c.PlotMaxPoints == nil {
		return 8000
	}
	return *c.PlotMaxPoints
}

// ValidatorOptions maps the acceptance settings onto integrity.Options.
func (c *CheckConfig) ValidatorOptions() integrity.Options {
	return integrity.Options{
		DurationKey:  c.GetDurationKey(),
		MinDurationS: c.GetMinDurationS(),
		MaxDurationS: c.GetMaxDurationS(),
		MaxWarnings:  c.GetMaxWarnings(),
	}
}

// NewValidator loads the configured rule table and builds a validator. With
// no rules_path set, the default table is searched for from the working
// directory upwards.
func (c *CheckConfig) NewValidator() (*integrity.Validator, error) {
	path := c.GetRulesPath()
	if c.RulesPath == nil {
		if found, ok := findDefault(DefaultRulesPath); ok {
			path = found
		}
	}
	rules, err := LoadRuleTable(path)
	if err != nil {
		return nil, err
	}
	return integrity.NewValidator(rules, c.ValidatorOptions())
}
