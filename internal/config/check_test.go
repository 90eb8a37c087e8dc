package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trace.report/internal/features"
	"github.com/banshee-data/trace.report/internal/integrity"
	"github.com/banshee-data/trace.report/internal/series"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyCheckConfig_Defaults(t *testing.T) {
	cfg := EmptyCheckConfig()

	assert.Equal(t, DefaultRulesPath, cfg.GetRulesPath())
	assert.Equal(t, "ax", cfg.GetDurationKey())
	assert.Equal(t, 120.0, cfg.GetMinDurationS())
	assert.Equal(t, 3600.0, cfg.GetMaxDurationS())
	assert.Equal(t, 15, cfg.GetMaxWarnings())
	assert.Equal(t, series.CollapseFirst, cfg.GetAnchorPolicy())
	assert.Equal(t, 3.0, cfg.GetWindowSeconds())
	assert.Equal(t, 200.0, cfg.GetWindowSampleRate())
	assert.Equal(t, 0.5, cfg.GetWindowOverlap())
	assert.Equal(t, runtime.NumCPU(), cfg.GetWorkers())
	assert.Equal(t, 8000, cfg.GetPlotMaxPoints())
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, integrity.DefaultOptions(), cfg.ValidatorOptions())
	assert.Equal(t, features.DefaultWindowConfig(), cfg.WindowConfig())
}

func TestLoadCheckConfig_Partial(t *testing.T) {
	path := writeFile(t, "check.json", `{"max_warnings": 3, "anchor_policy": "last", "workers": 2}`)

	cfg, err := LoadCheckConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.GetMaxWarnings())
	assert.Equal(t, series.CollapseLast, cfg.GetAnchorPolicy())
	assert.Equal(t, 2, cfg.GetWorkers())
	// Unset fields keep their defaults.
	assert.Equal(t, 120.0, cfg.GetMinDurationS())
}

func TestLoadCheckConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"wrong extension", "check.yaml", `{}`},
		{"bad json", "check.json", `{"max_warnings": }`},
		{"negative warnings", "check.json", `{"max_warnings": -1}`},
		{"inverted durations", "check.json", `{"min_duration_s": 600, "max_duration_s": 60}`},
		{"unknown policy", "check.json", `{"anchor_policy": "middle"}`},
		{"overlap too large", "check.json", `{"window_overlap": 1}`},
		{"tiny plots", "check.json", `{"plot_max_points": 10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.body)
			_, err := LoadCheckConfig(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadCheckConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadCheckConfig_TooLarge(t *testing.T) {
	big := make([]byte, maxFileSize+1)
	for i := range big {
		big[i] = ' '
	}
	path := filepath.Join(t.TempDir(), "big.json")
	require.NoError(t, os.WriteFile(path, big, 0o644))

	_, err := LoadCheckConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadRuleTable(t *testing.T) {
	path := writeFile(t, "rules.json", `[
		{"key": "ax", "tier": "required", "min_rate_hz": 180, "max_rate_hz": 220, "max_gap_s": 20},
		{"key": "speed", "tier": 1, "min_rate_hz": 0.5, "max_rate_hz": 100}
	]`)

	rules, err := LoadRuleTable(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, []string{"ax", "speed"}, rules.Keys())
	assert.Equal(t, integrity.TierDesired, rules[1].Tier)
	require.NotNil(t, rules[0].MaxGapS)
	assert.Equal(t, 20.0, *rules[0].MaxGapS)
	assert.Nil(t, rules[1].MaxGapS)
}

func TestLoadRuleTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", `[]`},
		{"duplicate", `[{"key":"ax","tier":"required","min_rate_hz":1,"max_rate_hz":2},{"key":"ax","tier":"required","min_rate_hz":1,"max_rate_hz":2}]`},
		{"bad tier", `[{"key":"ax","tier":"vital","min_rate_hz":1,"max_rate_hz":2}]`},
		{"inverted", `[{"key":"ax","tier":"required","min_rate_hz":3,"max_rate_hz":2}]`},
		{"zero gap", `[{"key":"ax","tier":"required","min_rate_hz":1,"max_rate_hz":2,"max_gap_s":0}]`},
		{"not an array", `{"key":"ax"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRuleTable(writeFile(t, "rules.json", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDefaultRuleTable(t *testing.T) {
	rules := MustLoadDefaultRules()
	require.Len(t, rules, 49)

	byKey := make(map[string]integrity.Rule, len(rules))
	for _, r := range rules {
		byKey[r.Key] = r
	}

	ax := byKey["ax"]
	assert.Equal(t, integrity.TierRequired, ax.Tier)
	assert.Equal(t, 180.0, ax.MinRateHz)
	assert.Equal(t, 220.0, ax.MaxRateHz)
	require.NotNil(t, ax.MaxGapS)
	assert.Equal(t, 20.0, *ax.MaxGapS)

	assert.Equal(t, integrity.TierDesired, byKey["speed"].Tier)
	assert.Nil(t, byKey["speed"].MaxGapS)
	assert.Equal(t, integrity.TierOptional, byKey["phone_magrotx"].Tier)
	assert.Equal(t, 120.0, *byKey["phone_mx"].MaxGapS)
	assert.Equal(t, "timestamp", rules[0].Key)
	assert.Equal(t, "phone_pressure", rules[len(rules)-1].Key)
}

func TestDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	assert.Equal(t, integrity.DefaultOptions(), cfg.ValidatorOptions())
	assert.Equal(t, DefaultRulesPath, cfg.GetRulesPath())
	assert.Equal(t, series.CollapseFirst, cfg.GetAnchorPolicy())
}

func TestCheckConfig_NewValidator(t *testing.T) {
	rulesPath := writeFile(t, "rules.json", `[{"key":"ax","tier":"required","min_rate_hz":180,"max_rate_hz":220}]`)
	cfg := EmptyCheckConfig()
	cfg.RulesPath = &rulesPath

	v, err := cfg.NewValidator()
	require.NoError(t, err)
	assert.Equal(t, []string{"ax"}, v.Rules().Keys())

	missing := filepath.Join(t.TempDir(), "nope.json")
	cfg.RulesPath = &missing
	_, err = cfg.NewValidator()
	assert.Error(t, err)

	// Unset rules_path finds the repository table from this package.
	v, err = EmptyCheckConfig().NewValidator()
	require.NoError(t, err)
	assert.Len(t, v.Rules(), 49)
}
