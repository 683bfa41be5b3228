package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/peakselect/internal/peaks"
	"github.com/banshee-data/peakselect/internal/units"
)

// DefaultConfigPath is the path to the canonical selection defaults file.
const DefaultConfigPath = "config/selection.defaults.json"

// SelectionConfig holds the defaults for a selection run. Every field is a
// pointer so a file can set a subset and leave the rest to the getters.
// The schema matches the /api/config endpoint; files may be JSON or YAML
// with the same keys.
type SelectionConfig struct {
	TargetCount *int     `json:"target_count,omitempty" yaml:"target_count,omitempty"`
	MinGap      *float64 `json:"min_gap,omitempty" yaml:"min_gap,omitempty"`

	// Baseline is subtracted from each acceleration reading before ranking.
	// GravityBaseline replaces it with the rest reading for AccelUnits; a
	// config may not set both to different values.
	Baseline        *float64 `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	GravityBaseline *bool    `json:"gravity_baseline,omitempty" yaml:"gravity_baseline,omitempty"`
	LegacyRankSkip  *bool    `json:"legacy_rank_skip,omitempty" yaml:"legacy_rank_skip,omitempty"`

	Delimiter  *string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	SpeedUnits *string `json:"speed_units,omitempty" yaml:"speed_units,omitempty"`
	AccelUnits *string `json:"accel_units,omitempty" yaml:"accel_units,omitempty"`
	Precision  *int    `json:"precision,omitempty" yaml:"precision,omitempty"` // -1 for shortest round-trip formatting
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySelectionConfig returns a config with no fields set.
func EmptySelectionConfig() *SelectionConfig {
	return &SelectionConfig{}
}

// DefaultSelectionConfig returns a config with every field set to its
// built-in default.
func DefaultSelectionConfig() *SelectionConfig {
	return &SelectionConfig{
		TargetCount:     ptrInt(5),
		MinGap:          ptrFloat64(2),
		Baseline:        ptrFloat64(0),
		GravityBaseline: ptrBool(false),
		LegacyRankSkip:  ptrBool(false),
		Delimiter:       ptrString(","),
		SpeedUnits:      ptrString(units.MPS),
		AccelUnits:      ptrString(units.MPS2),
		Precision:       ptrInt(-1),
	}
}

// LoadSelectionConfig reads and validates a .json, .yaml or .yml config
// file.
func LoadSelectionConfig(path string) (*SelectionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySelectionConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory so tests in nested packages find it.
func MustLoadDefaultConfig() *SelectionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSelectionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the fields that are set.
func (c *SelectionConfig) Validate() error {
	if c.TargetCount != nil && *c.TargetCount < 1 {
		return fmt.Errorf("target_count must be at least 1, got %d", *c.TargetCount)
	}
	if c.MinGap != nil && (*c.MinGap < 0 || math.IsNaN(*c.MinGap)) {
		return fmt.Errorf("min_gap must be non-negative, got %f", *c.MinGap)
	}
	if c.Baseline != nil && (math.IsNaN(*c.Baseline) || math.IsInf(*c.Baseline, 0)) {
		return fmt.Errorf("baseline must be finite, got %f", *c.Baseline)
	}
	if c.GravityBaseline != nil && *c.GravityBaseline && c.Baseline != nil && *c.Baseline != units.GravityBaseline(c.GetAccelUnits()) {
		return fmt.Errorf("baseline %g conflicts with gravity_baseline; set one or the other", *c.Baseline)
	}
	if c.Delimiter != nil {
		if r, size := utf8.DecodeRuneInString(*c.Delimiter); size == 0 || size != len(*c.Delimiter) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return fmt.Errorf("delimiter must be a single character other than quote or newline, got %q", *c.Delimiter)
		}
	}
	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", units.GetValidUnitsString(), *c.SpeedUnits)
	}
	if c.AccelUnits != nil && !units.IsValidAccel(*c.AccelUnits) {
		return fmt.Errorf("accel_units must be one of %s, got %q", units.GetValidAccelUnitsString(), *c.AccelUnits)
	}
	if c.Precision != nil && (*c.Precision < -1 || *c.Precision > 17) {
		return fmt.Errorf("precision must be between -1 and 17, got %d", *c.Precision)
	}
	return nil
}

// Merge returns a copy of c with every field set in o taking precedence.
// An explicit baseline in o switches off a gravity baseline inherited from
// c, and a gravity baseline in o drops an inherited explicit baseline.
func (c *SelectionConfig) Merge(o *SelectionConfig) *SelectionConfig {
	out := *c
	if o == nil {
		return &out
	}
	if o.TargetCount != nil {
		out.TargetCount = o.TargetCount
	}
	if o.MinGap != nil {
		out.MinGap = o.MinGap
	}
	if o.Baseline != nil {
		out.Baseline = o.Baseline
		if o.GravityBaseline == nil {
			out.GravityBaseline = ptrBool(false)
		}
	}
	if o.GravityBaseline != nil {
		out.GravityBaseline = o.GravityBaseline
		if *o.GravityBaseline && o.Baseline == nil {
			out.Baseline = nil
		}
	}
	if o.LegacyRankSkip != nil {
		out.LegacyRankSkip = o.LegacyRankSkip
	}
	if o.Delimiter != nil {
		out.Delimiter = o.Delimiter
	}
	if o.SpeedUnits != nil {
		out.SpeedUnits = o.SpeedUnits
	}
	if o.AccelUnits != nil {
		out.AccelUnits = o.AccelUnits
	}
	if o.Precision != nil {
		out.Precision = o.Precision
	}
	return &out
}

func (c *SelectionConfig) GetTargetCount() int {
	if c.TargetCount == nil {
		return 5 // default
	}
	return *c.TargetCount
}

func (c *SelectionConfig) GetMinGap() float64 {
	if c.MinGap == nil {
		return 2 // default
	}
	return *c.MinGap
}

// GetBaseline returns the gravity rest reading when GravityBaseline is set,
// otherwise Baseline (default 0).
func (c *SelectionConfig) GetBaseline() float64 {
	if c.GravityBaseline != nil && *c.GravityBaseline {
		return units.GravityBaseline(c.GetAccelUnits())
	}
	if c.Baseline == nil {
		return 0 // default
	}
	return *c.Baseline
}

func (c *SelectionConfig) GetLegacyRankSkip() bool {
	if c.LegacyRankSkip == nil {
		return false // default
	}
	return *c.LegacyRankSkip
}

func (c *SelectionConfig) GetDelimiter() rune {
	if c.Delimiter == nil || *c.Delimiter == "" {
		return ',' // default
	}
	r, _ := utf8.DecodeRuneInString(*c.Delimiter)
	return r
}

func (c *SelectionConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.MPS // default
	}
	return *c.SpeedUnits
}

func (c *SelectionConfig) GetAccelUnits() string {
	if c.AccelUnits == nil {
		return units.MPS2 // default
	}
	return *c.AccelUnits
}

func (c *SelectionConfig) GetPrecision() int {
	if c.Precision == nil {
		return -1 // default
	}
	return *c.Precision
}

// PeaksConfig returns the selector configuration.
func (c *SelectionConfig) PeaksConfig() peaks.Config {
	return peaks.Config{
		Baseline:       c.GetBaseline(),
		LegacyRankSkip: c.GetLegacyRankSkip(),
	}
}

// Resolved returns a copy with every field filled from the getters, for
// reporting the effective configuration.
func (c *SelectionConfig) Resolved() *SelectionConfig {
	return &SelectionConfig{
		TargetCount:     ptrInt(c.GetTargetCount()),
		MinGap:          ptrFloat64(c.GetMinGap()),
		Baseline:        ptrFloat64(c.GetBaseline()),
		GravityBaseline: ptrBool(c.GravityBaseline != nil && *c.GravityBaseline),
		LegacyRankSkip:  ptrBool(c.GetLegacyRankSkip()),
		Delimiter:       ptrString(string(c.GetDelimiter())),
		SpeedUnits:      ptrString(c.GetSpeedUnits()),
		AccelUnits:      ptrString(c.GetAccelUnits()),
		Precision:       ptrInt(c.GetPrecision()),
	}
}
