package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Background params
	DiffThreshold    *float64 `json:"diff_threshold,omitempty"`
	SpreadMultiplier *float64 `json:"spread_multiplier,omitempty"`
	WarmupMinFrames  *int     `json:"warmup_min_frames,omitempty"`
	UpdateFraction   *float64 `json:"update_fraction,omitempty"`

	// Calibration params
	BlurRadius        *float64 `json:"blur_radius,omitempty"`
	EdgeThreshold     *float64 `json:"edge_threshold,omitempty"`
	MinRadiusPx       *int     `json:"min_radius_px,omitempty"`
	MaxRadiusPx       *int     `json:"max_radius_px,omitempty"`
	MinSupport        *float64 `json:"min_support,omitempty"`
	AmbiguityMargin   *float64 `json:"ambiguity_margin,omitempty"`
	MaxTiltDeg        *float64 `json:"max_tilt_deg,omitempty"`
	CalibrationFrames *int     `json:"calibration_frames,omitempty"`

	// Detection params
	MorphRadius     *int     `json:"morph_radius,omitempty"`
	MorphIterations *int     `json:"morph_iterations,omitempty"`
	MinAreaPx       *int     `json:"min_area_px,omitempty"`
	MaxAreaPx       *int     `json:"max_area_px,omitempty"`
	MinAspect       *float64 `json:"min_aspect,omitempty"`
	EdgeSlackPx     *float64 `json:"edge_slack_px,omitempty"`
	HitsToConfirm   *int     `json:"hits_to_confirm,omitempty"`
	TrackGateDistPx *float64 `json:"track_gate_dist_px,omitempty"`
	MissesToDrop    *int     `json:"misses_to_drop,omitempty"`
	MinSpacingCM    *float64 `json:"min_spacing_cm,omitempty"`
	CooldownFrames  *int     `json:"cooldown_frames,omitempty"`

	// Camera params
	CaptureTimeout *string `json:"capture_timeout,omitempty"` // duration string like "5s"
	OpenRetries    *int    `json:"open_retries,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.DiffThreshold != nil && *c.DiffThreshold <= 0 {
		return fmt.Errorf("diff_threshold must be positive, got %f", *c.DiffThreshold)
	}
	if c.UpdateFraction != nil {
		if *c.UpdateFraction <= 0 || *c.UpdateFraction >= 1 {
			return fmt.Errorf("update_fraction must be in (0, 1), got %f", *c.UpdateFraction)
		}
	}
	if c.MinRadiusPx != nil && c.MaxRadiusPx != nil && *c.MinRadiusPx >= *c.MaxRadiusPx {
		return fmt.Errorf("min_radius_px %d must be below max_radius_px %d", *c.MinRadiusPx, *c.MaxRadiusPx)
	}
	if c.MinSupport != nil {
		if *c.MinSupport <= 0 || *c.MinSupport > 1 {
			return fmt.Errorf("min_support must be in (0, 1], got %f", *c.MinSupport)
		}
	}
	if c.MaxTiltDeg != nil {
		if *c.MaxTiltDeg <= 0 || *c.MaxTiltDeg >= 90 {
			return fmt.Errorf("max_tilt_deg must be in (0, 90), got %f", *c.MaxTiltDeg)
		}
	}
	if c.CalibrationFrames != nil && *c.CalibrationFrames < 1 {
		return fmt.Errorf("calibration_frames must be at least 1, got %d", *c.CalibrationFrames)
	}
	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be at least 1, got %d", *c.HitsToConfirm)
	}
	if c.MinSpacingCM != nil && *c.MinSpacingCM < 0 {
		return fmt.Errorf("min_spacing_cm must be non-negative, got %f", *c.MinSpacingCM)
	}
	if c.CaptureTimeout != nil && *c.CaptureTimeout != "" {
		if _, err := time.ParseDuration(*c.CaptureTimeout); err != nil {
			return fmt.Errorf("invalid capture_timeout '%s': %w", *c.CaptureTimeout, err)
		}
	}
	return nil
}

// Merge overlays the non-nil fields of other onto c, returning c. Used
// by the params endpoint to apply partial runtime updates.
func (c *TuningConfig) Merge(other *TuningConfig) *TuningConfig {
	if other == nil {
		return c
	}
	merged, _ := json.Marshal(other)
	// Unmarshal over c: only fields present in other overwrite.
	_ = json.Unmarshal(merged, c)
	return c
}

// GetDiffThreshold returns the diff_threshold value or the default.
func (c *TuningConfig) GetDiffThreshold() float64 {
	if c.DiffThreshold == nil {
		return 25.0
	}
	return *c.DiffThreshold
}

// GetSpreadMultiplier returns the spread_multiplier value or the default.
func (c *TuningConfig) GetSpreadMultiplier() float64 {
	if c.SpreadMultiplier == nil {
		return 3.0
	}
	return *c.SpreadMultiplier
}

// GetWarmupMinFrames returns the warmup_min_frames value or the default.
func (c *TuningConfig) GetWarmupMinFrames() int {
	if c.WarmupMinFrames == nil {
		return 5
	}
	return *c.WarmupMinFrames
}

// GetUpdateFraction returns the update_fraction value or the default.
func (c *TuningConfig) GetUpdateFraction() float64 {
	if c.UpdateFraction == nil {
		return 0.05
	}
	return *c.UpdateFraction
}

// GetBlurRadius returns the blur_radius value or the default.
func (c *TuningConfig) GetBlurRadius() float64 {
	if c.BlurRadius == nil {
		return 2.0
	}
	return *c.BlurRadius
}

// GetEdgeThreshold returns the edge_threshold value or the default.
func (c *TuningConfig) GetEdgeThreshold() float64 {
	if c.EdgeThreshold == nil {
		return 30.0
	}
	return *c.EdgeThreshold
}

// GetMinRadiusPx returns the min_radius_px value or the default.
func (c *TuningConfig) GetMinRadiusPx() int {
	if c.MinRadiusPx == nil {
		return 50
	}
	return *c.MinRadiusPx
}

// GetMaxRadiusPx returns the max_radius_px value or the default.
func (c *TuningConfig) GetMaxRadiusPx() int {
	if c.MaxRadiusPx == nil {
		return 800
	}
	return *c.MaxRadiusPx
}

// GetMinSupport returns the min_support value or the default.
func (c *TuningConfig) GetMinSupport() float64 {
	if c.MinSupport == nil {
		return 0.5
	}
	return *c.MinSupport
}

// GetAmbiguityMargin returns the ambiguity_margin value or the default.
func (c *TuningConfig) GetAmbiguityMargin() float64 {
	if c.AmbiguityMargin == nil {
		return 0.15
	}
	return *c.AmbiguityMargin
}

// GetMaxTiltDeg returns the max_tilt_deg value or the default.
func (c *TuningConfig) GetMaxTiltDeg() float64 {
	if c.MaxTiltDeg == nil {
		return 15.0
	}
	return *c.MaxTiltDeg
}

// GetCalibrationFrames returns the calibration_frames value or the default.
func (c *TuningConfig) GetCalibrationFrames() int {
	if c.CalibrationFrames == nil {
		return 5
	}
	return *c.CalibrationFrames
}

// GetMorphRadius returns the morph_radius value or the default.
func (c *TuningConfig) GetMorphRadius() int {
	if c.MorphRadius == nil {
		return 1
	}
	return *c.MorphRadius
}

// GetMorphIterations returns the morph_iterations value or the default.
func (c *TuningConfig) GetMorphIterations() int {
	if c.MorphIterations == nil {
		return 2
	}
	return *c.MorphIterations
}

// GetMinAreaPx returns the min_area_px value or the default.
func (c *TuningConfig) GetMinAreaPx() int {
	if c.MinAreaPx == nil {
		return 40
	}
	return *c.MinAreaPx
}

// GetMaxAreaPx returns the max_area_px value or the default.
func (c *TuningConfig) GetMaxAreaPx() int {
	if c.MaxAreaPx == nil {
		return 8000
	}
	return *c.MaxAreaPx
}

// GetMinAspect returns the min_aspect value or the default.
func (c *TuningConfig) GetMinAspect() float64 {
	if c.MinAspect == nil {
		return 1.5
	}
	return *c.MinAspect
}

// GetEdgeSlackPx returns the edge_slack_px value or the default.
func (c *TuningConfig) GetEdgeSlackPx() float64 {
	if c.EdgeSlackPx == nil {
		return 10.0
	}
	return *c.EdgeSlackPx
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetTrackGateDistPx returns the track_gate_dist_px value or the default.
func (c *TuningConfig) GetTrackGateDistPx() float64 {
	if c.TrackGateDistPx == nil {
		return 25.0
	}
	return *c.TrackGateDistPx
}

// GetMissesToDrop returns the misses_to_drop value or the default.
func (c *TuningConfig) GetMissesToDrop() int {
	if c.MissesToDrop == nil {
		return 5
	}
	return *c.MissesToDrop
}

// GetMinSpacingCM returns the min_spacing_cm value or the default.
func (c *TuningConfig) GetMinSpacingCM() float64 {
	if c.MinSpacingCM == nil {
		return 3.0
	}
	return *c.MinSpacingCM
}

// GetCooldownFrames returns the cooldown_frames value or the default.
func (c *TuningConfig) GetCooldownFrames() int {
	if c.CooldownFrames == nil {
		return 4
	}
	return *c.CooldownFrames
}

// GetCaptureTimeout parses and returns the CaptureTimeout as a time.Duration.
func (c *TuningConfig) GetCaptureTimeout() time.Duration {
	if c.CaptureTimeout == nil || *c.CaptureTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.CaptureTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetOpenRetries returns the open_retries value or the default.
func (c *TuningConfig) GetOpenRetries() int {
	if c.OpenRetries == nil {
		return 3
	}
	return *c.OpenRetries
}
