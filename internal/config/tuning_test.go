package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmptyConfigGetters(t *testing.T) {
	cfg := EmptyTuningConfig()

	// Every getter must fall back to its default on an empty config.
	if cfg.GetDiffThreshold() != 25.0 {
		t.Errorf("GetDiffThreshold() = %f, want 25.0", cfg.GetDiffThreshold())
	}
	if cfg.GetSpreadMultiplier() != 3.0 {
		t.Errorf("GetSpreadMultiplier() = %f, want 3.0", cfg.GetSpreadMultiplier())
	}
	if cfg.GetWarmupMinFrames() != 5 {
		t.Errorf("GetWarmupMinFrames() = %d, want 5", cfg.GetWarmupMinFrames())
	}
	if cfg.GetCalibrationFrames() != 5 {
		t.Errorf("GetCalibrationFrames() = %d, want 5", cfg.GetCalibrationFrames())
	}
	if cfg.GetHitsToConfirm() != 3 {
		t.Errorf("GetHitsToConfirm() = %d, want 3", cfg.GetHitsToConfirm())
	}
	if cfg.GetMinSpacingCM() != 3.0 {
		t.Errorf("GetMinSpacingCM() = %f, want 3.0", cfg.GetMinSpacingCM())
	}
	if cfg.GetCaptureTimeout() != 5*time.Second {
		t.Errorf("GetCaptureTimeout() = %v, want 5s", cfg.GetCaptureTimeout())
	}
	if cfg.GetOpenRetries() != 3 {
		t.Errorf("GetOpenRetries() = %d, want 3", cfg.GetOpenRetries())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "diff_threshold": 40.0,
  "hits_to_confirm": 5,
  "capture_timeout": "2s"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("LoadTuningConfig failed: %v", err)
	}

	if cfg.GetDiffThreshold() != 40.0 {
		t.Errorf("GetDiffThreshold() = %f, want 40.0", cfg.GetDiffThreshold())
	}
	if cfg.GetHitsToConfirm() != 5 {
		t.Errorf("GetHitsToConfirm() = %d, want 5", cfg.GetHitsToConfirm())
	}
	if cfg.GetCaptureTimeout() != 2*time.Second {
		t.Errorf("GetCaptureTimeout() = %v, want 2s", cfg.GetCaptureTimeout())
	}

	// Omitted fields keep their defaults.
	if cfg.GetSpreadMultiplier() != 3.0 {
		t.Errorf("omitted SpreadMultiplier = %f, want default 3.0", cfg.GetSpreadMultiplier())
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("tuning.yaml"); err == nil {
		t.Error("non-json extension should be rejected")
	}
}

func TestLoadTuningConfigMissingFile(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file should be an error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  TuningConfig
		ok   bool
	}{
		{"empty", TuningConfig{}, true},
		{"negative threshold", TuningConfig{DiffThreshold: ptrFloat64(-1)}, false},
		{"update fraction too high", TuningConfig{UpdateFraction: ptrFloat64(1.5)}, false},
		{"radius bounds inverted", TuningConfig{MinRadiusPx: ptrInt(500), MaxRadiusPx: ptrInt(100)}, false},
		{"support out of range", TuningConfig{MinSupport: ptrFloat64(1.5)}, false},
		{"tilt out of range", TuningConfig{MaxTiltDeg: ptrFloat64(95)}, false},
		{"zero calibration frames", TuningConfig{CalibrationFrames: ptrInt(0)}, false},
		{"bad duration", TuningConfig{CaptureTimeout: ptrString("soon")}, false},
		{"good duration", TuningConfig{CaptureTimeout: ptrString("250ms")}, true},
		{"valid partial", TuningConfig{HitsToConfirm: ptrInt(4), MinSpacingCM: ptrFloat64(5)}, true},
	}
	for _, c := range cases {
		err := c.cfg.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestMerge(t *testing.T) {
	base := EmptyTuningConfig()
	base.DiffThreshold = ptrFloat64(30)
	base.HitsToConfirm = ptrInt(4)

	patch := &TuningConfig{DiffThreshold: ptrFloat64(50)}
	base.Merge(patch)

	if base.GetDiffThreshold() != 50 {
		t.Errorf("patched DiffThreshold = %f, want 50", base.GetDiffThreshold())
	}
	if base.GetHitsToConfirm() != 4 {
		t.Errorf("untouched HitsToConfirm = %d, want 4", base.GetHitsToConfirm())
	}
}

func TestDefaultsFileMatchesGetters(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.DiffThreshold == nil || *cfg.DiffThreshold != cfg.GetDiffThreshold() {
		t.Error("defaults file diff_threshold disagrees with code default")
	}
	if cfg.HitsToConfirm == nil || *cfg.HitsToConfirm != cfg.GetHitsToConfirm() {
		t.Error("defaults file hits_to_confirm disagrees with code default")
	}
	if cfg.MinSpacingCM == nil || *cfg.MinSpacingCM != cfg.GetMinSpacingCM() {
		t.Error("defaults file min_spacing_cm disagrees with code default")
	}
}
