package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithNoOverrideReturnsDefaults(t *testing.T) {
	clearFluxionEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoadAppliesYAMLOverride(t *testing.T) {
	clearFluxionEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "fluxion.yaml")
	if err := os.WriteFile(path, []byte("db_path: /var/lib/fluxion/custom.db\ntrial_days: 14\n"), 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBPath != "/var/lib/fluxion/custom.db" {
		t.Errorf("DBPath = %q, want override value", cfg.DBPath)
	}
	if cfg.TrialDays != 14 {
		t.Errorf("TrialDays = %d, want 14", cfg.TrialDays)
	}
	if cfg.BackupDir != Default().BackupDir {
		t.Errorf("BackupDir = %q, want untouched default %q", cfg.BackupDir, Default().BackupDir)
	}
}

func TestLoadEnvironmentOverridesYAML(t *testing.T) {
	clearFluxionEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "fluxion.yaml")
	if err := os.WriteFile(path, []byte("trial_days: 14\n"), 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}

	t.Setenv("FLUXION_TRIAL_DAYS", "60")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TrialDays != 60 {
		t.Errorf("TrialDays = %d, want environment override 60", cfg.TrialDays)
	}
}

func TestWorkingHoursParsesCivilClock(t *testing.T) {
	cfg := Default()
	start, end, err := cfg.WorkingHours()
	if err != nil {
		t.Fatalf("WorkingHours() error = %v", err)
	}
	if start != 9*60 || end != 18*60 {
		t.Errorf("WorkingHours() = (%d, %d), want (540, 1080)", start, end)
	}
}

func TestWorkingHoursRejectsMalformedClock(t *testing.T) {
	cfg := Default()
	cfg.WorkingHoursStart = "not-a-time"
	if _, _, err := cfg.WorkingHours(); err == nil {
		t.Error("WorkingHours() expected error for malformed start, got nil")
	}
}

func clearFluxionEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"FLUXION_DB_PATH", "FLUXION_BACKUP_DIR", "FLUXION_LOG_LEVEL", "FLUXION_LOG_FORMAT",
		"FLUXION_METRICS_ADDR", "FLUXION_WORKING_HOURS_START", "FLUXION_WORKING_HOURS_END",
		"FLUXION_MIN_BREAK_MINUTES", "FLUXION_AUDIT_RETENTION_YEARS", "FLUXION_TRIAL_DAYS",
		"FLUXION_OFFLINE_GRACE_DAYS", "FLUXION_ANONYMIZATION_CRON",
	}
	for _, key := range keys {
		original, wasSet := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if wasSet {
				os.Setenv(key, original)
			}
		})
	}
}
