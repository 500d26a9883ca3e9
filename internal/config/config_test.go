package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points MAILCORE_HOME at a fresh directory and clears the
// overlay variables so the host environment cannot leak in.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("MAILCORE_HOME", tmpDir)
	for _, k := range []string{
		"MAILCORE_DATA_DIR", "MAILCORE_DATABASE_URL", "MAILCORE_REPORTS_DIR",
		"MAILCORE_HEALTH_BASE_URL", "MAILCORE_THROTTLE_ENABLED",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := isolate(t)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HomeDir != tmpDir || cfg.Data.DataDir != tmpDir {
		t.Errorf("HomeDir = %q, DataDir = %q, want %q", cfg.HomeDir, cfg.Data.DataDir, tmpDir)
	}
	if cfg.Deletion.ChunkSize != 1000 || cfg.Deletion.BatchLimit != 2000 {
		t.Errorf("Deletion = %+v, want chunk 1000 and limit 2000", cfg.Deletion)
	}
	if cfg.Purge.RetentionDays != 60 || cfg.Purge.BatchSize != 1000 {
		t.Errorf("Purge = %+v, want 60 days and batch 1000", cfg.Purge)
	}
	if cfg.Throttle.Enabled {
		t.Error("Throttle.Enabled = true, want false")
	}
	if cfg.Throttle.Pause() != time.Minute {
		t.Errorf("Throttle.Pause() = %v, want 1m", cfg.Throttle.Pause())
	}
	if cfg.Throttle.MaintenanceStartHour != 8 || cfg.Throttle.MaintenanceDurationHours != 9 {
		t.Errorf("maintenance window = %d+%d, want 8+9",
			cfg.Throttle.MaintenanceStartHour, cfg.Throttle.MaintenanceDurationHours)
	}
	if got := cfg.DatabaseDSN(); got != filepath.Join(tmpDir, "mailcore.db") {
		t.Errorf("DatabaseDSN() = %q", got)
	}
	if got := cfg.ReportsDir(); got != filepath.Join(tmpDir, "deletions") {
		t.Errorf("ReportsDir() = %q", got)
	}
	if jobs := cfg.ScheduledJobs(); len(jobs) != 0 {
		t.Errorf("ScheduledJobs() = %v, want none", jobs)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := isolate(t)
	writeFile(t, filepath.Join(tmpDir, "config.toml"), `
[data]
database_url = "postgres://mail@db/mailcore"

[deletion]
chunk_size = 500
batches_per_second = 2.5
reports_dir = "~/reports"

[throttle]
enabled = true
health_base_url = "graphite.internal"
maintenance_start_hour = 22

[schedule]
purge_transactions = "0 3 * * *"
`)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.DatabaseDSN(); got != "postgres://mail@db/mailcore" {
		t.Errorf("DatabaseDSN() = %q", got)
	}
	if cfg.Deletion.ChunkSize != 500 || cfg.Deletion.BatchLimit != 2000 {
		t.Errorf("Deletion = %+v, want chunk 500 and default limit", cfg.Deletion)
	}
	if cfg.Deletion.BatchesPerSecond != 2.5 {
		t.Errorf("BatchesPerSecond = %v, want 2.5", cfg.Deletion.BatchesPerSecond)
	}
	home, _ := os.UserHomeDir()
	if got := cfg.ReportsDir(); got != filepath.Join(home, "reports") {
		t.Errorf("ReportsDir() = %q, want ~ expanded", got)
	}
	if !cfg.Throttle.Enabled || cfg.Throttle.HealthBaseURL != "graphite.internal" {
		t.Errorf("Throttle = %+v", cfg.Throttle)
	}
	if cfg.Throttle.MaintenanceStartHour != 22 || cfg.Throttle.MaintenanceDurationHours != 9 {
		t.Errorf("maintenance window = %d+%d, want 22+9",
			cfg.Throttle.MaintenanceStartHour, cfg.Throttle.MaintenanceDurationHours)
	}

	jobs := cfg.ScheduledJobs()
	if len(jobs) != 1 || jobs[0].Name != JobPurgeTransactions || jobs[0].Schedule != "0 3 * * *" {
		t.Errorf("ScheduledJobs() = %v", jobs)
	}
}

func TestLoadExplicitPathNotFound(t *testing.T) {
	tmpDir := isolate(t)
	_, err := Load(filepath.Join(tmpDir, "missing.toml"), "")
	if err == nil {
		t.Fatal("Load() with missing explicit path = nil, want error")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "config.toml")
	writeFile(t, path, "[deletion\nchunk_size = ")
	_, err := Load(path, "")
	if err == nil || !strings.Contains(err.Error(), "decode config") {
		t.Errorf("Load() error = %v, want decode error", err)
	}
}

func TestLoadRejectsOversizedBatchLimit(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "config.toml")
	writeFile(t, path, "[deletion]\nbatch_limit = 40000\n")
	_, err := Load(path, "")
	if err == nil || !strings.Contains(err.Error(), "batch_limit must be at most") {
		t.Errorf("Load() error = %v, want batch_limit cap error", err)
	}
}

func TestLoadEnvFileOverlay(t *testing.T) {
	tmpDir := isolate(t)
	writeFile(t, filepath.Join(tmpDir, "config.toml"), `
[data]
database_url = "postgres://from-toml/db"
`)
	envPath := filepath.Join(tmpDir, "custom.env")
	writeFile(t, envPath, `
MAILCORE_DATABASE_URL=postgres://from-env-file/db
MAILCORE_THROTTLE_ENABLED=true
MAILCORE_HEALTH_BASE_URL=graphite.internal
`)

	cfg, err := Load("", envPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Data.DatabaseURL != "postgres://from-env-file/db" {
		t.Errorf("DatabaseURL = %q, want env file value", cfg.Data.DatabaseURL)
	}
	if !cfg.Throttle.Enabled || cfg.Throttle.HealthBaseURL != "graphite.internal" {
		t.Errorf("Throttle = %+v", cfg.Throttle)
	}
}

func TestLoadProcessEnvWinsOverEnvFile(t *testing.T) {
	tmpDir := isolate(t)
	writeFile(t, filepath.Join(tmpDir, ".env"), "MAILCORE_DATABASE_URL=postgres://from-env-file/db\n")
	t.Setenv("MAILCORE_DATABASE_URL", "postgres://from-process/db")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Data.DatabaseURL != "postgres://from-process/db" {
		t.Errorf("DatabaseURL = %q, want process value", cfg.Data.DatabaseURL)
	}
}

func TestLoadDefaultEnvFile(t *testing.T) {
	tmpDir := isolate(t)
	dataDir := filepath.Join(tmpDir, "data")
	writeFile(t, filepath.Join(tmpDir, ".env"), "MAILCORE_DATA_DIR="+dataDir+"\n")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Data.DataDir != dataDir {
		t.Errorf("DataDir = %q, want %q", cfg.Data.DataDir, dataDir)
	}
	if got := cfg.DatabaseDSN(); got != filepath.Join(dataDir, "mailcore.db") {
		t.Errorf("DatabaseDSN() = %q", got)
	}
}

func TestLoadBadThrottleEnv(t *testing.T) {
	isolate(t)
	t.Setenv("MAILCORE_THROTTLE_ENABLED", "sometimes")
	if _, err := Load("", ""); err == nil {
		t.Error("Load() with unparsable MAILCORE_THROTTLE_ENABLED = nil, want error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"start hour", func(c *Config) { c.Throttle.MaintenanceStartHour = 24 }, "maintenance_start_hour"},
		{"duration", func(c *Config) { c.Throttle.MaintenanceDurationHours = 25 }, "maintenance_duration_hours"},
		{"pause", func(c *Config) { c.Throttle.PauseSeconds = 0 }, "pause_seconds"},
		{"chunk", func(c *Config) { c.Deletion.ChunkSize = 0 }, "chunk_size"},
		{"batch limit at cap", func(c *Config) { c.Deletion.BatchLimit = MaxBatchLimit }, ""},
		{"batch limit over cap", func(c *Config) { c.Deletion.BatchLimit = MaxBatchLimit + 1 }, "batch_limit must be at most"},
		{"rate", func(c *Config) { c.Deletion.BatchesPerSecond = -1 }, "batches_per_second"},
		{"purge", func(c *Config) { c.Purge.RetentionDays = 0 }, "retention_days"},
		{"limit", func(c *Config) { c.Query.DefaultLimit = 0 }, "default_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"just tilde", "~", home},
		{"tilde with slash and path", "~/foo", filepath.Join(home, "foo")},
		{"tilde with trailing slash only", "~/", home},
		{"tilde user notation not expanded", "~user", "~user"},
		{"relative path unchanged", "relative/path", "relative/path"},
		{"nested path after tilde", "~/foo/bar/baz", filepath.Join(home, "foo/bar/baz")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
