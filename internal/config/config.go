// Package config loads mailcore configuration from config.toml, with an
// optional .env overlay for MAILCORE_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the mailcore configuration.
type Config struct {
	Data     DataConfig     `toml:"data"`
	Query    QueryConfig    `toml:"query"`
	Deletion DeletionConfig `toml:"deletion"`
	Purge    PurgeConfig    `toml:"purge"`
	Throttle ThrottleConfig `toml:"throttle"`
	Schedule ScheduleConfig `toml:"schedule"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"` // postgres:// selects PostgreSQL
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	DefaultLimit int `toml:"default_limit"`
}

// DeletionConfig holds account deletion settings.
type DeletionConfig struct {
	ChunkSize        int     `toml:"chunk_size"`
	BatchLimit       int     `toml:"batch_limit"`
	BatchesPerSecond float64 `toml:"batches_per_second"` // 0 = unlimited
	ReportsDir       string  `toml:"reports_dir"`
}

// PurgeConfig holds transaction purge settings.
type PurgeConfig struct {
	RetentionDays int `toml:"retention_days"`
	BatchSize     int `toml:"batch_size"`
}

// ThrottleConfig holds the database load throttle settings.
type ThrottleConfig struct {
	Enabled                  bool   `toml:"enabled"`
	HealthBaseURL            string `toml:"health_base_url"`
	PauseSeconds             int    `toml:"pause_seconds"`
	MaintenanceStartHour     int    `toml:"maintenance_start_hour"`
	MaintenanceDurationHours int    `toml:"maintenance_duration_hours"`
}

// Pause returns the throttle pause as a duration.
func (t ThrottleConfig) Pause() time.Duration {
	return time.Duration(t.PauseSeconds) * time.Second
}

// ScheduleConfig holds cron expressions for the maintenance jobs. An
// empty expression leaves the job unscheduled.
type ScheduleConfig struct {
	DeleteAccounts    string `toml:"delete_accounts"`
	PurgeTransactions string `toml:"purge_transactions"`
}

// MaxBatchLimit caps deletion.batch_limit. Every batch is one transaction
// holding its rows' locks until commit.
const MaxBatchLimit = 10000

// Scheduled job names.
const (
	JobDeleteAccounts    = "delete-accounts"
	JobPurgeTransactions = "purge-transactions"
)

// JobSchedule pairs a job name with its cron expression.
type JobSchedule struct {
	Name     string
	Schedule string
}

// DefaultHome returns the default mailcore home directory.
// Respects MAILCORE_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILCORE_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailcore"
	}
	return filepath.Join(home, ".mailcore")
}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data:    DataConfig{DataDir: homeDir},
		Query:   QueryConfig{DefaultLimit: 100},
		Deletion: DeletionConfig{
			ChunkSize:  1000,
			BatchLimit: 2000,
		},
		Purge: PurgeConfig{
			RetentionDays: 60,
			BatchSize:     1000,
		},
		Throttle: ThrottleConfig{
			PauseSeconds:             60,
			MaintenanceStartHour:     8,
			MaintenanceDurationHours: 9,
		},
	}
}

// Load reads the configuration from the specified file, then applies the
// env overlay. If path is empty, uses the default location
// (~/.mailcore/config.toml) and a missing file means defaults. An
// explicit path must exist. envFile names a dotenv file; if empty,
// <home>/.env is read when present. Variables already set in the process
// environment win over the file.
func Load(path, envFile string) (*Config, error) {
	homeDir := DefaultHome()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := NewDefaultConfig(homeDir)

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) || explicit {
			return nil, fmt.Errorf("config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if envFile == "" {
		if p := filepath.Join(homeDir, ".env"); fileExists(p) {
			envFile = p
		}
	}
	if err := cfg.applyEnv(envFile); err != nil {
		return nil, err
	}

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Deletion.ReportsDir = expandPath(cfg.Deletion.ReportsDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays MAILCORE_* variables.
func (c *Config) applyEnv(envFile string) error {
	vars := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		if err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
		vars = m
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}

	if v, ok := lookup("MAILCORE_DATA_DIR"); ok {
		c.Data.DataDir = v
	}
	if v, ok := lookup("MAILCORE_DATABASE_URL"); ok {
		c.Data.DatabaseURL = v
	}
	if v, ok := lookup("MAILCORE_REPORTS_DIR"); ok {
		c.Deletion.ReportsDir = v
	}
	if v, ok := lookup("MAILCORE_HEALTH_BASE_URL"); ok {
		c.Throttle.HealthBaseURL = v
	}
	if v, ok := lookup("MAILCORE_THROTTLE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MAILCORE_THROTTLE_ENABLED: %w", err)
		}
		c.Throttle.Enabled = b
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Query.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("query.default_limit must be positive, got %d", c.Query.DefaultLimit))
	}
	if c.Deletion.ChunkSize <= 0 || c.Deletion.BatchLimit <= 0 {
		errs = append(errs, errors.New("deletion.chunk_size and deletion.batch_limit must be positive"))
	}
	if c.Deletion.BatchLimit > MaxBatchLimit {
		errs = append(errs, fmt.Errorf("deletion.batch_limit must be at most %d, got %d", MaxBatchLimit, c.Deletion.BatchLimit))
	}
	if c.Deletion.BatchesPerSecond < 0 {
		errs = append(errs, errors.New("deletion.batches_per_second must not be negative"))
	}
	if c.Purge.RetentionDays <= 0 || c.Purge.BatchSize <= 0 {
		errs = append(errs, errors.New("purge.retention_days and purge.batch_size must be positive"))
	}
	t := c.Throttle
	if t.MaintenanceStartHour < 0 || t.MaintenanceStartHour > 23 {
		errs = append(errs, fmt.Errorf("throttle.maintenance_start_hour must be 0-23, got %d", t.MaintenanceStartHour))
	}
	if t.MaintenanceDurationHours < 0 || t.MaintenanceDurationHours > 24 {
		errs = append(errs, fmt.Errorf("throttle.maintenance_duration_hours must be 0-24, got %d", t.MaintenanceDurationHours))
	}
	if t.PauseSeconds <= 0 {
		errs = append(errs, fmt.Errorf("throttle.pause_seconds must be positive, got %d", t.PauseSeconds))
	}
	return errors.Join(errs...)
}

// DatabaseDSN returns the database URL, or the path to the SQLite
// database in the data directory.
func (c *Config) DatabaseDSN() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "mailcore.db")
}

// ReportsDir returns the directory deletion reports are written to.
func (c *Config) ReportsDir() string {
	if c.Deletion.ReportsDir != "" {
		return c.Deletion.ReportsDir
	}
	return filepath.Join(c.Data.DataDir, "deletions")
}

// ScheduledJobs returns the jobs that have a cron expression.
func (c *Config) ScheduledJobs() []JobSchedule {
	var jobs []JobSchedule
	for _, j := range []JobSchedule{
		{Name: JobDeleteAccounts, Schedule: c.Schedule.DeleteAccounts},
		{Name: JobPurgeTransactions, Schedule: c.Schedule.PurgeTransactions},
	} {
		if j.Schedule != "" {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || (len(path) > 1 && path[0] == '~' && (path[1] == '/' || path[1] == filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
