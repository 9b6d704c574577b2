package config

import (
	"errors"
	"fmt"
	"os"

	"carecoop/internal/models"
	"carecoop/internal/scheduling"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Exports    ExportConfig     `yaml:"exports"`
	Google     GoogleConfig     `yaml:"google"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Failover keeps serving from memory while the redis backend is down.
	Failover bool `yaml:"failover"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SchedulingConfig struct {
	WorkStart              string `yaml:"work_start"`
	WorkEnd                string `yaml:"work_end"`
	StepMinutes            int    `yaml:"step_minutes"`
	MaxSuggestions         int    `yaml:"max_suggestions"`
	MaxRecurrenceInstances int    `yaml:"max_recurrence_instances"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type GoogleConfig struct {
	CredentialsFile     string `yaml:"credentials_file"`
	RosterSpreadsheetID string `yaml:"roster_spreadsheet_id"`
	RosterSheetName     string `yaml:"roster_sheet_name"`
}

// Window returns the configured working hours.
func (s SchedulingConfig) Window() scheduling.WorkWindow {
	return scheduling.WorkWindow{Start: s.WorkStart, End: s.WorkEnd}
}

// Enabled reports whether roster sync to Google Sheets is configured.
func (g GoogleConfig) Enabled() bool {
	return g.CredentialsFile != "" && g.RosterSpreadsheetID != ""
}

// Load reads a YAML config, expanding ${VAR} references from the
// environment and an optional .env file next to the working directory.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Scheduling.StepMinutes <= 0 {
		return errors.New("scheduling.step_minutes must be positive")
	}
	if err := c.Scheduling.Window().Validate(); err != nil {
		return fmt.Errorf("scheduling: %w", err)
	}
	if c.Scheduling.MaxRecurrenceInstances < 0 {
		return errors.New("scheduling.max_recurrence_instances must not be negative")
	}

	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth is enabled but no api_keys are configured")
	}
	for _, k := range c.API.Auth.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("api key %q is empty", k.Name)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "carecoop"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendSQLite
	}
	if c.Database.Path == "" && c.Storage.Backend == BackendSQLite {
		c.Database.Path = "data/carecoop.db"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Scheduling.WorkStart == "" {
		c.Scheduling.WorkStart = models.DefaultWorkStart
	}
	if c.Scheduling.WorkEnd == "" {
		c.Scheduling.WorkEnd = models.DefaultWorkEnd
	}
	if c.Scheduling.StepMinutes == 0 {
		c.Scheduling.StepMinutes = models.DefaultStepMinutes
	}
	if c.Scheduling.MaxSuggestions == 0 {
		c.Scheduling.MaxSuggestions = models.DefaultMaxSuggestions
	}
	if c.Scheduling.MaxRecurrenceInstances == 0 {
		c.Scheduling.MaxRecurrenceInstances = models.DefaultMaxRecurrenceInstances
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "data/exports"
	}
	if c.Google.RosterSheetName == "" {
		c.Google.RosterSheetName = "Roster"
	}
}
