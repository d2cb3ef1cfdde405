package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"movingmen/internal/models"
)

type Config struct {
	Google GoogleConfig `yaml:"google"`

	Timezone string `yaml:"timezone"`

	Business struct {
		OpenHour   int `yaml:"open_hour"`
		CloseHour  int `yaml:"close_hour"`
		BlockHours int `yaml:"block_hours"`
	} `yaml:"business"`

	Telegram struct {
		BotToken string  `yaml:"bot_token"`
		Debug    bool    `yaml:"debug"`
		Staff    []int64 `yaml:"staff"`
	} `yaml:"telegram"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Backup BackupConfig `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
	} `yaml:"monitoring"`

	Reminders struct {
		Enabled bool `yaml:"enabled"`
		Hour    int  `yaml:"hour"`
	} `yaml:"reminders"`

	Session struct {
		TTLMinutes int `yaml:"ttl_minutes"`
	} `yaml:"session"`
}

type GoogleConfig struct {
	CredentialsFile   string  `yaml:"credentials_file"`
	CredentialsJSON   string  `yaml:"credentials_json"`
	SpreadsheetID     string  `yaml:"spreadsheet_id"`
	SheetName         string  `yaml:"sheet_name"`
	CalendarID        string  `yaml:"calendar_id"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Australia/Brisbane"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Bookings"
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Google.RequestsPerSecond == 0 {
		c.Google.RequestsPerSecond = 5
	}
	if c.Business.OpenHour == 0 && c.Business.CloseHour == 0 {
		c.Business.OpenHour = 7
		c.Business.CloseHour = 18
	}
	if c.Business.BlockHours <= 0 {
		c.Business.BlockHours = 4
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.db"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Reminders.Hour == 0 {
		c.Reminders.Hour = 17
	}
	if c.Session.TTLMinutes <= 0 {
		c.Session.TTLMinutes = 60
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Google.SpreadsheetID == "" {
		return errors.New("google.spreadsheet_id is required")
	}
	if c.Google.CredentialsFile == "" && c.Google.CredentialsJSON == "" {
		return errors.New("google.credentials_file or google.credentials_json is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if c.Business.OpenHour < 0 || c.Business.CloseHour > 24 || c.Business.OpenHour+c.Business.BlockHours > c.Business.CloseHour {
		return fmt.Errorf("business hours %d-%d cannot fit a %dh job", c.Business.OpenHour, c.Business.CloseHour, c.Business.BlockHours)
	}
	if c.BlockDuration() != models.BlockDuration {
		return fmt.Errorf("business.block_hours must be %d", int(models.BlockDuration.Hours()))
	}
	if c.Reminders.Hour < 0 || c.Reminders.Hour > 23 {
		return fmt.Errorf("reminders.hour %d out of range", c.Reminders.Hour)
	}
	return nil
}

// Location is the fixed zone all dates and slots are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c *Config) BlockDuration() time.Duration {
	return time.Duration(c.Business.BlockHours) * time.Hour
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}
