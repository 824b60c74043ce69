package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"slotbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Backup        BackupConfig        `yaml:"backup"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Booking       BookingConfig       `yaml:"booking"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig enables the Redis notification store when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BookingConfig struct {
	Timezone       string              `yaml:"timezone"`
	MaxBookingDays int                 `yaml:"max_booking_days"`
	Maintenance    []MaintenanceWindow `yaml:"maintenance"`
}

// MaintenanceWindow blocks hours on a date. No hours blocks the whole day.
type MaintenanceWindow struct {
	Date  string `yaml:"date"`
	Hours []int  `yaml:"hours"`
}

// Location resolves Timezone.
func (b BookingConfig) Location() (*time.Location, error) {
	return time.LoadLocation(b.Timezone)
}

// BlockedSlots flattens Maintenance into date -> hours.
func (b BookingConfig) BlockedSlots() map[string][]int {
	out := make(map[string][]int, len(b.Maintenance))
	for _, w := range b.Maintenance {
		if len(w.Hours) == 0 {
			out[w.Date] = []int{}
			continue
		}
		if existing, ok := out[w.Date]; ok && len(existing) == 0 {
			continue
		}
		out[w.Date] = append(out[w.Date], w.Hours...)
	}
	return out
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type APIAuthConfig struct {
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
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

// NotificationsConfig configures freed-slot delivery. An empty AMQPURL logs instead of publishing.
type NotificationsConfig struct {
	AMQPURL        string        `yaml:"amqp_url"`
	Exchange       string        `yaml:"exchange"`
	RoutingKey     string        `yaml:"routing_key"`
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Backup.Enabled && (c.Storage.Driver != StorageSQLite || c.Backup.StoragePath == "") {
		return errors.New("backup requires sqlite storage and backup.storage_path")
	}

	if _, err := c.Booking.Location(); err != nil {
		return fmt.Errorf("invalid booking timezone %q: %w", c.Booking.Timezone, err)
	}
	if c.Booking.MaxBookingDays < 0 {
		return errors.New("booking max_booking_days must not be negative")
	}

	if err := ValidateMaintenance(c.Booking.Maintenance); err != nil {
		return err
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateMaintenance(windows []MaintenanceWindow) error {
	for _, w := range windows {
		if _, err := time.Parse(models.DateLayout, w.Date); err != nil {
			return fmt.Errorf("maintenance date %q is malformed", w.Date)
		}
		for _, h := range w.Hours {
			if !models.HourInRange(h) {
				return fmt.Errorf("maintenance hour %d on %s outside %d..%d", h, w.Date, models.FirstHour, models.LastHour)
			}
		}
	}
	return nil
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key found for '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "slotbook"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageSQLite
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 10 * time.Second
	}
	if c.API.HTTP.ShutdownTimeout == 0 {
		c.API.HTTP.ShutdownTimeout = 5 * time.Second
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = models.RateLimitRPS
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = models.RateLimitBurst
	}

	// Booking defaults
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Booking.MaxBookingDays == 0 {
		c.Booking.MaxBookingDays = models.DefaultMaxBookingDays
	}

	if c.Notifications.Exchange == "" {
		c.Notifications.Exchange = "slotbook.events"
	}
	if c.Notifications.RoutingKey == "" {
		c.Notifications.RoutingKey = "slot.released"
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = models.DefaultReleaseQueueSize
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}
	if c.Notifications.BaseDelay == 0 {
		c.Notifications.BaseDelay = 500 * time.Millisecond
	}
	if c.Notifications.MaxDelay == 0 {
		c.Notifications.MaxDelay = 30 * time.Second
	}
	if c.Notifications.PublishTimeout == 0 {
		c.Notifications.PublishTimeout = 5 * time.Second
	}

	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = time.Minute
	}
}
