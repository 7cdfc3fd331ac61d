package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upload      UploadConfig      `yaml:"upload"`
	Static      StaticConfig      `yaml:"static"`
	DB          DBConfig          `yaml:"db"`
	Log         LogConfig         `yaml:"log"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	MaxConnections int      `yaml:"max_connections"` // 0 = unlimited
}

// UploadConfig holds upload validation and storage settings.
type UploadConfig struct {
	Dir               string   `yaml:"dir"`
	MaxSize           Size     `yaml:"max_size"`
	BodyTimeout       Duration `yaml:"body_timeout"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	AllowedTypes      []string `yaml:"allowed_types"`
}

// StaticConfig holds static asset settings.
type StaticConfig struct {
	Dir string `yaml:"dir"` // Empty serves the embedded assets
}

// DBConfig holds database settings.
type DBConfig struct {
	Driver         string   `yaml:"driver"`
	Path           string   `yaml:"path"` // sqlite
	DSN            string   `yaml:"dsn"`  // postgres
	ConnectRetries int      `yaml:"connect_retries"`
	RetryDelay     Duration `yaml:"retry_delay"`
	MaxRetryDelay  Duration `yaml:"max_retry_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// MaintenanceConfig controls the file/metadata reconciliation sweep.
type MaintenanceConfig struct {
	ReconcileOnStart  bool     `yaml:"reconcile_on_start"`
	ReconcileInterval Duration `yaml:"reconcile_interval"` // 0 disables the periodic sweep
	OrphanGrace       Duration `yaml:"orphan_grace"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "0.0.0.0:8000",
			ReadTimeout:  Duration(60 * time.Second),
			WriteTimeout: Duration(60 * time.Second),
			IdleTimeout:  Duration(120 * time.Second),
		},
		Upload: UploadConfig{
			Dir:               "data/images",
			MaxSize:           5 * MiB,
			BodyTimeout:       Duration(30 * time.Second),
			AllowedExtensions: []string{"jpg", "jpeg", "png", "gif"},
			AllowedTypes:      []string{"image/jpeg", "image/png", "image/gif"},
		},
		DB: DBConfig{
			Driver:         DriverSQLite,
			Path:           "data/imagehost.db",
			ConnectRetries: 10,
			RetryDelay:     Duration(5 * time.Second),
			MaxRetryDelay:  Duration(30 * time.Second),
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "logs/requests.log",
				Level: "INFO",
			},
		},
		Maintenance: MaintenanceConfig{
			ReconcileOnStart: true,
			OrphanGrace:      Duration(time.Minute),
		},
	}
}

// LoadEnv reads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// Environment variables override file values but are never saved back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("IMAGEHOST_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("IMAGEHOST_UPLOAD_DIR"); v != "" {
		cfg.Upload.Dir = v
	}
	if v := os.Getenv("IMAGEHOST_DB_DRIVER"); v != "" {
		cfg.DB.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DB.DSN = v
	}

	// Container deployments describe the database with discrete variables.
	if cfg.DB.DSN == "" && os.Getenv("DB_HOST") != "" {
		cfg.DB.DSN = PostgresDSN(
			os.Getenv("DB_HOST"),
			envOr("DB_PORT", "5432"),
			envOr("DB_NAME", "image_hosting"),
			envOr("DB_USER", "app"),
			os.Getenv("DB_PASSWORD"),
		)
		if os.Getenv("IMAGEHOST_DB_DRIVER") == "" {
			cfg.DB.Driver = DriverPostgres
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PostgresDSN builds a lib/pq connection URL.
func PostgresDSN(host, port, name, user, password string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + name,
		RawQuery: "sslmode=disable&connect_timeout=10",
	}
	return u.String()
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path is required for driver %q", c.DB.Driver)
		}
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for driver %q", c.DB.Driver)
		}
	default:
		return fmt.Errorf("unknown db.driver %q: must be %q or %q", c.DB.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Upload.Dir == "" {
		return fmt.Errorf("upload.dir must not be empty")
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("upload.allowed_extensions must not be empty")
	}
	for _, ext := range c.Upload.AllowedExtensions {
		if ext == "" || strings.ContainsAny(ext, "./\\") {
			return fmt.Errorf("invalid extension %q in upload.allowed_extensions: use bare names like 'png'", ext)
		}
	}
	if c.DB.ConnectRetries < 1 {
		c.DB.ConnectRetries = 1
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# imagehost configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Size:     B, KB, KiB, MB, MiB, GB, GiB (plain numbers are bytes)
# Environment overrides: IMAGEHOST_ADDRESS, IMAGEHOST_UPLOAD_DIR,
#   IMAGEHOST_DB_DRIVER, DATABASE_URL, DB_HOST/DB_PORT/DB_NAME/DB_USER/DB_PASSWORD

`)
	data = append(header, data...)

	reDriver := regexp.MustCompile(`(?m)^(\s+)driver:`)
	data = reDriver.ReplaceAll(data, []byte("${1}# Options: sqlite, postgres\n${1}driver:"))

	reStatic := regexp.MustCompile(`(?m)^(\s+)dir: ""`)
	data = reStatic.ReplaceAll(data, []byte("${1}# Empty serves the built-in pages\n${1}dir: \"\""))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
