package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the namespace for every environment variable read by Load.
const EnvPrefix = "LEASE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Authority AuthorityConfig `yaml:"authority" envconfig:"AUTHORITY"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// Requests per second per client; zero disables the limiter
	RateLimitRPS   float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	ExecutableDir string `yaml:"executable_dir" envconfig:"EXECUTABLE_DIR"`
	DataDir       string `yaml:"data_dir" envconfig:"DATA_DIR"`
	WebDir        string `yaml:"web_dir" envconfig:"WEB_DIR"`
	LogsDir       string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// LicenseConfig holds the lease policy.
type LicenseConfig struct {
	LeaseDuration        time.Duration `yaml:"lease_duration" envconfig:"LEASE_DURATION"`
	WarningThreshold     time.Duration `yaml:"warning_threshold" envconfig:"WARNING_THRESHOLD"`
	DriftTolerance       time.Duration `yaml:"drift_tolerance" envconfig:"DRIFT_TOLERANCE"`
	TimeCoalesceInterval time.Duration `yaml:"time_coalesce_interval" envconfig:"TIME_COALESCE_INTERVAL"`
	RenewInterval        time.Duration `yaml:"renew_interval" envconfig:"RENEW_INTERVAL"`
	ActivationRate       float64       `yaml:"activation_rate" envconfig:"ACTIVATION_RATE"`
	ActivationBurst      int           `yaml:"activation_burst" envconfig:"ACTIVATION_BURST"`
	AppSalt              string        `yaml:"app_salt" envconfig:"APP_SALT"`
	GateCacheTTL         time.Duration `yaml:"gate_cache_ttl" envconfig:"GATE_CACHE_TTL"`
}

// AuthorityConfig selects and configures the remote license authority.
type AuthorityConfig struct {
	Kind            string        `yaml:"kind" envconfig:"KIND"`
	URL             string        `yaml:"url" envconfig:"URL"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	SheetID         string        `yaml:"sheet_id" envconfig:"SHEET_ID"`
	SheetName       string        `yaml:"sheet_name" envconfig:"SHEET_NAME"`
	CredentialsFile string        `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	RetryAttempts   uint          `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryDelay      time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
}

// StorageConfig selects the encrypted key-value backend for the lease record.
// The file driver writes one <key>.dat per entry under Dir; bolt keeps every
// entry in BoltFile.
type StorageConfig struct {
	Driver   string `yaml:"driver" envconfig:"DRIVER"`
	Dir      string `yaml:"dir" envconfig:"DIR"`
	BoltFile string `yaml:"bolt_file" envconfig:"BOLT_FILE"`
}

// TelemetryConfig toggles OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// WebSocketConfig contains WebSocket configuration. Same-origin clients are
// always accepted; AllowedOrigins lists additional ones.
type WebSocketConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// Load loads configuration from a .env file, environment variables and an
// optional YAML config file. Environment values win over file values.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit YAML path; an empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	// A missing .env is the normal case outside development
	_ = godotenv.Load()

	cfg := *Default()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileConfig, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = *fileConfig
		}
	}

	// Environment wins over the file
	if err := processEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// processEnv overlays set environment variables on top of cfg. Fields carry
// no default tags, so unset variables leave file and default values in place.
func processEnv(cfg *Config) error {
	return envconfig.Process(EnvPrefix, cfg)
}

// loadFromFile loads configuration from YAML file on top of the defaults
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolvePaths anchors relative paths at the executable directory
func (c *Config) resolvePaths() error {
	if c.Paths.ExecutableDir == "" {
		paths, err := GetPaths()
		if err != nil {
			return fmt.Errorf("failed to get paths: %w", err)
		}
		c.Paths.ExecutableDir = paths.ExecutableDir
	}
	return nil
}

// Validate checks the configuration for values the license engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	l := c.License
	if l.LeaseDuration <= 0 {
		return fmt.Errorf("lease duration must be positive")
	}
	if l.WarningThreshold < 0 {
		return fmt.Errorf("warning threshold must not be negative")
	}
	if l.DriftTolerance < 0 {
		return fmt.Errorf("drift tolerance must not be negative")
	}
	if l.TimeCoalesceInterval < 0 {
		return fmt.Errorf("time coalesce interval must not be negative")
	}
	if l.RenewInterval <= 0 {
		return fmt.Errorf("renew interval must be positive")
	}
	if l.ActivationBurst < 1 {
		return fmt.Errorf("activation burst must be at least 1")
	}
	if l.AppSalt == "" {
		return fmt.Errorf("app salt is required")
	}

	switch c.Authority.Kind {
	case AuthorityHTTP:
		if c.Authority.URL == "" {
			return fmt.Errorf("authority url is required for kind %q", AuthorityHTTP)
		}
	case AuthoritySheets:
		if c.Authority.SheetID == "" {
			return fmt.Errorf("authority sheet id is required for kind %q", AuthoritySheets)
		}
	default:
		return fmt.Errorf("unsupported authority kind: %s", c.Authority.Kind)
	}

	switch c.Storage.Driver {
	case StorageFile, StorageBolt:
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

// LeaseWarnsImmediately reports whether a freshly activated lease would already
// be inside the warning window.
func (c *Config) LeaseWarnsImmediately() bool {
	return c.License.LeaseDuration <= c.License.WarningThreshold
}

// GetStorageDir returns the resolved directory of the file storage driver
func (c *Config) GetStorageDir() string {
	return c.resolve(c.Storage.Dir)
}

// GetBoltFile returns the resolved database path of the bolt storage driver
func (c *Config) GetBoltFile() string {
	return c.resolve(c.Storage.BoltFile)
}

// GetCredentialsFile returns the resolved service account credentials path
func (c *Config) GetCredentialsFile() string {
	return c.resolve(c.Authority.CredentialsFile)
}

// GetLogsDir returns the resolved logs directory path
func (c *Config) GetLogsDir() string {
	return c.resolve(c.Paths.LogsDir)
}

// GetWebDir returns the resolved web directory path
func (c *Config) GetWebDir() string {
	return c.resolve(c.Paths.WebDir)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if p == "." {
		return c.Paths.ExecutableDir
	}
	return filepath.Join(c.Paths.ExecutableDir, p)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/app.log",
		},
		Paths: PathsConfig{
			DataDir: "data",
			WebDir:  "web",
			LogsDir: "logs",
		},
		License: LicenseConfig{
			LeaseDuration:        DefaultLeaseDuration,
			WarningThreshold:     DefaultWarningThreshold,
			DriftTolerance:       DefaultDriftTolerance,
			TimeCoalesceInterval: DefaultTimeCoalesceInterval,
			RenewInterval:        DefaultRenewInterval,
			ActivationRate:       0.2,
			ActivationBurst:      3,
			AppSalt:              DefaultAppSalt,
			GateCacheTTL:         30 * time.Second,
		},
		Authority: AuthorityConfig{
			Kind:            AuthorityHTTP,
			Timeout:         DefaultAuthorityTimeout,
			SheetName:       "Licenses",
			CredentialsFile: "credentials.json",
			RetryAttempts:   3,
			RetryDelay:      500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Driver:   StorageFile,
			Dir:      ".",
			BoltFile: "license.db",
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
