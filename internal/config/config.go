package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "carwash/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Security   SecurityConfig   `yaml:"security" envconfig:"SECURITY"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Activation ActivationConfig `yaml:"activation" envconfig:"ACTIVATION"`
	Storage    StorageConfig    `yaml:"storage" envconfig:"STORAGE"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	Client     ClientConfig     `yaml:"client" envconfig:"CLIENT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gte=0"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`
}

// Address returns the listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`

	// AdminAPIKey guards the audit history route. Empty leaves it open.
	AdminAPIKey string `yaml:"admin_api_key" envconfig:"ADMIN_API_KEY"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// The attempt guard keys on that address.
	TrustProxy bool `yaml:"trust_proxy" envconfig:"TRUST_PROXY"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ActivationConfig contains token and attempt-guard settings
type ActivationConfig struct {
	TokenFormat   string        `yaml:"token_format" envconfig:"TOKEN_FORMAT" validate:"oneof=opaque jwt"`
	TokenSecret   string        `yaml:"token_secret" envconfig:"TOKEN_SECRET"`
	TokenValidity time.Duration `yaml:"token_validity" envconfig:"TOKEN_VALIDITY" validate:"gt=0"`

	// PublicKeyBlob and PublicKeyChecksum replace the embedded vendor key.
	// Both or neither must be set.
	PublicKeyBlob     string `yaml:"public_key_blob" envconfig:"PUBLIC_KEY_BLOB" validate:"omitempty,base64"`
	PublicKeyChecksum string `yaml:"public_key_checksum" envconfig:"PUBLIC_KEY_CHECKSUM" validate:"omitempty,len=64,hexadecimal"`

	// GuardEnabled turns repeated failures from one client into 429 responses.
	// Off by default: every rejection is otherwise answered with 200 and success=false.
	GuardEnabled      bool          `yaml:"guard_enabled" envconfig:"GUARD_ENABLED"`
	MaxFailedAttempts int           `yaml:"max_failed_attempts" envconfig:"MAX_FAILED_ATTEMPTS" validate:"gte=1"`
	FailureWindow     time.Duration `yaml:"failure_window" envconfig:"FAILURE_WINDOW" validate:"gt=0"`
	BlockDuration     time.Duration `yaml:"block_duration" envconfig:"BLOCK_DURATION" validate:"gt=0"`
}

// StorageConfig contains the activation audit database settings
type StorageConfig struct {
	AuditEnabled bool   `yaml:"audit_enabled" envconfig:"AUDIT_ENABLED"`
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableTracing  bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	EnableMetrics  bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// ClientConfig contains POS-side settings used by the activation client
type ClientConfig struct {
	ServerURL        string        `yaml:"server_url" envconfig:"SERVER_URL" validate:"required,url"`
	Timeout          time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	StorePath        string        `yaml:"store_path" envconfig:"STORE_PATH" validate:"required"`
	MachineInfoDir   string        `yaml:"machine_info_dir" envconfig:"MACHINE_INFO_DIR"`
	UseFixedDeviceID bool          `yaml:"use_fixed_device_id" envconfig:"USE_FIXED_DEVICE_ID"`
	FixedDeviceID    string        `yaml:"fixed_device_id" envconfig:"FIXED_DEVICE_ID"`
	ScreenWidth      int           `yaml:"screen_width" envconfig:"SCREEN_WIDTH" validate:"gte=0"`
	ScreenHeight     int           `yaml:"screen_height" envconfig:"SCREEN_HEIGHT" validate:"gte=0"`
}

// Load builds the configuration from defaults, the optional YAML file and
// CARWASH_* environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to load config from file", err).WithContext("file", configFile)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("config validation failed", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML document at filePath onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolvePaths anchors relative file locations to the application directory
func (c *Config) resolvePaths() {
	c.Logging.FilePath = ResolvePath(c.Logging.FilePath)
	c.Storage.DatabasePath = ResolvePath(c.Storage.DatabasePath)
	c.Client.StorePath = ResolvePath(c.Client.StorePath)
	c.Client.MachineInfoDir = ResolvePath(c.Client.MachineInfoDir)
}

// Validate checks struct tags and the rules that span fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	var errs []error
	if c.Activation.TokenFormat == "jwt" && len(c.Activation.TokenSecret) < MinTokenSecretLength {
		errs = append(errs, fmt.Errorf("activation token secret must be at least %d characters for jwt tokens", MinTokenSecretLength))
	}
	if (c.Activation.PublicKeyBlob == "") != (c.Activation.PublicKeyChecksum == "") {
		errs = append(errs, errors.New("activation public key blob and checksum must be set together"))
	}
	if c.Storage.AuditEnabled && c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("storage database path is required when audit is enabled"))
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		errs = append(errs, errors.New("logging file path is required for file output"))
	}
	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("at least one allowed origin must be specified"))
	}
	return errors.Join(errs...)
}

// getConfigFilePath returns the config file to read, or "" when none exists
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}

	locations := []string{
		"carwash.yaml",
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultServerPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  DefaultRequestTimeout,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimit,
				Burst:   DefaultBurstSize,
			},
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   "console",
			FilePath: "logs/activation.log",
		},
		Activation: ActivationConfig{
			TokenFormat:       "opaque",
			TokenValidity:     TokenValidity,
			GuardEnabled:      false,
			MaxFailedAttempts: MaxFailedAttempts,
			FailureWindow:     FailureWindow,
			BlockDuration:     BlockDuration,
		},
		Storage: StorageConfig{
			AuditEnabled: true,
			DatabasePath: "data/activation.db",
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			EnableTracing:  false,
			TraceExporter:  "none",
			EnableMetrics:  true,
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Client: ClientConfig{
			ServerURL:      fmt.Sprintf("http://localhost:%d", DefaultServerPort),
			Timeout:        DefaultHTTPTimeout,
			StorePath:      "data/activation.json",
			MachineInfoDir: ".",
			ScreenWidth:    1920,
			ScreenHeight:   1080,
		},
	}
}
