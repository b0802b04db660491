package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	GRPC       GRPCConfig       `json:"grpc"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Classifier ClassifierConfig `json:"classifier"`
	Drowsiness DrowsinessConfig `json:"drowsiness"`
	Alarm      AlarmConfig      `json:"alarm"`
	Link       LinkConfig       `json:"link"`
	Security   SecurityConfig   `json:"security"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`

	// EnvFile is the dotenv file that was loaded, empty if none.
	EnvFile string `json:"env_file,omitempty"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type GRPCConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

type TelemetryConfig struct {
	DrillInterval  time.Duration `json:"drill_interval"`
	VitalsInterval time.Duration `json:"vitals_interval"`
	HistorySize    int           `json:"history_size"`
	Seed           uint64        `json:"seed"`
	WorkerID       string        `json:"worker_id"`
	QueueSize      int           `json:"queue_size"`
	ClientBuffer   int           `json:"client_buffer"`
}

type ClassifierConfig struct {
	// BaseURLs are tried in order until one passes its health check.
	BaseURLs            []string      `json:"base_urls"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

type DrowsinessConfig struct {
	Source          string        `json:"source"`
	AlarmThreshold  time.Duration `json:"alarm_threshold"`
	Debounce        time.Duration `json:"debounce"`
	Interval        time.Duration `json:"interval"`
	AcquireTimeout  time.Duration `json:"acquire_timeout"`
	SmoothingWindow int           `json:"smoothing_window"`
	EARThreshold    float64       `json:"ear_threshold"`
	Adaptive        bool          `json:"adaptive"`
	Seed            uint64        `json:"seed"`
}

type AlarmConfig struct {
	Muted      bool          `json:"muted"`
	Frequency  float64       `json:"frequency"`
	ToneLength time.Duration `json:"tone_length"`
	Period     time.Duration `json:"period"`
	Volume     float64       `json:"volume"`
}

type LinkConfig struct {
	ServerURL     string        `json:"server_url"`
	APIURL        string        `json:"api_url"`
	RetryInterval time.Duration `json:"retry_interval"`
	Operator      string        `json:"operator"`
	Password      string        `json:"-"`
}

type SecurityConfig struct {
	JWTSecretKey   string        `json:"-"`
	TokenTTL       time.Duration `json:"token_ttl"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHTTPS    bool          `json:"enable_https"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"-"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_connections"`
	MinConns int    `json:"min_connections"`
	// SeedOperator/SeedPassword create an operator account at startup.
	SeedOperator string `json:"seed_operator"`
	SeedPassword string `json:"-"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// URL renders the pgx connection string.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// LoadConfig reads settings from the environment after applying the given
// dotenv files (".env" when none are named). Missing files are ignored and
// real environment variables win over file values.
func LoadConfig(envFiles ...string) *Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	var loaded []string
	for _, f := range envFiles {
		if err := godotenv.Load(f); err == nil {
			loaded = append(loaded, f)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		GRPC: GRPCConfig{
			Enabled: getEnvAsBool("GRPC_ENABLED", true),
			Port:    getEnvAsInt("GRPC_PORT", 50051),
		},
		Telemetry: TelemetryConfig{
			DrillInterval:  getEnvAsDuration("TELEMETRY_DRILL_INTERVAL", 1*time.Second),
			VitalsInterval: getEnvAsDuration("TELEMETRY_VITALS_INTERVAL", 2*time.Second),
			HistorySize:    getEnvAsInt("TELEMETRY_HISTORY_SIZE", 60),
			Seed:           getEnvAsUint64("TELEMETRY_SEED", 0),
			WorkerID:       getEnv("TELEMETRY_WORKER_ID", "W-001"),
			QueueSize:      getEnvAsInt("TELEMETRY_QUEUE_SIZE", 64),
			ClientBuffer:   getEnvAsInt("TELEMETRY_CLIENT_BUFFER", 32),
		},
		Classifier: ClassifierConfig{
			BaseURLs:            getEnvAsStringSlice("CLASSIFIER_URLS", []string{"http://localhost:5000"}),
			Timeout:             getEnvAsDuration("CLASSIFIER_TIMEOUT", 2*time.Second),
			MaxRetries:          getEnvAsInt("CLASSIFIER_MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("CLASSIFIER_RETRY_DELAY", 1*time.Second),
			HealthCheckInterval: getEnvAsDuration("CLASSIFIER_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Drowsiness: DrowsinessConfig{
			Source:          getEnv("DROWSINESS_SOURCE", "simulated"),
			AlarmThreshold:  getEnvAsDuration("DROWSINESS_ALARM_THRESHOLD", 5*time.Second),
			Debounce:        getEnvAsDuration("DROWSINESS_DEBOUNCE", 500*time.Millisecond),
			Interval:        getEnvAsDuration("DROWSINESS_INTERVAL", 100*time.Millisecond),
			AcquireTimeout:  getEnvAsDuration("DROWSINESS_ACQUIRE_TIMEOUT", 15*time.Second),
			SmoothingWindow: getEnvAsInt("DROWSINESS_SMOOTHING_WINDOW", 5),
			EARThreshold:    getEnvAsFloat("DROWSINESS_EAR_THRESHOLD", 0.26),
			Adaptive:        getEnvAsBool("DROWSINESS_ADAPTIVE", true),
			Seed:            getEnvAsUint64("DROWSINESS_SEED", 0),
		},
		Alarm: AlarmConfig{
			Muted:      getEnvAsBool("ALARM_MUTED", false),
			Frequency:  getEnvAsFloat("ALARM_FREQUENCY", 800),
			ToneLength: getEnvAsDuration("ALARM_TONE_LENGTH", 200*time.Millisecond),
			Period:     getEnvAsDuration("ALARM_PERIOD", 500*time.Millisecond),
			Volume:     getEnvAsFloat("ALARM_VOLUME", 0.6),
		},
		Link: LinkConfig{
			ServerURL:     getEnv("LINK_SERVER_URL", "ws://localhost:8080/ws"),
			APIURL:        getEnv("LINK_API_URL", "http://localhost:8080/api/v1"),
			RetryInterval: getEnvAsDuration("LINK_RETRY_INTERVAL", 3*time.Second),
			Operator:      getEnv("LINK_OPERATOR", ""),
			Password:      getEnv("LINK_PASSWORD", ""),
		},
		Security: SecurityConfig{
			JWTSecretKey:   getEnv("JWT_SECRET_KEY", ""),
			TokenTTL:       getEnvAsDuration("TOKEN_TTL", 12*time.Hour),
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 100),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 200),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 1*1024*1024), // 1MB
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			EnableHTTPS:    getEnvAsBool("ENABLE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "memory"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			DBName:       getEnv("DB_NAME", "rigwatch"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxConns:     getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:     getEnvAsInt("DB_MIN_CONNS", 1),
			SeedOperator: getEnv("SEED_OPERATOR", ""),
			SeedPassword: getEnv("SEED_PASSWORD", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		EnvFile: strings.Join(loaded, ","),
	}

	return config
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.GRPC.Enabled && (c.GRPC.Port < 1 || c.GRPC.Port > 65535) {
		errors = append(errors, "gRPC port must be between 1 and 65535")
	}

	if c.GRPC.Enabled && c.GRPC.Port == c.Server.Port {
		errors = append(errors, "gRPC port must differ from the HTTP port")
	}

	if c.Telemetry.DrillInterval <= 0 || c.Telemetry.VitalsInterval <= 0 {
		errors = append(errors, "telemetry intervals must be positive")
	}

	if c.Telemetry.HistorySize < 1 {
		errors = append(errors, "telemetry history size must be positive")
	}

	if c.Drowsiness.Source != "simulated" && c.Drowsiness.Source != "live" {
		errors = append(errors, "drowsiness source must be simulated or live")
	}

	if c.Drowsiness.Source == "live" && len(c.Classifier.BaseURLs) == 0 {
		errors = append(errors, "classifier URL is required for the live source")
	}

	if c.Drowsiness.AlarmThreshold <= 0 {
		errors = append(errors, "alarm threshold must be positive")
	}

	if c.Drowsiness.Debounce <= 0 || c.Drowsiness.Debounce >= c.Drowsiness.AlarmThreshold {
		errors = append(errors, "debounce must be positive and shorter than the alarm threshold")
	}

	if c.Drowsiness.Interval <= 0 {
		errors = append(errors, "detection interval must be positive")
	}

	if c.Drowsiness.SmoothingWindow < 3 || c.Drowsiness.SmoothingWindow > 5 {
		errors = append(errors, "smoothing window must be between 3 and 5")
	}

	if c.Alarm.Period < c.Alarm.ToneLength {
		errors = append(errors, "alarm period must not be shorter than the tone")
	}

	if c.Link.RetryInterval <= 0 {
		errors = append(errors, "link retry interval must be positive")
	}

	if c.Security.JWTSecretKey == "" {
		logger.Warn("JWT secret key not set, using random key")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Security.EnableHTTPS && (c.Security.CertFile == "" || c.Security.KeyFile == "") {
		errors = append(errors, "HTTPS requires cert and key files")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			errors = append(errors, "database host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			errors = append(errors, "database port must be between 1 and 65535")
		}
	default:
		errors = append(errors, "database driver must be memory or postgres")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

// NewLogger builds the zap logger described by the logging section.
func (l LoggingConfig) NewLogger() (*zap.Logger, error) {
	var zc zap.Config
	if l.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc.Level = level

	if l.Output != "" && l.Output != "stdout" {
		zc.OutputPaths = []string{l.Output}
		zc.ErrorOutputPaths = []string{l.Output}
	}
	return zc.Build()
}

// EnvTemplate lists the settings an operator usually changes, with their
// defaults.
func EnvTemplate() map[string]string {
	return map[string]string{
		"ENVIRONMENT":                "development",
		"SERVER_PORT":                "8080",
		"GRPC_PORT":                  "50051",
		"TELEMETRY_DRILL_INTERVAL":   "1s",
		"TELEMETRY_VITALS_INTERVAL":  "2s",
		"CLASSIFIER_URLS":            "http://localhost:5000",
		"DROWSINESS_SOURCE":          "simulated",
		"DROWSINESS_ALARM_THRESHOLD": "5s",
		"ALARM_MUTED":                "false",
		"LINK_SERVER_URL":            "ws://localhost:8080/ws",
		"LINK_API_URL":               "http://localhost:8080/api/v1",
		"JWT_SECRET_KEY":             "",
		"DB_DRIVER":                  "memory",
		"LOG_LEVEL":                  "info",
		"LOG_FORMAT":                 "json",
	}
}

// WriteEnvFile persists a config template, used by `-init-env`.
func WriteEnvFile(path string, values map[string]string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return godotenv.Write(values, path)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
