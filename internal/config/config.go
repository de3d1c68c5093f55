package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"didlab/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Reference-arm rules
const (
	ArmRuleFirstSeen     = "first-seen"
	ArmRuleLexicographic = "lexicographic"
	ArmRuleExplicit      = "explicit"
)

// Balance threshold scales
const (
	BalanceScaleAbsolute = "absolute"
	BalanceScaleSD       = "sd"
)

// Time encodings for the pre-period trend slope
const (
	TimeEncodingNative = "native"
	TimeEncodingIndex  = "index"
)

// Config represents the complete application configuration
type Config struct {
	Analysis AnalysisConfig
	Output   OutputConfig
	Database DatabaseConfig
	Server   ServerConfig
	LogLevel string
}

// AnalysisConfig holds the estimation settings
type AnalysisConfig struct {
	ArmRule          string        `validate:"oneof=first-seen lexicographic explicit"`
	TreatedArm       string        `validate:"required_if=ArmRule explicit"`
	Cutover          string
	ConfidenceLevel  float64       `validate:"gt=0,lt=1"`
	UseT             bool
	BalanceThreshold float64       `validate:"gt=0"`
	BalanceScale     string        `validate:"oneof=absolute sd"`
	TimeEncoding     string        `validate:"oneof=native index"`
	FitTimeout       time.Duration `validate:"gt=0"`
	MaxDesignCells   int           `validate:"gt=0"`
	EventStudy       bool
	ParallelBranches bool

	// MaxConcurrentRuns bounds how many analyses a service runs at once
	MaxConcurrentRuns int `validate:"gt=0"`
}

// OutputConfig holds report artifact settings
type OutputConfig struct {
	Dir       string
	HTML      bool
	ChartData bool
}

// DatabaseConfig holds the optional run archive connection
type DatabaseConfig struct {
	URL    string
	Driver string `validate:"omitempty,oneof=postgres sqlite3"`
}

// Enabled reports whether runs should be archived
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port           string `validate:"required"`
	MaxUploadBytes int64  `validate:"gt=0"`
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			ArmRule:           ArmRuleFirstSeen,
			ConfidenceLevel:   0.95,
			BalanceThreshold:  0.1,
			BalanceScale:      BalanceScaleAbsolute,
			TimeEncoding:      TimeEncodingNative,
			FitTimeout:        30 * time.Second,
			MaxDesignCells:    50_000_000,
			EventStudy:        true,
			ParallelBranches:  true,
			MaxConcurrentRuns: 4,
		},
		Output: OutputConfig{
			HTML:      true,
			ChartData: true,
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Server: ServerConfig{
			Port:           "8080",
			MaxUploadBytes: 32 << 20,
		},
		LogLevel: "INFO",
	}
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := Default()

	config.Analysis = loadAnalysisConfig(config.Analysis)
	config.Output = loadOutputConfig(config.Output)
	config.Database = loadDatabaseConfig(config.Database)
	config.Server = loadServerConfig(config.Server)
	config.LogLevel = getEnvOrDefault("LOG_LEVEL", config.LogLevel)

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

var validate = validator.New()

// Validate checks struct constraints; an explicit treated arm implies the explicit rule
func (c *Config) Validate() error {
	if c.Analysis.TreatedArm != "" {
		c.Analysis.ArmRule = ArmRuleExplicit
	}
	if err := validate.Struct(c); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	return nil
}

func loadAnalysisConfig(d AnalysisConfig) AnalysisConfig {
	return AnalysisConfig{
		ArmRule:          strings.ToLower(getEnvOrDefault("DID_ARM_RULE", d.ArmRule)),
		TreatedArm:       getEnvOrDefault("DID_TREATED_ARM", d.TreatedArm),
		Cutover:          getEnvOrDefault("DID_CUTOVER", d.Cutover),
		ConfidenceLevel:  getEnvFloatOrDefault("DID_CONFIDENCE_LEVEL", d.ConfidenceLevel),
		UseT:             getEnvBoolOrDefault("DID_USE_T", d.UseT),
		BalanceThreshold: getEnvFloatOrDefault("DID_BALANCE_THRESHOLD", d.BalanceThreshold),
		BalanceScale:     strings.ToLower(getEnvOrDefault("DID_BALANCE_SCALE", d.BalanceScale)),
		TimeEncoding:     strings.ToLower(getEnvOrDefault("DID_TIME_ENCODING", d.TimeEncoding)),
		FitTimeout:       getEnvDurationOrDefault("DID_FIT_TIMEOUT", d.FitTimeout),
		MaxDesignCells:   getEnvIntOrDefault("DID_MAX_DESIGN_CELLS", d.MaxDesignCells),
		EventStudy:       getEnvBoolOrDefault("DID_EVENT_STUDY", d.EventStudy),
		ParallelBranches: getEnvBoolOrDefault("DID_PARALLEL_BRANCHES", d.ParallelBranches),

		MaxConcurrentRuns: getEnvIntOrDefault("DID_MAX_CONCURRENT_RUNS", d.MaxConcurrentRuns),
	}
}

func loadOutputConfig(d OutputConfig) OutputConfig {
	return OutputConfig{
		Dir:       getEnvOrDefault("REPORT_DIR", d.Dir),
		HTML:      getEnvBoolOrDefault("REPORT_HTML", d.HTML),
		ChartData: getEnvBoolOrDefault("REPORT_CHART_DATA", d.ChartData),
	}
}

func loadDatabaseConfig(d DatabaseConfig) DatabaseConfig {
	return DatabaseConfig{
		URL:    getEnvOrDefault("DATABASE_URL", d.URL),
		Driver: getEnvOrDefault("DATABASE_DRIVER", d.Driver),
	}
}

func loadServerConfig(d ServerConfig) ServerConfig {
	return ServerConfig{
		Port:           getEnvOrDefault("PORT", d.Port),
		MaxUploadBytes: int64(getEnvIntOrDefault("MAX_UPLOAD_BYTES", int(d.MaxUploadBytes))),
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
