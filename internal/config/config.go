package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fichaclinica/intake-api/internal/intake"
)

// Draft store backends.
const (
	DraftBackendMemory = "memory"
	DraftBackendRedis  = "redis"
	DraftBackendSQLite = "sqlite"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	LogFormat          string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	DraftBackend       string
	DraftSQLitePath    string
	DraftTTL           time.Duration
	PractitionerSecret string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	FormSettingsFile   string
	FormIdleTTL        time.Duration
	AppVersion         string

	// Form engine settings
	FormTotalSteps           int
	FormValidateOnStepChange bool
	FormShowSummary          bool
	FormAutoSaveEnabled      bool
	FormAutoSaveInterval     time.Duration
	GatewayTimeout           time.Duration
}

// Load reads the configuration from the environment.
func Load() *Config {
	def := intake.DefaultConfig()
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		DraftBackend:       strings.ToLower(strings.TrimSpace(getEnv("DRAFT_BACKEND", DraftBackendMemory))),
		DraftSQLitePath:    getEnv("DRAFT_SQLITE_PATH", "data/drafts.db"),
		DraftTTL:           getEnvAsDuration("DRAFT_TTL", 7*24*time.Hour),
		PractitionerSecret: getEnv("PRACTITIONER_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		FormSettingsFile:   getEnv("FORM_SETTINGS_FILE", ""),
		FormIdleTTL:        getEnvAsDuration("FORM_IDLE_TTL", intake.DefaultIdleTTL),
		AppVersion:         getEnv("APP_VERSION", def.Version),

		FormTotalSteps:           getEnvAsInt("FORM_TOTAL_STEPS", def.TotalSteps),
		FormValidateOnStepChange: getEnvAsBool("FORM_VALIDATE_ON_STEP_CHANGE", def.ValidateOnStepChange),
		FormShowSummary:          getEnvAsBool("FORM_SHOW_SUMMARY", def.ShowSummaryBeforeSave),
		FormAutoSaveEnabled:      getEnvAsBool("FORM_AUTOSAVE_ENABLED", def.AutoSaveEnabled),
		FormAutoSaveInterval:     getEnvAsDuration("FORM_AUTOSAVE_INTERVAL", def.AutoSaveInterval),
		GatewayTimeout:           getEnvAsDuration("GATEWAY_TIMEOUT", def.GatewayTimeout),
	}
}

// Form returns the engine configuration, overlaid with FormSettingsFile when set.
func (c *Config) Form() (intake.Config, error) {
	form := intake.Config{
		TotalSteps:            c.FormTotalSteps,
		ValidateOnStepChange:  c.FormValidateOnStepChange,
		ShowSummaryBeforeSave: c.FormShowSummary,
		AutoSaveEnabled:       c.FormAutoSaveEnabled,
		AutoSaveInterval:      c.FormAutoSaveInterval,
		Version:               c.AppVersion,
		GatewayTimeout:        c.GatewayTimeout,
	}
	if c.FormSettingsFile == "" {
		return form, nil
	}
	return LoadFormSettings(c.FormSettingsFile, form)
}

// LoadFormSettings overlays the keys present in a YAML file on base.
func LoadFormSettings(path string, base intake.Config) (intake.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read form settings: %w", err)
	}
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return base, fmt.Errorf("config: parse form settings %s: %w", path, err)
	}
	return base, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
