package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	Platform  PlatformConfig
	JWT       JWTConfig
	HTTPAddr  string
	BaseDir   string
	Scheduler SchedulerConfig
}

// PlatformConfig holds platform connection configuration
type PlatformConfig struct {
	BaseURL         string
	Tenant          string
	User            string
	Password        string
	ApplicationName string
	ApplicationKey  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// SchedulerConfig holds the daily renewal trigger configuration
type SchedulerConfig struct {
	Enabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Platform: PlatformConfig{
			BaseURL:         getEnv("C8Y_BASEURL", ""),
			Tenant:          getEnv("C8Y_TENANT", ""),
			User:            getEnv("C8Y_USER", ""),
			Password:        getEnv("C8Y_PASSWORD", ""),
			ApplicationName: getEnv("APPLICATION_NAME", "edge-certd"),
			ApplicationKey:  getEnv("APPLICATION_KEY", ""),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "edge_certd"),
		},
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		BaseDir:  getEnv("BASE_DIR", "/root"),
		Scheduler: SchedulerConfig{
			Enabled: getEnv("SCHEDULER_ENABLED", "1") == "1",
		},
	}

	// Validate required fields
	if cfg.Platform.BaseURL == "" {
		return nil, fmt.Errorf("C8Y_BASEURL is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	// Load INI file
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Helper function: get value with priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		// Priority 1: Environment variable
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		// Priority 2: INI file
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		// Priority 3: Default value
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		Platform: PlatformConfig{
			BaseURL:         getValue("C8Y_BASEURL", "platform", "base_url", ""),
			Tenant:          getValue("C8Y_TENANT", "platform", "tenant", ""),
			User:            getValue("C8Y_USER", "platform", "user", ""),
			Password:        getValue("C8Y_PASSWORD", "platform", "password", ""),
			ApplicationName: getValue("APPLICATION_NAME", "platform", "application_name", "edge-certd"),
			ApplicationKey:  getValue("APPLICATION_KEY", "platform", "application_key", ""),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "edge_certd"),
		},
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
		BaseDir:  getValue("BASE_DIR", "app", "base_dir", "/root"),
		Scheduler: SchedulerConfig{
			Enabled: getValueBool("SCHEDULER_ENABLED", "scheduler", "enabled", true),
		},
	}

	// Validate required fields
	if cfg.Platform.BaseURL == "" {
		return nil, fmt.Errorf("C8Y_BASEURL is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}
