// Package config loads server configuration from the environment and
// engine tuning profiles from YAML files.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseURL  string
	RedisAddr    string
	RulesPath    string
	ProfilesDir  string
	Profile      string
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Local single-node default; postgres:// URLs select lib/pq.
		dbURL = "file:samsara.db"
	}

	rulesPath := os.Getenv("SAMSARA_RULES_PATH")
	if rulesPath == "" {
		rulesPath = "configs/rules.yaml"
	}

	profilesDir := os.Getenv("SAMSARA_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "configs"
	}

	profile := os.Getenv("SAMSARA_PROFILE")
	if profile == "" {
		profile = "default"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabaseURL:  dbURL,
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RulesPath:    rulesPath,
		ProfilesDir:  profilesDir,
		Profile:      profile,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}
