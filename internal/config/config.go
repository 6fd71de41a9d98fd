package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string

	// SQLite backend
	SQLiteDBPath string

	// REST backend
	RESTBaseURL      string
	RESTPollInterval time.Duration

	// Local file backend
	LocalFilePath string

	// AMQP change feed (optional)
	AMQPURL      string
	AMQPExchange string

	// Auth
	JWTSecret      string
	JWTTTL         time.Duration
	BcryptCost     int
	GoogleClientID string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend: getEnv("DATA_BACKEND", "sqlite"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/spendtrack.db"),

		RESTBaseURL:      getEnv("REST_BASE_URL", ""),
		RESTPollInterval: getEnvDuration("REST_POLL_INTERVAL", 15*time.Second),

		LocalFilePath: getEnv("LOCAL_FILE_PATH", "./data/expenses.json"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spendtrack.changes"),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTTTL:         getEnvDuration("JWT_TTL", 24*time.Hour),
		BcryptCost:     getEnvInt("BCRYPT_COST", 12),
		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "rest":
		if c.RESTBaseURL == "" {
			errors = append(errors, "REST base URL is required when using rest backend")
		} else if u, err := url.Parse(c.RESTBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid REST base URL '%s': must be http(s)", c.RESTBaseURL))
		}
		if c.RESTPollInterval < time.Second {
			errors = append(errors, fmt.Sprintf("invalid REST poll interval %v: must be at least 1 second", c.RESTPollInterval))
		}
	case "file":
		if c.LocalFilePath == "" {
			errors = append(errors, "local file path cannot be empty when using file backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [sqlite rest file]", c.DataBackend))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.JWTSecret == "" {
		errors = append(errors, "JWT secret is required")
	} else if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT secret must be at least 32 characters")
	}
	if c.JWTTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid JWT TTL %v: must be at least 1 minute", c.JWTTTL))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 15 {
		errors = append(errors, fmt.Sprintf("invalid bcrypt cost %d: must be between 4 and 15", c.BcryptCost))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
