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

	// MongoDB document store
	MongoURI      string
	MongoDatabase string

	// Local UI preferences (SQLite)
	PrefsDBPath string

	// AMQP change events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Auth
	JWTSecret      string
	AccessTokenTTL time.Duration
	GoogleClientID string

	// Media uploads
	CloudinaryCloudName string
	CloudinaryPreset    string

	// Email alerts worker
	EmailAPIKey  string
	EmailBaseURL string
	EmailFrom    string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "khata"),

		PrefsDBPath: getEnv("PREFS_DB_PATH", "./data/prefs.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "khata"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "change_events"),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryPreset:    getEnv("CLOUDINARY_UPLOAD_PRESET", "expenses_manager"),

		EmailAPIKey:  getEnv("EMAIL_API_KEY", ""),
		EmailBaseURL: getEnv("EMAIL_BASE_URL", "https://api.resend.com"),
		EmailFrom:    getEnv("EMAIL_FROM", ""),
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.MongoURI == "" {
		errors = append(errors, "Mongo URI cannot be empty")
	} else if parsed, err := url.Parse(c.MongoURI); err != nil {
		errors = append(errors, fmt.Sprintf("invalid Mongo URI '%s': %v", c.MongoURI, err))
	} else if parsed.Scheme != "mongodb" && parsed.Scheme != "mongodb+srv" {
		errors = append(errors, fmt.Sprintf("invalid Mongo URI scheme '%s': must be 'mongodb' or 'mongodb+srv'", parsed.Scheme))
	}
	if c.MongoDatabase == "" {
		errors = append(errors, "Mongo database name cannot be empty")
	}

	if c.PrefsDBPath == "" {
		errors = append(errors, "preferences database path cannot be empty")
	} else {
		dir := filepath.Dir(c.PrefsDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create preferences directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsed, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET must be provided")
	} else if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET must be at least 32 characters")
	}
	if c.AccessTokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid access token TTL %v: must be at least 1 minute", c.AccessTokenTTL))
	}

	if c.CloudinaryCloudName != "" && c.CloudinaryPreset == "" {
		errors = append(errors, "Cloudinary upload preset cannot be empty when a cloud name is configured")
	}

	if c.EmailAPIKey != "" && c.EmailFrom == "" {
		errors = append(errors, "EMAIL_FROM must be provided when EMAIL_API_KEY is set")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
