package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported document store drivers.
const (
	DriverSurrealDB = "surrealdb"
	DriverFirestore = "firestore"
	DriverMongoDB   = "mongodb"
	DriverMemory    = "memory"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Log      LogConfig
}

// DatabaseConfig holds document store connection settings
type DatabaseConfig struct {
	Driver    string
	Host      string
	Port      string
	Namespace string
	Database  string
	User      string
	Password  string
	Timeout   time.Duration

	// URI is the MongoDB connection string
	URI string

	// Firestore project and database; an empty project is detected from
	// the credentials
	ProjectID  string
	DatabaseID string
}

// LogConfig holds structured logging settings
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	return &Config{
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", DriverSurrealDB)),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "8000"),
			Namespace:  getEnv("DB_NAMESPACE", "docrepo"),
			Database:   getEnv("DB_DATABASE", "main"),
			User:       getEnv("DB_USER", "root"),
			Password:   getEnv("DB_PASSWORD", "root"),
			Timeout:    getDurationEnv("DB_TIMEOUT", 10*time.Second),
			URI:        getEnv("DB_URI", ""),
			ProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
			DatabaseID: getEnv("FIRESTORE_DATABASE_ID", ""),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}, nil
}

// Validate checks that all required configuration values are present and valid.
// It returns an error describing all validation failures, or nil if valid.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSurrealDB:
		if c.Database.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.Database.Port == "" {
			errs = append(errs, errors.New("DB_PORT is required"))
		}
		if c.Database.Namespace == "" {
			errs = append(errs, errors.New("DB_NAMESPACE is required"))
		}
		if c.Database.Database == "" {
			errs = append(errs, errors.New("DB_DATABASE is required"))
		}
	case DriverMongoDB:
		if c.Database.URI == "" {
			errs = append(errs, errors.New("DB_URI is required for the mongodb driver"))
		}
		if c.Database.Database == "" {
			errs = append(errs, errors.New("DB_DATABASE is required"))
		}
	case DriverFirestore, DriverMemory:
		// Firestore resolves project and credentials from the environment
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be one of %s, %s, %s or %s, got '%s'",
			DriverSurrealDB, DriverFirestore, DriverMongoDB, DriverMemory, c.Database.Driver))
	}

	if c.Database.Timeout <= 0 {
		errs = append(errs, errors.New("DB_TIMEOUT must be positive"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be 'json' or 'text', got '%s'", c.Log.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got '%s'", l.Level)
	}
	return level, nil
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are seconds
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}
