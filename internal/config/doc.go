// Package config manages configuration for the docrepo tools.
//
// The config package loads and validates configuration from environment variables.
// All configuration is centralized here to provide a single source of truth.
//
// # Configuration Loading
//
// Configuration is loaded from environment variables:
//
//	cfg, err := config.Load()
//	if err := cfg.Validate(); err != nil {
//	    // every failure is reported at once
//	}
//
// # Configuration Groups
//
//   - DatabaseConfig: document store driver and connection settings
//   - LogConfig: slog level and handler format
//
// # Environment Variables
//
//	DB_DRIVER             - surrealdb, firestore, mongodb or memory (default: surrealdb)
//	DB_HOST               - SurrealDB host (default: localhost)
//	DB_PORT               - SurrealDB port (default: 8000)
//	DB_NAMESPACE          - SurrealDB namespace (default: docrepo)
//	DB_DATABASE           - SurrealDB or MongoDB database (default: main)
//	DB_USER               - SurrealDB username (default: root)
//	DB_PASSWORD           - SurrealDB password (default: root)
//	DB_URI                - MongoDB connection string
//	DB_TIMEOUT            - per-command timeout (default: 10s)
//	FIRESTORE_PROJECT_ID  - Google Cloud project (default: detected)
//	FIRESTORE_DATABASE_ID - Firestore database (default: "(default)")
//	LOG_LEVEL             - debug, info, warn or error (default: info)
//	LOG_FORMAT            - json or text (default: json)
package config
