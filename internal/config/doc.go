// Package config provides configuration management for the Flowline engine.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use.
package config
