// Package config loads and validates the TOML configuration that drives
// veritect training and evaluation runs.
package config
