// Package config provides configuration loading and validation for the relay and recorder.
// It handles YAML-based configuration on top of built-in defaults, applies NEXTGEN_*
// environment overrides and validates every section before use.
package config
