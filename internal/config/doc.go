// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which is how the chat token is normally supplied (token: ${PLUMBLINE_TOKEN}).
package config
