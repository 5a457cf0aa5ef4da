// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the dispatcher configuration: server
// settings, retry and rate limits, circuit breaker thresholds, and the ordered
// list of delivery backends.
package config
