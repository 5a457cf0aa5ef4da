// Package monitor periodically reports circuit breaker state so that open
// breakers stay visible in logs and metrics while no traffic flows.
package monitor
