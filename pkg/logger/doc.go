// Package logger provides structured logging with configurable log levels.
// It wraps log/slog: text output in dev and staging, JSON in prod, with the
// service and environment attached to every record.
package logger
