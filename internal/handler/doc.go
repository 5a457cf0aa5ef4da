// Package handler exposes the dispatch engine over HTTP: submitting
// messages, reading delivery status, and inspecting breakers and metrics.
package handler
