// Package httpserver runs the dispatcher's HTTP API with validated listen
// addresses, response timeouts sized for delivery retries, and graceful
// shutdown.
package httpserver
