// Package ratelimit caps successful deliveries per rolling time window.
// Only sends that actually succeeded consume budget; failed attempts do not.
package ratelimit
