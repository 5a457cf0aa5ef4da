// Package circuitbreaker implements per-backend circuit breakers for delivery failover.
//
// A breaker stops the dispatcher from routing messages to a backend that keeps
// failing. It has three states:
//
//   - CLOSED: Normal operation, sends pass through
//   - OPEN: Backend failing, skipped until the cooldown has passed
//   - HALF-OPEN: One probe send allowed to test recovery
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry([]string{"primary", "fallback"}, 3, time.Minute)
//	cb := registry.At(0)
//	if cb.CanRequest() {
//	    // Send...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
