// Package backend defines the delivery capability the dispatcher fails over
// between. A backend accepts a message and either succeeds or returns an
// error; the dispatcher treats every error the same way.
//
// HTTP posts messages to a webhook. AlwaysSucceed, AlwaysFail and FailN are
// deterministic backends for tests and local runs.
package backend
