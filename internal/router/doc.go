// Package router implements the dispatch hook for decoded peer messages.
//
// The Router:
//   - Holds one handler slot per message type, indexed by wire ordinal
//   - Drops messages whose type has no handler (counted, never an error)
//   - Rejects ordinals outside the message type table
//   - Traces each dispatch with an OpenTelemetry span (global provider
//     unless WithTracerProvider is given)
//
// Handlers own all payload semantics (subscriptions, ledger, resources).
// The router only guarantees that every decoded message reaches exactly one
// defined action.
package router
