// Package metrics provides Prometheus metrics for monitoring a node.
//
// Key metrics:
//   - Peer connection counts (active, accepted, rejected)
//   - Inbound messages by type and outbound frames
//   - Broadcast publishes and subscriber lag
//   - Decode errors by kind and accept loop failures
//
// All recording methods are safe on a nil *Metrics, so components can be
// built without a registry.
package metrics
