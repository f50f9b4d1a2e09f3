// Package keepalive implements the periodic announcement component.
//
// The keepalive loop:
//   - Republishes the node's announcement on a fixed interval
//   - Goes through the server's Publish hook, so every peer receives it
//   - Counts publishes, receivers reached and failures
package keepalive
