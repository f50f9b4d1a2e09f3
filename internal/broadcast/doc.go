// Package broadcast implements the fan-out channel shared by all peer sessions.
//
// The Channel keeps the last N published values in a ring. Each subscriber
// holds its own cursor into the ring:
//   - Publish never blocks; when the ring is full the oldest value is evicted
//   - A new subscriber starts at "now" and never sees older values
//   - A subscriber that falls more than N values behind gets a LaggedError
//     telling it how many values it missed, then resumes at the oldest
//     retained value
package broadcast
