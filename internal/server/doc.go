// Package server accepts peer connections and joins each one to the node's
// broadcast channel.
//
// Every connection becomes a session with its own ID, subscription and
// private inbox:
//
//	Accepted → AwaitingHandshake (optional) → Active → Closed
//
// While active, a reader goroutine decodes frames and hands them to a
// router.Handler, and a writer goroutine forwards broadcasts and direct
// messages to the peer. The two run under an errgroup, so whichever fails
// first tears the session down. Sessions never share locks over raw streams;
// the broadcast ring is the only state they have in common.
//
// Server.Publish is the outbound hook for other components. Server.SendTo
// addresses a single session.
package server
