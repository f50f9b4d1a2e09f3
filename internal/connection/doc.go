// Package connection implements the Connection Handle component.
//
// A Conn owns one duplex byte stream to a peer and moves whole frames over it:
//   - ReadMessage reads exactly one header and one body
//   - WriteMessage writes one complete frame; concurrent writers never interleave
//   - A peer that goes away mid-frame surfaces as ErrConnectionClosed, which
//     callers can tell apart from a decode error on complete bytes
//
// Two transports are provided: plain TCP streams (New, Dial) and WebSocket
// connections carrying one frame per binary message (NewWebSocket, DialWebSocket).
package connection
