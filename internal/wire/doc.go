// Package wire implements the node's binary frame format.
//
// A frame is a fixed 8-byte header followed by the raw message body:
//
//	┌──────────────┬──────────────────────────┬────────────────────┐
//	│ Message Type │ Message Size             │ Reserved           │
//	│ (1 byte)     │ (4 bytes, big-endian)    │ (3 bytes, zero)    │
//	└──────────────┴──────────────────────────┴────────────────────┘
//	│                                                              │
//	│  Body (Message Size bytes, no length prefix or type tag)     │
//	│                                                              │
//	└──────────────────────────────────────────────────────────────┘
//
// The header layout and the message type ordinals are part of the protocol.
// Changing either requires a protocol version bump.
//
// Everything in this package is pure: no I/O, no shared state.
package wire
