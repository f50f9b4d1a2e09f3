package wire

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrMalformedHeader = errors.New("wire: malformed header")
	ErrTruncatedBody   = errors.New("wire: truncated body")
	ErrOversizedBody   = errors.New("wire: oversized body")
	ErrSizeMismatch    = errors.New("wire: body length does not match header size")
)

// MessageType identifies the kind of payload a frame carries.
// Values are wire ordinals and must never be reordered.
type MessageType uint8

const (
	RequestForSubscription     MessageType = iota // 0
	ConfirmRFS                                    // 1
	DenyRFS                                       // 2
	RequestActiveSubscriptions                    // 3
	ReturnActiveSubscriptions                     // 4
	PostBlockchain                                // 5
	RequestBlockchain                             // 6 first message a client must send when the handshake policy is on
	ReturnBlockchain                              // 7
	RequestResource                               // 8

	// NumMessageTypes is the number of defined message types.
	NumMessageTypes = 9
)

var messageTypeNames = [NumMessageTypes]string{
	RequestForSubscription:     "RequestForSubscription",
	ConfirmRFS:                 "ConfirmRFS",
	DenyRFS:                    "DenyRFS",
	RequestActiveSubscriptions: "RequestActiveSubscriptions",
	ReturnActiveSubscriptions:  "ReturnActiveSubscriptions",
	PostBlockchain:             "PostBlockchain",
	RequestBlockchain:          "RequestBlockchain",
	ReturnBlockchain:           "ReturnBlockchain",
	RequestResource:            "RequestResource",
}

// Valid reports whether t is a defined message type.
func (t MessageType) Valid() bool {
	return t < NumMessageTypes
}

// String returns the protocol name of the message type.
func (t MessageType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
	return messageTypeNames[t]
}

// ParseMessageType returns the message type with the given protocol name.
func ParseMessageType(name string) (MessageType, error) {
	for i, n := range messageTypeNames {
		if n == name {
			return MessageType(i), nil
		}
	}
	return 0, fmt.Errorf("wire: unknown message type %q", name)
}

// MessageTypes returns every defined message type in ordinal order.
func MessageTypes() []MessageType {
	out := make([]MessageType, NumMessageTypes)
	for i := range out {
		out[i] = MessageType(i)
	}
	return out
}
