package s7

import (
	"fmt"

	"s7link/s7addr"
	"s7link/s7proto"
)

// S7Error is the protocol-level error type returned by s7proto, re-exported
// here so callers of this package don't need to import s7proto directly to
// type-assert on it.
type S7Error = s7proto.S7Error

// TransportError wraps a connection-level failure (TCP, COTP, TPKT) as
// distinct from an S7Error, which signals a protocol-level rejection from a
// PLC that is still connected and responding. Callers that want to decide
// whether to reconnect can type-assert for TransportError rather than
// string-matching the error text.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("s7: transport error: %v", e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// InvalidWordLenError is returned when ReadArea/WriteArea is called with a
// WordLen this client has no address mapping for.
type InvalidWordLenError struct {
	WordLen s7addr.WordLen
}

func (e InvalidWordLenError) Error() string {
	return fmt.Sprintf("s7: invalid word length: 0x%02X", byte(e.WordLen))
}

// SizeOverPduError is returned when a read or write would exceed the
// negotiated PDU length once protocol overhead is accounted for.
type SizeOverPduError struct {
	Requested int
	Limit     int
}

func (e SizeOverPduError) Error() string {
	return fmt.Sprintf("s7: requested size %d bytes exceeds PDU limit of %d bytes", e.Requested, e.Limit)
}
