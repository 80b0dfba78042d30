package protocol

import "errors"

var (
	ErrTransport = errors.New("protocol: transport error")
	ErrEncoding  = errors.New("protocol: encoding error")
	ErrDecoding  = errors.New("protocol: decoding error")

	ErrUnknownType    = errors.New("protocol: unknown message type")
	ErrMissingField   = errors.New("protocol: missing field")
	ErrInvalidEnum    = errors.New("protocol: invalid enum value")
	ErrUnexpectedKind = errors.New("protocol: unexpected message kind")
)

// IsFatal reports whether err leaves the stream desynchronized or closed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrEncoding) || errors.Is(err, ErrDecoding)
}
