package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderLen is the size of the little-endian payload length prefix.
const HeaderLen = 4

var (
	ErrShortHeader     = errors.New("frame: short length header")
	ErrTruncated       = errors.New("frame: truncated payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
// A zero MaxPayloadBytes means no limit.
type Limits struct {
	MaxPayloadBytes uint32
}

// DefaultLimits imposes no maximum; the broker is a trusted local component.
func DefaultLimits() Limits {
	return Limits{}
}

func (l Limits) allows(n uint64) bool {
	if n > math.MaxUint32 {
		return false
	}
	return l.MaxPayloadBytes == 0 || n <= uint64(l.MaxPayloadBytes)
}

type flusher interface {
	Flush() error
}

// ReadFrame reads one length-prefixed payload. It never returns a partial payload.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrShortHeader, err)
		}
		return nil, err
	}

	n := DecodeHeader(hdr)
	if !limits.allows(uint64(n)) {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}

	payload := make([]byte, n)
	if n == 0 {
		return payload, nil
	}
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: want %d bytes: %w", ErrTruncated, n, err)
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes header and payload with a single Write, then flushes w if it buffers.
// Its internal copy of payload is zeroed before returning.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if !limits.allows(uint64(len(payload))) {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	hdr := EncodeHeader(uint32(len(payload)))
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	clear(buf)
	if err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

func EncodeHeader(n uint32) [HeaderLen]byte {
	var hdr [HeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], n)
	return hdr
}

func DecodeHeader(hdr [HeaderLen]byte) uint32 {
	return binary.LittleEndian.Uint32(hdr[:])
}
