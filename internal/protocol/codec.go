package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/greeter/internal/protocol/frame"
)

// WriteMessage serializes v to JSON and writes it as one frame. The encoded
// payload is zeroed once written, since it may carry a password.
func WriteMessage(w io.Writer, v any, limits frame.Limits) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	err = frame.WriteFrame(w, payload, limits)
	clear(payload)
	if err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) {
			return fmt.Errorf("%w: %w", ErrEncoding, err)
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// ReadMessage reads one frame and decodes its JSON payload into v.
func ReadMessage(r io.Reader, v any, limits frame.Limits) error {
	payload, err := frame.ReadFrame(r, limits)
	if err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) {
			return fmt.Errorf("%w: %w", ErrDecoding, err)
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return nil
}

// Codec frames greetd messages over one stream. It keeps no state between calls.
type Codec struct {
	rw     io.ReadWriter
	limits frame.Limits
}

func NewCodec(rw io.ReadWriter, limits frame.Limits) *Codec {
	return &Codec{rw: rw, limits: limits}
}

func (c *Codec) WriteRequest(req Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return WriteMessage(c.rw, req, c.limits)
}

func (c *Codec) ReadResponse() (Response, error) {
	var resp Response
	if err := ReadMessage(c.rw, &resp, c.limits); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (c *Codec) WriteResponse(resp Response) error {
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return WriteMessage(c.rw, resp, c.limits)
}

func (c *Codec) ReadRequest() (Request, error) {
	var req Request
	if err := ReadMessage(c.rw, &req, c.limits); err != nil {
		return Request{}, err
	}
	return req, nil
}
