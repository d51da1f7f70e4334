package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingType is wrapped by DecodeError when a frame has no type tag.
var ErrMissingType = errors.New("frame has no type")

const maxRawInError = 256

// DecodeError reports a frame that could not be decoded.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %v", e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder parses inbound frames. Aliased tag spellings are translated to the
// canonical tag before anything else sees them.
type Decoder struct {
	aliases map[string]string
}

// NewDecoder creates a decoder with the given alias table (alias -> canonical).
func NewDecoder(aliases map[string]string) *Decoder {
	m := make(map[string]string, len(aliases))
	for alias, canonical := range aliases {
		m[alias] = canonical
	}
	return &Decoder{aliases: m}
}

// Canonical maps a wire tag to its canonical form.
func (d *Decoder) Canonical(tag string) string {
	if c, ok := d.aliases[tag]; ok {
		return c
	}
	return tag
}

// Decode parses one raw frame.
func (d *Decoder) Decode(raw []byte) (Event, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, &DecodeError{Raw: truncate(raw), Err: err}
	}
	tag := strings.TrimSpace(f.Type)
	if tag == "" {
		return Event{}, &DecodeError{Raw: truncate(raw), Err: ErrMissingType}
	}
	tag = d.Canonical(tag)
	f.Type = tag
	return Event{Tag: tag, Frame: f}, nil
}

func truncate(raw []byte) string {
	if len(raw) > maxRawInError {
		return string(raw[:maxRawInError]) + "..."
	}
	return string(raw)
}

// NewMessage builds the outbound frame for a user turn. Profiling servers
// expect user_answer/answer, the others message/content.
func NewMessage(frameType, text, clientID string) OutboundFrame {
	f := OutboundFrame{Type: frameType, ClientMessageID: clientID}
	if frameType == FrameTypeUserAnswer {
		f.Answer = text
	} else {
		f.Content = text
	}
	return f
}
