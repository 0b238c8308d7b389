// Package protocol implements FrameCodec: the control-frame JSON parser and
// the reply encoders for the three control verbs of §4.5. The codec is
// stateless - every function is pure given its input bytes. Grounded on the
// teacher's scm/network.go, which already speaks a hand-rolled JSON
// sub-protocol over a WebSocket connection (query/header key-value pairs
// marshaled with encoding/json), just without a typed envelope; here the
// envelope is made explicit and presence-checked.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/launix-de/streamcache/internal/cacheerr"
)

// Verb identifies a parsed control frame's type, normalized to uppercase.
type Verb string

const (
	Start   Verb = "START"
	Stop    Verb = "STOP"
	Get     Verb = "GET"
	Started Verb = "STARTED"
	Stopped Verb = "STOPPED"
	ErrVerb Verb = "ERROR"
)

// Control is a parsed inbound control frame (§4.5).
type Control struct {
	Verb     Verb
	StreamID string
	Offset   int64
	Length   int64
}

// outbound is the wire shape of every server->client control reply. Fields
// are omitted when empty so STARTED/STOPPED don't carry a stray
// "message":"" and ERROR doesn't carry a stray "streamId":"".
type outbound struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ParseControl parses an inbound control JSON text frame. Malformed JSON,
// a missing required field, or an unrecognized type each return one of
// cacheerr.ErrInvalidJSON / ErrMissingField / ErrUnknownType, matching the
// exact failure taxonomy of §4.5/§7.
func ParseControl(raw []byte) (*Control, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, cacheerr.ErrInvalidJSON
	}

	typ, err := requireString(fields, "type")
	if err != nil {
		return nil, err
	}
	verb := Verb(strings.ToUpper(strings.TrimSpace(typ)))

	ctrl := &Control{Verb: verb}
	switch verb {
	case Start, Stop:
		sid, err := requireString(fields, "streamId")
		if err != nil {
			return nil, err
		}
		ctrl.StreamID = sid
	case Get:
		sid, err := requireString(fields, "streamId")
		if err != nil {
			return nil, err
		}
		offset, err := requireInt(fields, "offset")
		if err != nil {
			return nil, err
		}
		length, err := requireInt(fields, "length")
		if err != nil {
			return nil, err
		}
		if offset < 0 || length <= 0 {
			return nil, cacheerr.ErrBounds
		}
		ctrl.StreamID = sid
		ctrl.Offset = offset
		ctrl.Length = length
	default:
		return nil, fmt.Errorf("%w: %s", cacheerr.ErrUnknownType, typ)
	}
	return ctrl, nil
}

func requireString(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%w %s", cacheerr.ErrMissingField, name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w %s", cacheerr.ErrMissingField, name)
	}
	return s, nil
}

func requireInt(fields map[string]json.RawMessage, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%w %s", cacheerr.ErrMissingField, name)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w %s", cacheerr.ErrMissingField, name)
	}
	return n, nil
}

// EncodeStarted builds the STARTED reply for a successful bind (§4.5).
func EncodeStarted(streamID string) []byte {
	return mustMarshal(outbound{Type: string(Started), StreamID: streamID, Message: "Stream started successfully"})
}

// EncodeStopped builds the STOPPED reply for a successful finalize (§4.5).
func EncodeStopped(streamID string) []byte {
	return mustMarshal(outbound{Type: string(Stopped), StreamID: streamID, Message: "Stream finalized successfully"})
}

// EncodeError builds an ERROR reply carrying only a message, per §4.5's
// "Server -> client: ERROR{type,message}".
func EncodeError(message string) []byte {
	return mustMarshal(outbound{Type: string(ErrVerb), Message: message})
}

func mustMarshal(v outbound) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// outbound is a fixed, always-marshalable shape; a failure here
		// would mean encoding/json itself is broken.
		panic(err)
	}
	return b
}
