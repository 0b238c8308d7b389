// Package session implements SessionHandler: the per-connection
// Idle/Binding/Uploading state machine that turns parsed protocol.Control
// frames and raw binary WebSocket frames into registry.Registry calls (§4.6).
// Grounded on the teacher's scm/connection.go, which drives one goroutine per
// client connection through an explicit command dispatch loop rather than a
// chain of callbacks - the same "explicit session state" shape this spec
// calls for (DESIGN NOTES §9).
package session

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/launix-de/streamcache/internal/cacheerr"
	"github.com/launix-de/streamcache/internal/protocol"
	"github.com/launix-de/streamcache/internal/registry"
)

// state is a connection's position in the Idle/Binding/Uploading machine of
// §4.6. Binding is transient: CreateStream either succeeds and the handler
// advances straight to uploading, or fails and the handler falls back to
// idle, so it is never observed between two Handle calls.
type state uint8

const (
	idle state = iota
	uploading
)

// Sender abstracts the WebSocket write side the handler needs: a text frame
// for control replies, a binary frame for GET responses. *websocket.Conn
// writes both through WriteMessage with different opcodes, so the caller
// adapts it with a small wrapper type instead of importing gorilla here.
type Sender interface {
	SendText(b []byte) error
	SendBinary(b []byte) error
}

// Handler drives one connection's session state. Not safe for concurrent
// use by multiple goroutines on the same connection - a WebSocket connection
// already has at most one reader goroutine, which is the only caller.
type Handler struct {
	reg  *registry.Registry
	send Sender
	log  zerolog.Logger

	state   state
	boundID string
}

// New constructs a Handler in Idle state for one connection.
func New(reg *registry.Registry, send Sender, log zerolog.Logger) *Handler {
	return &Handler{reg: reg, send: send, log: log, state: idle}
}

// HandleText parses and dispatches one control text frame.
func (h *Handler) HandleText(raw []byte) {
	ctrl, err := protocol.ParseControl(raw)
	if err != nil {
		h.log.Debug().Err(err).Msg("control frame rejected")
		h.sendError(err.Error())
		return
	}

	// ParseControl only ever returns a *Control for Start/Stop/Get; any other
	// type is rejected as cacheerr.ErrUnknownType before reaching here.
	switch ctrl.Verb {
	case protocol.Start:
		h.handleStart(ctrl.StreamID)
	case protocol.Stop:
		h.handleStop(ctrl.StreamID)
	case protocol.Get:
		h.handleGet(ctrl.StreamID, ctrl.Offset, ctrl.Length)
	}
}

// HandleBinary routes a raw binary frame to the bound stream, if any.
// Outside Uploading (no active binding) the frame is dropped silently, per
// §4.6 - a stray or post-STOP binary frame is not a protocol error.
func (h *Handler) HandleBinary(payload []byte) {
	if h.state != uploading {
		h.log.Debug().Msg("binary frame dropped: no active binding")
		return
	}
	if _, err := h.reg.WriteChunk(h.boundID, payload); err != nil {
		h.log.Error().Err(err).Str("stream", h.boundID).Msg("write chunk failed")
		h.sendError(fmt.Sprintf("Failed to write to stream: %s", h.boundID))
	}
}

// Close runs the on-disconnect contract: drop the binding without touching
// the stream's state. A stream left UPLOADING is reclaimed by the GC sweep,
// never by the handler itself (§4.6).
func (h *Handler) Close() {
	h.state = idle
	h.boundID = ""
}

func (h *Handler) handleStart(id string) {
	if h.state == uploading {
		// A connection is bound to at most one streamId at a time (§3); a
		// second START on an already-uploading connection targets a
		// different concern than StreamExists, so it is reported the same
		// way the registry would report it: a failed create.
		h.sendError(fmt.Sprintf("Failed to create stream: %s", id))
		return
	}

	if _, err := h.reg.CreateStream(id); err != nil {
		if errors.Is(err, cacheerr.ErrStreamExists) {
			h.log.Debug().Str("stream", id).Msg("start rejected: stream exists")
		} else {
			h.log.Error().Err(err).Str("stream", id).Msg("create stream failed")
		}
		h.sendError(fmt.Sprintf("Failed to create stream: %s", id))
		return
	}

	h.state = uploading
	h.boundID = id
	h.sendControl(protocol.EncodeStarted(id))
}

func (h *Handler) handleStop(id string) {
	if h.state != uploading || h.boundID != id {
		h.sendError(fmt.Sprintf("Failed to stop stream: %s", id))
		return
	}

	if err := h.reg.FinalizeStream(id); err != nil {
		h.log.Error().Err(err).Str("stream", id).Msg("finalize stream failed")
		h.sendError(fmt.Sprintf("Failed to stop stream: %s", id))
		return
	}

	h.state = idle
	h.boundID = ""
	h.sendControl(protocol.EncodeStopped(id))
}

func (h *Handler) handleGet(id string, offset, length int64) {
	data, err := h.reg.ReadChunk(id, offset, int(length))
	if err != nil {
		h.log.Debug().Err(err).Str("stream", id).Msg("get failed: stream missing")
		h.sendError(fmt.Sprintf("Failed to read from stream: %s", id))
		return
	}

	if len(data) > 0 {
		h.sendBinary(data)
		return
	}

	// Empty read: distinguish end-of-stream (offset at or past totalSize,
	// an expected termination signal) from a genuine read failure.
	ctx, ok := h.reg.GetStream(id)
	if ok && offset >= ctx.TotalSize() {
		h.sendError("No data available")
		return
	}
	h.sendError(fmt.Sprintf("Failed to read from stream: %s", id))
}

func (h *Handler) sendControl(b []byte) {
	if err := h.send.SendText(b); err != nil {
		h.log.Debug().Err(err).Msg("send control frame failed")
	}
}

func (h *Handler) sendBinary(b []byte) {
	if err := h.send.SendBinary(b); err != nil {
		h.log.Debug().Err(err).Msg("send binary frame failed")
	}
}

func (h *Handler) sendError(message string) {
	h.sendControl(protocol.EncodeError(message))
}
