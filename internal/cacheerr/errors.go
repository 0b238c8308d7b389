// Package cacheerr defines the sentinel error kinds shared by the mmap,
// stream and session layers, matching the abstract error table in §7 of
// the streaming cache specification.
package cacheerr

import "errors"

var (
	// ErrInvalidJSON marks a control frame that failed to parse as JSON. Its
	// text is the exact wire literal §4.5 mandates for the ERROR reply.
	ErrInvalidJSON = errors.New("Invalid JSON format")
	// ErrMissingField marks a control frame missing a required field. Callers
	// format it as fmt.Errorf("%w %s", ErrMissingField, name) to produce the
	// exact wire literal "Missing <field>" (§4.5).
	ErrMissingField = errors.New("Missing")
	// ErrUnknownType marks a control frame whose type is not recognized.
	// Callers format it as fmt.Errorf("%w: %s", ErrUnknownType, typ) to
	// produce the exact wire literal "Unknown message type: <x>" (§4.5).
	ErrUnknownType = errors.New("Unknown message type")

	// ErrStreamExists is returned by createStream when the id is already registered.
	ErrStreamExists = errors.New("stream already exists")
	// ErrStreamMissing is returned when an operation references an unknown stream id.
	ErrStreamMissing = errors.New("stream not found")
	// ErrInvalidState is returned when an operation is illegal for the stream's current status.
	ErrInvalidState = errors.New("invalid stream state")
	// ErrInvalidStreamID is returned when a streamId is not safe to use as a file name component.
	ErrInvalidStreamID = errors.New("invalid stream id")

	// ErrBounds is returned when an offset/length pair exceeds MaxCacheSize.
	ErrBounds = errors.New("offset or length out of bounds")
	// ErrBatchLimit is returned when a batch operation exceeds BatchOperationLimit.
	ErrBatchLimit = errors.New("batch operation limit exceeded")
	// ErrInvalidSize is returned by create() when the requested size violates bounds.
	ErrInvalidSize = errors.New("invalid size")
	// ErrNotFound is returned by open() when the backing file does not exist.
	ErrNotFound = errors.New("backing file not found")

	// ErrIO wraps an OS-level failure (map/read/write/truncate). Use errors.Is
	// against ErrIO after wrapping the underlying cause with %w.
	ErrIO = errors.New("io failure")

	// ErrEndOfStream marks a GET whose offset is at or past totalSize — an
	// expected termination signal, not a failure.
	ErrEndOfStream = errors.New("no data available")

	// ErrClosed is returned by any operation on a SegmentedMmapFile after close().
	ErrClosed = errors.New("mmap file closed")
)
