package compaction

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid compaction configuration.
	ErrInvalidConfig = errors.New("invalid compaction configuration")

	// ErrInvalidRange indicates a truncation range that does not fit the transcript.
	ErrInvalidRange = errors.New("invalid truncation range")

	// ErrEmptyTranscript indicates a transcript without its task turn.
	ErrEmptyTranscript = errors.New("transcript has no task turn")

	// ErrIndexOutOfRange indicates a start index beyond the transcript.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnknownKeep indicates an unrecognized keep-fraction policy.
	ErrUnknownKeep = errors.New("unknown keep policy")
)

// CompactionError reports which manager or range operation failed, with the
// values that made it fail.
type CompactionError struct {
	Op  string
	Err error

	// Context holds the offending values, e.g. "range" and "turns" for an
	// invalid truncation range.
	Context map[string]any
}

// Error formats the error as "compaction <op>: <err> (k=v ...)" with context
// keys sorted.
func (e *CompactionError) Error() string {
	var b strings.Builder
	b.WriteString("compaction ")
	b.WriteString(e.Op)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Context) > 0 {
		b.WriteString(" (")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteByte(')')
	}
	return b.String()
}

func (e *CompactionError) Unwrap() error {
	return e.Err
}

// NewCompactionError returns a CompactionError for op without context.
func NewCompactionError(op string, err error) *CompactionError {
	return &CompactionError{Op: op, Err: err}
}

// WithContext records key=value on e and returns e.
func (e *CompactionError) WithContext(key string, value any) *CompactionError {
	if e.Context == nil {
		e.Context = make(map[string]any, 2)
	}
	e.Context[key] = value
	return e
}

// WrapError attributes err to op. It returns nil for a nil err, so callers can
// wrap a possibly nil result such as ctx.Err() directly.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewCompactionError(op, err)
}
