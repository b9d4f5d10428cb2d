package compaction

import (
	"fmt"

	"github.com/youssefsiam38/agentctx/types"
)

// RangeStart is the first index a truncation range may cover. The task turn
// (0) and the first assistant reply (1) are always kept.
const RangeStart = 2

// Keep is the keep-fraction policy for range selection.
type Keep string

const (
	// KeepHalf drops half of the turns not yet covered by a previous range.
	KeepHalf Keep = "half"

	// KeepQuarter keeps a quarter, dropping three quarters.
	KeepQuarter Keep = "quarter"

	// KeepLastTwo drops everything except the last user/assistant pair.
	KeepLastTwo Keep = "lastTwo"

	// KeepNone drops every turn after the first pair.
	KeepNone Keep = "none"
)

// ParseKeep parses a keep policy name.
func ParseKeep(s string) (Keep, error) {
	switch k := Keep(s); k {
	case KeepHalf, KeepQuarter, KeepLastTwo, KeepNone:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKeep, s)
}

// Range is a closed interval [Start, End] of turn indices to drop. End ==
// Start-1 is the empty range.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of turns covered.
func (r Range) Len() int {
	return r.End - r.Start + 1
}

// IsEmpty reports whether the range covers no turns.
func (r Range) IsEmpty() bool {
	return r.Len() == 0
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// validate checks that r can be applied to a transcript of n turns.
func (r Range) validate(n int) error {
	if r.Start < 1 {
		return fmt.Errorf("%w: %s starts at the task turn", ErrInvalidRange, r)
	}
	if r.Len() < 0 {
		return fmt.Errorf("%w: %s has start after end", ErrInvalidRange, r)
	}
	if !r.IsEmpty() && r.End >= n {
		return fmt.Errorf("%w: %s exceeds transcript of %d turns", ErrInvalidRange, r, n)
	}
	return nil
}

// NextTruncationRange selects the next span of turns to drop. With no previous
// range it measures everything after the first pair; otherwise it measures the
// turns after previous.End and extends the previous range, so successive ranges
// are cumulative and never shrink. An empty previous range counts as none.
//
// The removed count is always a whole number of pairs, and End is moved back
// when needed so that it lands on an assistant turn, leaving a user turn after
// the span. Transcripts too short to drop a pair yield the empty range [2,1].
func NextTruncationRange(turns []*types.Turn, previous *Range, keep Keep) (Range, error) {
	if len(turns) == 0 {
		return Range{}, NewCompactionError("NextTruncationRange", ErrEmptyTranscript)
	}

	start := RangeStart
	startOfRest := RangeStart
	floor := RangeStart - 1
	if previous != nil {
		if err := previous.validate(len(turns)); err != nil {
			return Range{}, NewCompactionError("NextTruncationRange", err).
				WithContext("previous", previous.String())
		}
	}
	if previous != nil && !previous.IsEmpty() {
		start = previous.Start
		startOfRest = max(previous.End+1, RangeStart)
		floor = max(previous.End, floor)
	}

	remaining := max(len(turns)-startOfRest, 0)

	var toRemove int
	switch keep {
	case KeepNone:
		toRemove = remaining
	case KeepLastTwo:
		toRemove = max(remaining-2, 0)
	case KeepHalf:
		toRemove = remaining / 4 * 2
	case KeepQuarter:
		toRemove = remaining * 3 / 4 / 2 * 2
	default:
		return Range{}, NewCompactionError("NextTruncationRange", fmt.Errorf("%w: %q", ErrUnknownKeep, keep))
	}

	end := startOfRest + toRemove - 1
	if end > floor && turns[end].Role != types.RoleAssistant {
		end--
	}
	end = max(end, floor)

	return Range{Start: start, End: end}, nil
}
