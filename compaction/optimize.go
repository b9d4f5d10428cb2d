package compaction

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/youssefsiam38/agentctx/types"
)

// DuplicateFileReadNotice replaces the body of a stale file restatement.
const DuplicateFileReadNotice = "[[NOTE] This file read has been removed to save space in the context window. Refer to the latest file read for the most up to date version of this file.]"

// IndexSet is a set of turn indices.
type IndexSet map[int]struct{}

// Add inserts i.
func (s IndexSet) Add(i int) {
	s[i] = struct{}{}
}

// Has reports whether i is in the set.
func (s IndexSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Sorted returns the indices in ascending order.
func (s IndexSet) Sorted() []int {
	return slices.Sorted(maps.Keys(s))
}

// Edit records one elided file restatement.
type Edit struct {
	// Turn is the index of the edited turn.
	Turn int `json:"turn"`

	// Block is the index of the edited block within the turn.
	Block int `json:"block"`

	// Inner is the index of the text block inside a tool_result, or -1 when
	// Block itself is the text block.
	Inner int `json:"inner"`

	Key  ResourceKey `json:"key"`
	Kind MarkerKind  `json:"kind"`

	// CharsSaved is the length difference between the old and new text. It can
	// be negative for bodies shorter than the notice.
	CharsSaved int `json:"charsSaved"`

	Timestamp time.Time `json:"timestamp"`
}

// Optimizer runs the duplicate-content pass and keeps a log of its edits.
type Optimizer struct {
	edits []Edit
}

// NewOptimizer creates an Optimizer with an empty edit log.
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

// Edits returns the edits made so far, oldest first.
func (o *Optimizer) Edits() []Edit {
	return slices.Clone(o.edits)
}

// ApplyContextOptimizations elides stale file restatements in the user turns
// from startFrom onward. Only the latest turn restating a resource keeps it;
// the marker bodies in every earlier turn are replaced with
// DuplicateFileReadNotice, in place. A negative startFrom is treated as 0.
//
// It returns whether anything changed and the indices of the edited turns.
func ApplyContextOptimizations(turns []*types.Turn, startFrom int, ts time.Time) (bool, IndexSet) {
	changed, indices, _ := NewOptimizer().Optimize(turns, max(startFrom, 0), ts)
	return changed, indices
}

// location addresses one text inside a turn.
type location struct {
	turn, block, inner int
}

type occurrence struct {
	loc    location
	marker Marker
}

// Optimize is ApplyContextOptimizations with the edits appended to the log. A
// negative startFrom is an error.
func (o *Optimizer) Optimize(turns []*types.Turn, startFrom int, ts time.Time) (bool, IndexSet, error) {
	if startFrom < 0 {
		return false, IndexSet{}, NewCompactionError("Optimize",
			fmt.Errorf("%w: start index %d", ErrIndexOutOfRange, startFrom))
	}
	if startFrom >= len(turns) {
		return false, IndexSet{}, nil
	}

	var occurrences []occurrence
	latest := make(map[ResourceKey]int)

	for i := startFrom; i < len(turns); i++ {
		t := turns[i]
		if t == nil || t.Role != types.RoleUser {
			continue
		}
		forEachText(t, func(loc location, text string) {
			loc.turn = i
			for _, m := range ParseMarkers(text) {
				if !m.Elidable() || m.Elided(text) {
					continue
				}
				occurrences = append(occurrences, occurrence{loc: loc, marker: m})
				latest[m.Key] = i
			}
		})
	}

	// Markers are replaced back to front so earlier offsets in the same text stay valid.
	stale := make(map[location][]Marker)
	var order []location
	for _, occ := range occurrences {
		if occ.loc.turn >= latest[occ.marker.Key] {
			continue
		}
		if _, ok := stale[occ.loc]; !ok {
			order = append(order, occ.loc)
		}
		stale[occ.loc] = append(stale[occ.loc], occ.marker)
	}

	indices := IndexSet{}
	for _, loc := range order {
		text := textAt(turns, loc)
		markers := stale[loc]
		for k := len(markers) - 1; k >= 0; k-- {
			m := markers[k]
			replaced := elide(text, m)
			o.edits = append(o.edits, Edit{
				Turn:       loc.turn,
				Block:      loc.block,
				Inner:      loc.inner,
				Key:        m.Key,
				Kind:       m.Kind,
				CharsSaved: len(text) - len(replaced),
				Timestamp:  ts,
			})
			text = replaced
		}
		setTextAt(turns, loc, text)
		indices.Add(loc.turn)
	}

	return len(indices) > 0, indices, nil
}

// editTarget is what an Edit elided at its location.
type editTarget struct {
	key  ResourceKey
	kind MarkerKind
}

// ReplayEdits elides again, in place, exactly the restatements recorded in
// edits. Each edit names a location and the key and kind of the marker it
// elided there; nothing else in turns is touched. Edits whose location no
// longer holds a text, or no longer holds such a marker, are skipped. It
// returns the indices of the turns it changed.
func ReplayEdits(turns []*types.Turn, edits []Edit) IndexSet {
	targets := make(map[location]map[editTarget]struct{})
	var order []location
	for _, e := range edits {
		loc := location{turn: e.Turn, block: e.Block, inner: e.Inner}
		if !hasText(turns, loc) {
			continue
		}
		if _, ok := targets[loc]; !ok {
			targets[loc] = make(map[editTarget]struct{})
			order = append(order, loc)
		}
		targets[loc][editTarget{key: e.Key, kind: e.Kind}] = struct{}{}
	}

	indices := IndexSet{}
	for _, loc := range order {
		text := textAt(turns, loc)
		markers := ParseMarkers(text)
		replaced := text
		for k := len(markers) - 1; k >= 0; k-- {
			m := markers[k]
			if _, ok := targets[loc][editTarget{key: m.Key, kind: m.Kind}]; !ok {
				continue
			}
			if !m.Elidable() || m.Elided(text) {
				continue
			}
			replaced = elide(replaced, m)
		}
		if replaced != text {
			setTextAt(turns, loc, replaced)
			indices.Add(loc.turn)
		}
	}
	return indices
}

// hasText reports whether loc addresses a text in a user turn of turns.
func hasText(turns []*types.Turn, loc location) bool {
	if loc.turn < 0 || loc.turn >= len(turns) {
		return false
	}
	t := turns[loc.turn]
	if t == nil || t.Role != types.RoleUser || loc.block < 0 || loc.block >= len(t.Content) {
		return false
	}
	b := t.Content[loc.block]
	if loc.inner < 0 {
		return b.Type == types.BlockText
	}
	return b.Type == types.BlockToolResult && loc.inner < len(b.Content) &&
		b.Content[loc.inner].Type == types.BlockText
}

// elide replaces the body of m in text with the duplicate notice.
func elide(text string, m Marker) string {
	body := "\n" + DuplicateFileReadNotice + "\n"
	if m.Kind == MarkerReadFile {
		body = DuplicateFileReadNotice
	}
	return text[:m.BodyStart] + body + text[m.BodyEnd:]
}

// forEachText calls fn for every text a turn carries: top-level text blocks
// and the text blocks inside tool results.
func forEachText(t *types.Turn, fn func(loc location, text string)) {
	for j, b := range t.Content {
		switch b.Type {
		case types.BlockText:
			fn(location{block: j, inner: -1}, b.Text)
		case types.BlockToolResult:
			for k, inner := range b.Content {
				if inner.Type == types.BlockText {
					fn(location{block: j, inner: k}, inner.Text)
				}
			}
		}
	}
}

func textAt(turns []*types.Turn, loc location) string {
	b := &turns[loc.turn].Content[loc.block]
	if loc.inner < 0 {
		return b.Text
	}
	return b.Content[loc.inner].Text
}

func setTextAt(turns []*types.Turn, loc location, text string) {
	b := &turns[loc.turn].Content[loc.block]
	if loc.inner < 0 {
		b.Text = text
		return
	}
	b.Content[loc.inner].Text = text
}

// LiveChars counts the characters of the turns a request would still carry
// with r removed: everything before r.Start and after r.End.
func LiveChars(turns []*types.Turn, r *Range) int {
	total := 0
	for i, t := range turns {
		if r != nil && !r.IsEmpty() && i >= r.Start && i <= r.End {
			continue
		}
		if t != nil {
			total += t.CharCount()
		}
	}
	return total
}

// SavingsFraction returns the share of before that after no longer carries.
func SavingsFraction(before, after int) float64 {
	if before <= 0 {
		return 0
	}
	return float64(before-after) / float64(before)
}
