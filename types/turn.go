// Package types defines the transcript model shared by the compaction,
// storage and conversion packages.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Role represents the turn role
type Role string

const (
	// RoleUser represents a user turn (task text, tool results)
	RoleUser Role = "user"

	// RoleAssistant represents an assistant turn
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation. Index 0 of a transcript is the
// task description and is never removed by compaction.
type Turn struct {
	ID      string
	Role    Role
	Content []Block
}

// NewTurn creates a turn with a fresh ID.
func NewTurn(role Role, blocks ...Block) *Turn {
	return &Turn{
		ID:      uuid.NewString(),
		Role:    role,
		Content: blocks,
	}
}

// UserText creates a user turn holding a single text block.
func UserText(text string) *Turn {
	return NewTurn(RoleUser, NewTextBlock(text))
}

// AssistantText creates an assistant turn holding a single text block.
func AssistantText(text string) *Turn {
	return NewTurn(RoleAssistant, NewTextBlock(text))
}

// Validate checks the role and every block of the turn.
func (t *Turn) Validate() error {
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return fmt.Errorf("turn %s: unknown role %q", t.ID, t.Role)
	}
	for i, b := range t.Content {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("turn %s block %d: %w", t.ID, i, err)
		}
	}
	return nil
}

// ToolUseIDs returns the correlation ids of the tool_use blocks in the turn.
func (t *Turn) ToolUseIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, b := range t.Content {
		if b.Type == BlockToolUse {
			ids[b.ToolUseID] = struct{}{}
		}
	}
	return ids
}

// ToolResultIDs returns the correlation ids answered by the tool_result blocks in the turn.
func (t *Turn) ToolResultIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, b := range t.Content {
		if b.Type == BlockToolResult {
			ids[b.ToolResultForUseID] = struct{}{}
		}
	}
	return ids
}

// CharCount returns the number of content characters in the turn.
func (t *Turn) CharCount() int {
	total := 0
	for _, b := range t.Content {
		total += b.CharCount()
	}
	return total
}

// Clone returns a deep copy of the turn.
func (t *Turn) Clone() *Turn {
	out := &Turn{ID: t.ID, Role: t.Role}
	if t.Content != nil {
		out.Content = make([]Block, len(t.Content))
		for i, b := range t.Content {
			out.Content[i] = b.clone()
		}
	}
	return out
}

type wireTurn struct {
	ID      string          `json:"id,omitempty"`
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON encodes the turn with its content as a block array.
func (t Turn) MarshalJSON() ([]byte, error) {
	content := t.Content
	if content == nil {
		content = []Block{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireTurn{ID: t.ID, Role: t.Role, Content: raw})
}

// UnmarshalJSON accepts content as either a plain string or a block array.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var w wireTurn
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	content, err := decodeContent(w.Content)
	if err != nil {
		return fmt.Errorf("turn %s: %w", w.ID, err)
	}
	*t = Turn{ID: w.ID, Role: w.Role, Content: content}
	if t.Content == nil {
		t.Content = []Block{}
	}
	return nil
}
