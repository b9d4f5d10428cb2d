package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BlockType represents the type of content block
type BlockType string

const (
	// BlockText represents text content
	BlockText BlockType = "text"

	// BlockToolUse represents a tool invocation by the assistant
	BlockToolUse BlockType = "tool_use"

	// BlockToolResult represents the answer to a tool invocation
	BlockToolResult BlockType = "tool_result"
)

// Block is one content unit within a turn. Only the fields belonging to
// Type are meaningful; the rest stay zero.
type Block struct {
	Type BlockType

	// Text content
	Text string

	// Tool use content
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage

	// Tool result content. Content holds text blocks only.
	ToolResultForUseID string
	Content            []Block
	IsError            bool
}

// NewTextBlock creates a text block.
func NewTextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// NewToolUseBlock creates a tool_use block. A nil input is sent as an empty object.
func NewToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// NewToolResultBlock creates a tool_result block answering the tool_use with the given id.
func NewToolResultBlock(toolUseID, content string, isError bool) Block {
	b := Block{Type: BlockToolResult, ToolResultForUseID: toolUseID, IsError: isError}
	if content != "" {
		b.Content = []Block{NewTextBlock(content)}
	}
	return b
}

// Validate checks that the block carries the fields its type requires.
func (b Block) Validate() error {
	switch b.Type {
	case BlockText:
		return nil
	case BlockToolUse:
		if b.ToolUseID == "" {
			return fmt.Errorf("tool_use block without id")
		}
		if b.ToolName == "" {
			return fmt.Errorf("tool_use block %s without name", b.ToolUseID)
		}
		return nil
	case BlockToolResult:
		if b.ToolResultForUseID == "" {
			return fmt.Errorf("tool_result block without tool_use_id")
		}
		for i, inner := range b.Content {
			if inner.Type != BlockText {
				return fmt.Errorf("tool_result %s: content block %d has type %q, want text",
					b.ToolResultForUseID, i, inner.Type)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown block type %q", b.Type)
	}
}

// ResultText joins the text of a tool_result block.
func (b Block) ResultText() string {
	if len(b.Content) == 1 {
		return b.Content[0].Text
	}
	parts := make([]string, 0, len(b.Content))
	for _, inner := range b.Content {
		parts = append(parts, inner.Text)
	}
	return strings.Join(parts, "\n")
}

// CharCount returns the number of characters the block contributes to a request.
func (b Block) CharCount() int {
	switch b.Type {
	case BlockText:
		return len(b.Text)
	case BlockToolUse:
		return len(b.ToolName) + len(b.ToolInput)
	case BlockToolResult:
		total := 0
		for _, inner := range b.Content {
			total += len(inner.Text)
		}
		return total
	}
	return 0
}

// clone returns a copy that shares no slices with b.
func (b Block) clone() Block {
	out := b
	if b.ToolInput != nil {
		out.ToolInput = append(json.RawMessage(nil), b.ToolInput...)
	}
	if b.Content != nil {
		out.Content = make([]Block, len(b.Content))
		copy(out.Content, b.Content)
	}
	return out
}

// wireBlock is the Anthropic message format of a block.
type wireBlock struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalJSON encodes the block in the Anthropic message format.
func (b Block) MarshalJSON() ([]byte, error) {
	w := wireBlock{Type: b.Type}
	switch b.Type {
	case BlockText:
		// Text must be present even when empty.
		return json.Marshal(struct {
			Type BlockType `json:"type"`
			Text string    `json:"text"`
		}{b.Type, b.Text})
	case BlockToolUse:
		w.ID = b.ToolUseID
		w.Name = b.ToolName
		w.Input = b.ToolInput
		if len(w.Input) == 0 {
			w.Input = json.RawMessage("{}")
		}
	case BlockToolResult:
		w.ToolUseID = b.ToolResultForUseID
		w.IsError = b.IsError
		if len(b.Content) > 0 {
			raw, err := json.Marshal(b.Content)
			if err != nil {
				return nil, err
			}
			w.Content = raw
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a block in the Anthropic message format. A tool_result
// whose content is a plain string becomes a single text block.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*b = Block{Type: w.Type}
	switch w.Type {
	case BlockText:
		b.Text = w.Text
	case BlockToolUse:
		b.ToolUseID = w.ID
		b.ToolName = w.Name
		b.ToolInput = w.Input
	case BlockToolResult:
		b.ToolResultForUseID = w.ToolUseID
		b.IsError = w.IsError
		content, err := decodeContent(w.Content)
		if err != nil {
			return fmt.Errorf("tool_result %s: %w", w.ToolUseID, err)
		}
		b.Content = content
	default:
		return fmt.Errorf("unknown block type %q", w.Type)
	}
	return nil
}

// decodeContent accepts either a JSON string or an array of blocks.
func decodeContent(raw json.RawMessage) ([]Block, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		return []Block{NewTextBlock(text)}, nil
	}
	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}
