// Package anthropic converts transcripts to and from the Anthropic SDK types so
// a compacted transcript can be sent with client.Messages.New.
package anthropic

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/agentctx/types"
)

// ToMessageParams converts turns to Anthropic message parameters.
func ToMessageParams(turns []*types.Turn) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(turns))

	for _, turn := range turns {
		contentBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Content))
		for _, block := range turn.Content {
			contentBlocks = append(contentBlocks, convertBlock(block))
		}

		// The API rejects empty content; repaired turns can end up empty.
		if len(contentBlocks) == 0 {
			contentBlocks = append(contentBlocks, anthropic.NewTextBlock(emptyTurnText))
		}

		params = append(params, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(turn.Role),
			Content: contentBlocks,
		})
	}

	return params
}

// emptyTurnText stands in for a turn whose blocks were all removed.
const emptyTurnText = "(content removed)"

// convertBlock converts a single content block
func convertBlock(block types.Block) anthropic.ContentBlockParamUnion {
	switch block.Type {
	case types.BlockText:
		return anthropic.NewTextBlock(block.Text)

	case types.BlockToolUse:
		var input any
		if len(block.ToolInput) > 0 {
			_ = json.Unmarshal(block.ToolInput, &input)
		}
		// Ensure input is a valid object (API requires a dictionary, not null)
		if input == nil {
			input = map[string]any{}
		}
		return anthropic.NewToolUseBlock(block.ToolUseID, input, block.ToolName)

	case types.BlockToolResult:
		param := anthropic.NewToolResultBlock(block.ToolResultForUseID, "", block.IsError)
		content := make([]anthropic.ToolResultBlockParamContentUnion, 0, len(block.Content))
		for _, inner := range block.Content {
			content = append(content, anthropic.ToolResultBlockParamContentUnion{
				OfText: &anthropic.TextBlockParam{Text: inner.Text},
			})
		}
		param.OfToolResult.Content = content
		return param
	}

	// Fallback to empty text block
	return anthropic.NewTextBlock("")
}

// FromMessage converts an Anthropic response to an assistant turn. Block types
// other than text and tool_use are dropped.
func FromMessage(msg *anthropic.Message) *types.Turn {
	blocks := make([]types.Block, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, types.NewTextBlock(b.Text))
		case anthropic.ToolUseBlock:
			input := append(json.RawMessage(nil), b.Input...)
			blocks = append(blocks, types.NewToolUseBlock(b.ID, b.Name, input))
		}
	}
	return types.NewTurn(types.RoleAssistant, blocks...)
}

// IsContextLengthError reports whether err is an API error caused by a request
// exceeding the model's context window. Hosts respond with Manager.CompactNow.
func IsContextLengthError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != 400 && apiErr.StatusCode != 413 {
		return false
	}

	msg := strings.ToLower(apiErr.Error())
	return strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "context_length") ||
		strings.Contains(msg, "context window") ||
		strings.Contains(msg, "max_tokens")
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false
	}

	// Retry on rate limits and server errors
	return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
}
