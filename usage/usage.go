// Package usage turns the request accounting an agent host records into the
// token usage records compaction decisions are based on.
package usage

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"

	"github.com/youssefsiam38/agentctx/types"
)

// SayAPIRequestStarted marks the host message that carries a request's accounting.
const SayAPIRequestStarted = "api_req_started"

// Message is one entry of the host's display log. Request markers carry their
// accounting as a JSON object in Text.
type Message struct {
	Ts   int64  `json:"ts"`
	Type string `json:"type"`
	Say  string `json:"say,omitempty"`
	Text string `json:"text,omitempty"`
}

// IsRequest reports whether m marks a model request.
func (m Message) IsRequest() bool {
	return m.Say == SayAPIRequestStarted
}

// ParseRecord decodes the accounting payload of a request marker. Missing
// counters are zero, so a request still in flight parses to an empty record.
func ParseRecord(text string) (types.TokenUsage, error) {
	if text == "" {
		return types.TokenUsage{}, nil
	}
	if !gjson.Valid(text) {
		return types.TokenUsage{}, errors.New("usage: invalid request payload")
	}

	root := gjson.Parse(text)
	if !root.IsObject() {
		return types.TokenUsage{}, fmt.Errorf("usage: request payload is %s, want object", root.Type)
	}

	return types.TokenUsage{
		TokensIn:    int(root.Get("tokensIn").Int()),
		TokensOut:   int(root.Get("tokensOut").Int()),
		CacheWrites: int(root.Get("cacheWrites").Int()),
		CacheReads:  int(root.Get("cacheReads").Int()),
	}, nil
}

// PreviousRequestIndex returns the index of the latest request marker, or -1
// when there is none.
func PreviousRequestIndex(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsRequest() {
			return i
		}
	}
	return -1
}

// Records returns one usage record per message, positioned like messages so a
// marker index from PreviousRequestIndex addresses its record. Messages that are
// not request markers get zero records.
func Records(messages []Message) ([]types.TokenUsage, error) {
	records := make([]types.TokenUsage, len(messages))
	for i, m := range messages {
		if !m.IsRequest() {
			continue
		}
		record, err := ParseRecord(m.Text)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		records[i] = record
	}
	return records, nil
}

// FromAnthropic maps the usage of an Anthropic response.
func FromAnthropic(u anthropic.Usage) types.TokenUsage {
	return types.TokenUsage{
		TokensIn:    int(u.InputTokens),
		TokensOut:   int(u.OutputTokens),
		CacheWrites: int(u.CacheCreationInputTokens),
		CacheReads:  int(u.CacheReadInputTokens),
	}
}

// NewRequestMessage builds a request marker for u, the inverse of ParseRecord.
func NewRequestMessage(ts int64, u types.TokenUsage) Message {
	return Message{
		Ts:   ts,
		Type: "say",
		Say:  SayAPIRequestStarted,
		Text: fmt.Sprintf(`{"tokensIn":%d,"tokensOut":%d,"cacheWrites":%d,"cacheReads":%d}`,
			u.TokensIn, u.TokensOut, u.CacheWrites, u.CacheReads),
	}
}
