package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
	"github.com/youssefsiam38/agentctx/usage"
)

// Input is the JSON document the commands read: a transcript plus the
// accounting of the requests made so far.
type Input struct {
	Turns []*types.Turn `json:"turns"`

	// Messages is the host display log. When present, records and the previous
	// request index are derived from its request markers.
	Messages []usage.Message `json:"messages,omitempty"`

	// Records are usage records, used when Messages is empty.
	Records []types.TokenUsage `json:"records,omitempty"`

	// PreviousRequestIndex selects the record the decision is based on. It
	// defaults to the latest record with usage.
	PreviousRequestIndex *int `json:"previousRequestIndex,omitempty"`

	State compaction.State `json:"state"`
}

// readInput decodes an Input from path, or from stdin when path is "-".
func readInput(path string, stdin io.Reader) (*Input, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode input: %w", err)
	}
	return &in, nil
}

// accounting returns the usage records and the index of the previous request.
func (in *Input) accounting() ([]types.TokenUsage, int, error) {
	if len(in.Messages) > 0 {
		records, err := usage.Records(in.Messages)
		if err != nil {
			return nil, -1, err
		}
		idx := usage.PreviousRequestIndex(in.Messages)
		if in.PreviousRequestIndex != nil {
			idx = *in.PreviousRequestIndex
		}
		return records, idx, nil
	}

	if in.PreviousRequestIndex != nil {
		return in.Records, *in.PreviousRequestIndex, nil
	}
	for i := len(in.Records) - 1; i >= 0; i-- {
		if in.Records[i].Total() > 0 {
			return in.Records, i, nil
		}
	}
	return in.Records, -1, nil
}
