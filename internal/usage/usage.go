// Package usage normalizes token-usage data out of provider responses,
// whether delivered as a single JSON body or as a server-sent event stream.
package usage

import "encoding/json"

// Usage is the normalized token accounting for one call.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
}

// IsZero reports whether no usage signal was observed.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 &&
		u.CacheReadTokens == 0 && u.CacheCreationTokens == 0
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

func (w wireUsage) normalize() Usage {
	return Usage{
		InputTokens:         w.InputTokens,
		OutputTokens:        w.OutputTokens,
		CacheReadTokens:     w.CacheReadInputTokens,
		CacheCreationTokens: w.CacheCreationInputTokens,
	}
}

// FromResponseBody reads the usage substructure of a buffered response.
// A missing or unparseable body yields a zero Usage, never an error:
// absent usage data must not abort forwarding.
func FromResponseBody(body []byte) Usage {
	var resp struct {
		Usage *wireUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return Usage{}
	}
	return resp.Usage.normalize()
}
