package usage

import (
	"bytes"
	"encoding/json"
)

// StreamScanner folds a server-sent event stream into a Usage value. It is
// fed copies of the bytes being relayed; it never sits in the write path,
// so a malformed fragment can at worst be skipped, never delay delivery.
//
// Event semantics follow the provider's message stream: a message_start
// event initializes the counters, and each message_delta carries the
// cumulative output-token count, which overwrites (not adds to) the
// running value.
type StreamScanner struct {
	current Usage
	seen    bool
	line    []byte
}

const maxLineBytes = 1 << 18

func NewStreamScanner() *StreamScanner {
	return &StreamScanner{}
}

// Feed consumes the next chunk of stream bytes. Partial lines are buffered
// until their terminating newline arrives in a later chunk.
func (s *StreamScanner) Feed(p []byte) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			if len(s.line) < maxLineBytes {
				s.line = append(s.line, p...)
			}
			return
		}
		s.line = append(s.line, p[:i]...)
		s.scanLine(s.line)
		s.line = s.line[:0]
		p = p[i+1:]
	}
}

// Finalize returns the accumulated usage. ok is false when no
// usage-bearing event was observed, in which case nothing should be
// recorded.
func (s *StreamScanner) Finalize() (Usage, bool) {
	if len(s.line) > 0 {
		s.scanLine(s.line)
		s.line = s.line[:0]
	}
	if !s.seen || s.current.IsZero() {
		return Usage{}, false
	}
	return s.current, true
}

var dataPrefix = []byte("data: ")

func (s *StreamScanner) scanLine(line []byte) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, dataPrefix) {
		// Control lines (event:, comments, blanks) carry no usage.
		return
	}
	payload := bytes.TrimPrefix(line, dataPrefix)

	var event struct {
		Type    string `json:"type"`
		Message *struct {
			Usage *wireUsage `json:"usage"`
		} `json:"message"`
		Usage *wireUsage `json:"usage"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		// Malformed fragments are skipped silently.
		return
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil && event.Message.Usage != nil {
			s.current = event.Message.Usage.normalize()
			s.seen = true
		}
	case "message_delta":
		if event.Usage != nil {
			s.current.OutputTokens = event.Usage.OutputTokens
			s.seen = true
		}
	}
}
