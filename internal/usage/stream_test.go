package usage

import "testing"

const sampleStream = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_01\",\"usage\":{\"input_tokens\":100,\"output_tokens\":0}}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hello\"}}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":50}}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":120}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

func TestStreamScanner_DeltaOverwrites(t *testing.T) {
	s := NewStreamScanner()
	s.Feed([]byte(sampleStream))

	u, ok := s.Finalize()
	if !ok {
		t.Fatal("Expected usage to be observed")
	}
	if u.InputTokens != 100 {
		t.Errorf("Expected 100 input tokens, got %d", u.InputTokens)
	}
	// The delta carries a cumulative count: 120, not 50+120.
	if u.OutputTokens != 120 {
		t.Errorf("Expected 120 output tokens, got %d", u.OutputTokens)
	}
}

func TestStreamScanner_SplitAcrossChunks(t *testing.T) {
	s := NewStreamScanner()
	raw := []byte(sampleStream)
	// Feed one byte at a time to exercise the partial-line buffer.
	for _, b := range raw {
		s.Feed([]byte{b})
	}

	u, ok := s.Finalize()
	if !ok || u.InputTokens != 100 || u.OutputTokens != 120 {
		t.Errorf("Expected {100,120}, got %+v ok=%v", u, ok)
	}
}

func TestStreamScanner_MalformedFragmentsSkipped(t *testing.T) {
	s := NewStreamScanner()
	s.Feed([]byte("data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":10,\"output_tokens\":1}}}\n"))
	s.Feed([]byte("data: {broken json!!\n"))
	s.Feed([]byte("data: \n"))
	s.Feed([]byte(": comment line\n"))
	s.Feed([]byte("data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":42}}\n"))

	u, ok := s.Finalize()
	if !ok {
		t.Fatal("Expected usage despite malformed fragments")
	}
	if u.InputTokens != 10 || u.OutputTokens != 42 {
		t.Errorf("Expected {10,42}, got %+v", u)
	}
}

func TestStreamScanner_NoUsageEvents(t *testing.T) {
	s := NewStreamScanner()
	s.Feed([]byte("event: ping\ndata: {\"type\":\"ping\"}\n\n"))

	if _, ok := s.Finalize(); ok {
		t.Error("Expected no usage for a stream without usage-bearing events")
	}
}

func TestStreamScanner_FinalLineWithoutNewline(t *testing.T) {
	s := NewStreamScanner()
	s.Feed([]byte("data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":5,\"output_tokens\":3}}}"))

	u, ok := s.Finalize()
	if !ok || u.InputTokens != 5 || u.OutputTokens != 3 {
		t.Errorf("Expected {5,3} from unterminated final line, got %+v ok=%v", u, ok)
	}
}
