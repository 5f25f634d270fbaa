package usage

import "testing"

func TestFromResponseBody(t *testing.T) {
	body := []byte(`{
		"id": "msg_01",
		"model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": "hi"}],
		"usage": {
			"input_tokens": 120,
			"output_tokens": 34,
			"cache_read_input_tokens": 900,
			"cache_creation_input_tokens": 15
		}
	}`)

	u := FromResponseBody(body)
	if u.InputTokens != 120 || u.OutputTokens != 34 {
		t.Errorf("Expected 120/34 tokens, got %d/%d", u.InputTokens, u.OutputTokens)
	}
	if u.CacheReadTokens != 900 || u.CacheCreationTokens != 15 {
		t.Errorf("Expected cache tokens 900/15, got %d/%d", u.CacheReadTokens, u.CacheCreationTokens)
	}
}

func TestFromResponseBody_MissingUsage(t *testing.T) {
	u := FromResponseBody([]byte(`{"id": "msg_01", "content": []}`))
	if !u.IsZero() {
		t.Errorf("Expected zero usage for missing usage block, got %+v", u)
	}
}

func TestFromResponseBody_MissingFieldsDefaultZero(t *testing.T) {
	u := FromResponseBody([]byte(`{"usage": {"input_tokens": 7}}`))
	if u.InputTokens != 7 || u.OutputTokens != 0 || u.CacheReadTokens != 0 {
		t.Errorf("Expected partial usage {7,0,0,0}, got %+v", u)
	}
}

func TestFromResponseBody_Garbage(t *testing.T) {
	u := FromResponseBody([]byte(`not json at all`))
	if !u.IsZero() {
		t.Errorf("Expected zero usage for unparseable body, got %+v", u)
	}
}
