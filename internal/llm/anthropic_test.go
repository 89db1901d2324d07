package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(t *testing.T, handler http.HandlerFunc) *Anthropic {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	a := NewAnthropic("test-key", "", 0)
	a.url = server.URL
	return a
}

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	a := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[
			{"type":"text","text":"TF-IDF "},
			{"type":"text","text":"weighs terms."}
		],"stop_reason":"end_turn"}`))
	})

	out, err := a.Complete(t.Context(), "What is TF-IDF?")
	require.NoError(t, err)

	assert.Equal(t, "TF-IDF weighs terms.", out)
	assert.Equal(t, DefaultAnthropicModel, got.Model)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "What is TF-IDF?", got.Messages[0].Content[0].Text)
}

func TestAnthropicRetriesRateLimit(t *testing.T) {
	calls := 0
	a := newTestAnthropic(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	})

	out, err := a.Complete(t.Context(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

func TestAnthropicGivesUpAfterRetries(t *testing.T) {
	calls := 0
	a := newTestAnthropic(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	a.maxRetries = 1

	_, err := a.Complete(t.Context(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (1) exceeded")
	assert.Equal(t, 2, calls)
}

func TestAnthropicAPIError(t *testing.T) {
	a := newTestAnthropic(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})

	_, err := a.Complete(t.Context(), "q")
	require.Error(t, err)
	assert.Equal(t, "API error (401): invalid x-api-key", err.Error())
}
