package llm

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiComplete(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"It weighs terms."}]}}]}`))
	}))
	t.Cleanup(server.Close)

	g, err := newGemini(t.Context(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: server.URL + "/"},
	}, "", 0)
	require.NoError(t, err)

	out, err := g.Complete(t.Context(), "What is TF-IDF?")
	require.NoError(t, err)

	assert.Equal(t, "It weighs terms.", out)
	assert.True(t, strings.HasSuffix(path, DefaultGeminiModel+":generateContent"), path)
}
