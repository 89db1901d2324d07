package gmail

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/nhle/quickans/internal/source"
)

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestToRawMessageFindsNestedHTML(t *testing.T) {
	msg := &gmail.Message{
		Id:           "18f0",
		InternalDate: 1682000000000,
		LabelIds:     []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "New question"},
				{Name: "From", Value: "team@campuswiremail.com"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("plain")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<h1>hello</h1>")}},
			},
		},
	}

	raw := toRawMessage(msg)

	assert.Equal(t, "18f0", raw.ID())
	assert.Equal(t, "<h1>hello</h1>", raw.HTMLBody())
	assert.Equal(t, "New question", raw.Subject())
	assert.Equal(t, "team@campuswiremail.com", raw.Sender())
	assert.False(t, raw.IsRead())
	assert.Equal(t, int64(1682000000000), raw.ReceivedAt().UnixMilli())
}

func TestDecodeBodyUnpadded(t *testing.T) {
	data := base64.RawURLEncoding.EncodeToString([]byte("<p>a</p>"))

	out, err := decodeBody(data)
	require.NoError(t, err)
	assert.Equal(t, "<p>a</p>", string(out))
}

func TestFetchInboxAgainstFakeAPI(t *testing.T) {
	var listQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		listQuery = r.URL.Query().Get("q")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "m2"}, {"id": "m1"}},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": id,
			"payload": map[string]any{
				"mimeType": "text/html",
				"body":     map[string]string{"data": encode("<h1>" + id + "</h1>")},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	srv, err := gmail.NewService(t.Context(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	client := NewClientWithService(srv)

	msgs, err := client.FetchInbox(t.Context(), source.FetchOptions{
		PageSize:   15,
		FromSender: "team@campuswiremail.com",
		OrderBy:    source.OrderOldestFirst,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "in:inbox from:team@campuswiremail.com", listQuery)
	assert.Equal(t, "m1", msgs[0].ID())
	assert.Equal(t, "<h1>m1</h1>", msgs[0].HTMLBody())
	assert.Equal(t, "m2", msgs[1].ID())
}

func TestFetchInboxWrapsServiceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":400,"message":"bad query"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	srv, err := gmail.NewService(t.Context(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	_, err = NewClientWithService(srv).FetchInbox(t.Context(), source.FetchOptions{PageSize: 1})
	require.Error(t, err)
	assert.True(t, source.IsServiceError(err))
}
