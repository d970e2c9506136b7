package gmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nalgeon/be"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), zap.NewNop(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	be.Err(t, err, nil)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientListUnread(t *testing.T) {
	var gotQuery, gotMax string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/messages") {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		gotMax = r.URL.Query().Get("maxResults")
		writeJSON(w, map[string]any{
			"messages": []map[string]string{{"id": "a"}, {"id": "b"}},
		})
	})

	ids, err := c.ListUnread(context.Background(), "is:unread", 20)
	be.Err(t, err, nil)
	be.Equal(t, ids, []string{"a", "b"})
	be.Equal(t, gotQuery, "is:unread")
	be.Equal(t, gotMax, "20")
}

func TestClientModifyLabels(t *testing.T) {
	var req gmail.ModifyMessageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/users/me/messages/m1/modify") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, map[string]any{"id": "m1"})
	})

	err := c.ModifyLabels(context.Background(), "m1", nil, []string{LabelUnread, LabelInbox})
	be.Err(t, err, nil)
	be.Equal(t, req.RemoveLabelIds, []string{"UNREAD", "INBOX"})
}

func TestClientSendIsNotRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]any{"error": map[string]any{"code": 503, "message": "backend error"}})
	})

	_, err := c.Send(context.Background(), "cmF3", "t1")
	be.True(t, err != nil)
	be.Equal(t, calls, 1)
}

func TestClientThreadID(t *testing.T) {
	var format string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		format = r.URL.Query().Get("format")
		writeJSON(w, map[string]any{"id": "m1", "threadId": "thread-9"})
	})

	threadID, err := c.ThreadID(context.Background(), "m1")
	be.Err(t, err, nil)
	be.Equal(t, threadID, "thread-9")
	be.Equal(t, format, "metadata")
}
