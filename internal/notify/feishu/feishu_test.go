package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scipush/scipush/internal/core/domain"
)

func newTestNotifier(t *testing.T, secret string, handler http.HandlerFunc) *Notifier {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := zerolog.Nop()

	return New(srv.URL, secret, 0, 5*time.Second, &logger)
}

func okHandler(received *[]map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)

		*received = append(*received, payload)

		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "success"})
	}
}

func TestSendPaperCard(t *testing.T) {
	var received []map[string]any

	n := newTestNotifier(t, "", okHandler(&received))

	paper := &domain.Paper{
		GUID:       "g1",
		ArxivID:    "2512.00001",
		Title:      "Planning",
		Abstract:   "A study.",
		Categories: []string{"cs.AI"},
		AbsURL:     "https://arxiv.org/abs/2512.00001",
		Summary: &domain.Summary{
			TitleTranslated: "规划",
			KeyPoints:       []string{"要点一"},
			RelevanceScore:  9.1,
		},
	}

	assert.True(t, n.SendPaper(context.Background(), paper))
	require.Len(t, received, 1)

	assert.Equal(t, "interactive", received[0]["msg_type"])

	card, ok := received[0]["card"].(map[string]any)
	require.True(t, ok)

	header := card["header"].(map[string]any)
	title := header["title"].(map[string]any)
	assert.Equal(t, "规划", title["content"])

	raw, err := json.Marshal(card)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "要点一")
	assert.Contains(t, string(raw), "2512.00001.pdf")
	assert.NotContains(t, received[0], "sign", "unsigned when no secret configured")
}

func TestSendSignsWhenSecretSet(t *testing.T) {
	var received []map[string]any

	n := newTestNotifier(t, "topsecret", okHandler(&received))
	n.now = func() time.Time { return time.Unix(1756540800, 0) }

	assert.True(t, n.SendMessage(context.Background(), "hello"))
	require.Len(t, received, 1)

	assert.Equal(t, "1756540800", received[0]["timestamp"])
	assert.Equal(t, n.sign(1756540800), received[0]["sign"])
	assert.NotEmpty(t, received[0]["sign"])
}

func TestSendAPIError(t *testing.T) {
	n := newTestNotifier(t, "", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 19021, "msg": "sign match fail"})
	})

	assert.False(t, n.SendMessage(context.Background(), "hello"))
}

func TestSendHTTPError(t *testing.T) {
	n := newTestNotifier(t, "", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	assert.False(t, n.SendMessage(context.Background(), "hello"))
}

func TestSendBatchHeader(t *testing.T) {
	var received []map[string]any

	n := newTestNotifier(t, "", okHandler(&received))

	papers := []*domain.Paper{
		{GUID: "a", ArxivID: "2512.00001", Title: "A"},
		{GUID: "b", ArxivID: "2512.00002", Title: "B"},
	}

	sent := n.SendBatch(context.Background(), papers, 25)
	assert.Equal(t, 2, sent)
	require.Len(t, received, 3)

	content := received[0]["content"].(map[string]any)
	assert.Contains(t, content["text"], "2/25 篇")
}
