package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-run/vigil/internal/vision"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(vision.NewConfig())
	assert.ErrorIs(t, err, vision.ErrNoAPIKey)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-sonnet-4-5", req.Model)
		assert.Equal(t, "watch the screen", req.System)
		require.Len(t, req.Messages, 1)
		blocks := req.Messages[0].Content
		require.Len(t, blocks, 3)
		assert.Equal(t, "image", blocks[0].Type)
		assert.Equal(t, "image/jpeg", blocks[0].Source.MediaType)
		assert.Equal(t, "image", blocks[1].Type)
		assert.Equal(t, "text", blocks[2].Type)
		assert.Equal(t, "is it done?", blocks[2].Text)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"FINAL_JSON: "},{"type":"text","text":"{\"state\":\"resolved\"}"}]}`))
	}))
	defer srv.Close()

	b, err := New(vision.NewConfig(
		vision.WithBaseURL(srv.URL),
		vision.WithModel("claude-sonnet-4-5"),
		vision.WithAPIKey("sk-ant-test"),
	))
	require.NoError(t, err)

	out, err := b.Evaluate(context.Background(), &vision.Request{
		System: "watch the screen",
		Prompt: "is it done?",
		Images: [][]byte{{0x01}, {0x02}},
	})
	require.NoError(t, err)
	assert.Equal(t, `FINAL_JSON: {"state":"resolved"}`, out)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	b, err := New(vision.NewConfig(vision.WithAPIKey("sk-ant-test")))
	require.NoError(t, err)
	assert.NoError(t, b.Health(context.Background()))
}
