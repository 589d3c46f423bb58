package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "carebot/pkg/logx"
)

func TestGenerateDisabledWithoutKey(t *testing.T) {
	g := NewOpenAI(Config{}, logx.Nop())
	assert.False(t, g.Enabled())
	_, err := g.Generate(context.Background(), Request{Title: "daily"})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGenerateCallsCompletionEndpoint(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  Halo Obi! 🐠 "},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	g := NewOpenAI(Config{BaseURL: srv.URL + "/", APIKey: "k", Model: "m"}, logx.Nop())
	text, err := g.Generate(context.Background(), Request{Title: "HARIAN", SubjectName: "Obi", SubjectKind: "Betta"})
	require.NoError(t, err)
	assert.Equal(t, "Halo Obi! 🐠", text)

	assert.Equal(t, "m", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "HARIAN")
	assert.Contains(t, got.Messages[1].Content, "Obi (Betta)")
}

func TestGenerateSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer srv.Close()

	g := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "k"}, logx.Nop())
	_, err := g.Generate(context.Background(), Request{Title: "daily"})
	assert.Error(t, err)
}

func TestFallback(t *testing.T) {
	assert.Equal(t, "Halo! Waktunya HARIAN untuk Obi ya!", Fallback(Request{Title: "HARIAN", SubjectName: "Obi"}))
	assert.Equal(t, "Halo! Waktunya HARIAN untuk kamu ya!", Fallback(Request{Title: "HARIAN"}))
}
