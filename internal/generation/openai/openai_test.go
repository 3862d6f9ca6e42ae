package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func chatServer(t *testing.T, status int, reply string) (*httptest.Server, *chatRequest) {
	t.Helper()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestComplete(t *testing.T) {
	srv, got := chatServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gemma3:1b",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Fifteen days."}, "finish_reason": "stop"}]
	}`)

	c, err := NewClient(Config{BaseURL: srv.URL + "/v1/", Model: DefaultOllamaModel, MaxTokens: 256})
	require.NoError(t, err)

	answer, err := c.Complete(context.Background(), "Question: vacation?")
	require.NoError(t, err)
	assert.Equal(t, "Fifteen days.", answer)

	assert.Equal(t, DefaultOllamaModel, got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "Question: vacation?", got.Messages[0].Content)
	assert.Equal(t, 256, got.MaxTokens)
}

func TestComplete_NoChoices(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, `{"id": "x", "object": "chat.completion", "choices": []}`)
	c, err := NewClient(Config{BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "p")
	assert.Error(t, err)
}

func TestComplete_ServerError(t *testing.T) {
	srv, _ := chatServer(t, http.StatusInternalServerError, `{"error": {"message": "model not loaded", "type": "server_error"}}`)
	c, err := NewClient(Config{BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestNewClient(t *testing.T) {
	t.Setenv("DOCRAG_CHAT_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "DOCRAG_CHAT_KEY"})
	assert.Error(t, err)

	t.Setenv("DOCRAG_CHAT_KEY", "sk-test")
	c, err := NewClient(Config{APIKeyEnv: "DOCRAG_CHAT_KEY"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())

	c, err = NewClient(Config{BaseURL: OllamaBaseURL, Model: DefaultOllamaModel})
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaModel, c.Model())
}

func TestFactory_DefersConstruction(t *testing.T) {
	t.Setenv("DOCRAG_CHAT_KEY", "")
	f := Factory(Config{APIKeyEnv: "DOCRAG_CHAT_KEY"})
	_, err := f(context.Background())
	assert.Error(t, err)
}
