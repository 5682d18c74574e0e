package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "glm-4.5v",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"action\":{\"type\":\"WAIT\"}}"}}],
  "usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
}`

func newCompletionServer(t *testing.T, status int, seen *map[string]interface{}) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if seen != nil {
			require.NoError(t, json.Unmarshal(body, seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, completionBody)
			return
		}
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_ZaiDisablesThinking(t *testing.T) {
	var seen map[string]interface{}
	srv := newCompletionServer(t, http.StatusOK, &seen)

	client, err := NewOpenAIProvider("zai").CreateClient(ProviderConfig{APIKey: "k", BaseURL: srv.URL + "/v4/"})
	require.NoError(t, err)

	resp, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "glm-4.5v",
		Messages: []Message{{Role: RoleUser, Content: "hi", Image: []byte{1, 2, 3}, ImageMIME: "image/jpeg"}},
		JSONMode: true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"action":{"type":"WAIT"}}`, resp.Content())
	assert.Equal(t, 42, resp.Usage.PromptTokens)
	assert.Equal(t, 7, resp.Usage.CompletionTokens)

	assert.Equal(t, map[string]interface{}{"type": "disabled"}, seen["thinking"])
	assert.NotContains(t, seen, "response_format")
}

func TestOpenAIClient_JSONMode(t *testing.T) {
	var seen map[string]interface{}
	srv := newCompletionServer(t, http.StatusOK, &seen)

	client, err := NewOpenAIProvider("openai").CreateClient(ProviderConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	_, err = client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: RoleSystem, Content: "s"}, {Role: RoleUser, Content: "u"}},
		JSONMode: true,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"type": "json_object"}, seen["response_format"])
	assert.NotContains(t, seen, "thinking")
}

func TestOpenAIClient_ServerErrorIsRetryable(t *testing.T) {
	srv := newCompletionServer(t, http.StatusServiceUnavailable, nil)

	client, err := NewOpenAIProvider("openai").CreateClient(ProviderConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	_, err = client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: RoleUser, Content: "u"}},
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.True(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&APIError{StatusCode: 429}))
	assert.True(t, Retryable(&APIError{StatusCode: 500}))
	assert.True(t, Retryable(&APIError{}))
	assert.False(t, Retryable(&APIError{StatusCode: 401}))
	assert.False(t, Retryable(context.Canceled))
}
