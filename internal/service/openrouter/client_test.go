package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"Rewind/internal/domain/models"
	"Rewind/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteSendsMessagesAndJSONMode(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" {\"decision\":\"YES\"} "}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key"})
	out, err := c.Complete(context.Background(), service.CompletionRequest{
		Model: "openai/gpt-4o", System: "sys", Prompt: "hello", JSON: true, Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"YES"}`, out)

	assert.Equal(t, "openai/gpt-4o", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
}

func TestCompleteTextModeOmitsResponseFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, present := raw["response_format"]
		assert.False(t, present)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"print(1)"}}]}`))
	}))
	defer srv.Close()

	out, err := New(Config{BaseURL: srv.URL}).Complete(context.Background(), service.CompletionRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "print(1)", out)
}

func TestCompleteFailures(t *testing.T) {
	cases := []struct {
		name string
		code int
		body string
		want error
	}{
		{"no choices", http.StatusOK, `{"choices":[]}`, models.ErrValidationFailure},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, models.ErrValidationFailure},
		{"provider error", http.StatusOK, `{"error":{"message":"upstream overloaded","code":502}}`, models.ErrServiceUnavailable},
		{"server error", http.StatusInternalServerError, `oops`, models.ErrServiceUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model"}}`, models.ErrValidationFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Complete(context.Background(), service.CompletionRequest{Model: "m", Prompt: "p"})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
