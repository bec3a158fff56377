package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral", req.Model)
		assert.Equal(t, "turn on the lights", req.Prompt)
		assert.False(t, req.Stream)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(generateResponse{Response: `{"action":"tell_time","params":{}}`})
	}))
	defer server.Close()

	client := NewOllama(server.URL+"/", server.Client())
	out, err := client.Complete(context.Background(), "turn on the lights", "mistral")
	require.NoError(t, err)
	assert.Equal(t, `{"action":"tell_time","params":{}}`, out)
}

func TestOllamaNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewOllama(server.URL, server.Client()).Complete(context.Background(), "x", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Body, "model not found")
}

func TestOllamaTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	hc := server.Client()
	hc.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := NewOllama(server.URL, hc).Complete(context.Background(), "x", "mistral")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOllamaUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewOllama(url, nil).Complete(context.Background(), "x", "mistral")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mistral", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "mistral",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "Lights on."}
			}]
		}`))
	}))
	defer server.Close()

	client := NewOpenAI(server.URL+"/v1", "", server.Client())
	out, err := client.Complete(context.Background(), "say something", "mistral")
	require.NoError(t, err)
	assert.Equal(t, "Lights on.", out)
}

func TestOpenAIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewOpenAI(server.URL+"/v1", "", server.Client()).Complete(context.Background(), "x", "mistral")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type countingCompleter struct {
	calls atomic.Int32
	err   error
}

func (c *countingCompleter) Complete(context.Context, string, string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return "ok", nil
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	next := &countingCompleter{err: errors.New("connection refused")}
	b := NewBreaker(next, 2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := b.Complete(context.Background(), "x", "m")
		assert.ErrorIs(t, err, next.err)
	}

	_, err := b.Complete(context.Background(), "x", "m")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestBreakerPassesThrough(t *testing.T) {
	next := &countingCompleter{}
	out, err := NewBreaker(next, 0, time.Second).Complete(context.Background(), "x", "m")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
