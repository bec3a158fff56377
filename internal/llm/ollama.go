package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"strings"
)

const DefaultOllamaURL = "http://localhost:11434"

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Ollama talks to a local server through the non-streaming /api/generate endpoint.
type Ollama struct {
	httpClient *http.Client
	url        string
}

func NewOllama(baseURL string, httpClient *http.Client) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{
		httpClient: httpClient,
		url:        strings.TrimRight(baseURL, "/") + "/api/generate",
	}
}

func (o *Ollama) Complete(ctx context.Context, prompt, model string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode generate response: %v", ErrUnavailable, err)
	}

	log.Debug("Generated", "model", model, "data", out.Response)
	return out.Response, nil
}
