package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI uses any OpenAI-compatible chat endpoint, including Ollama's /v1.
type OpenAI struct {
	client openai.Client
}

func NewOpenAI(baseURL, apiKey string, httpClient *http.Client) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOllamaURL + "/v1"
	}
	if apiKey == "" {
		// Local servers ignore the key but the client insists on one.
		apiKey = "ollama"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/"),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAI{client: openai.NewClient(opts...)}
}

func (o *OpenAI) Complete(ctx context.Context, prompt, model string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(model),
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", ErrUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrUnavailable)
	}

	return resp.Choices[0].Message.Content, nil
}
