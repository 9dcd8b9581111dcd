// Package local provides a vision backend for OpenAI-compatible servers:
// vLLM, llama.cpp server, LocalAI, LM Studio, and Ollama's compat endpoint.
package local

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vigil-run/vigil/internal/vision"
)

const (
	backendName    = "local"
	defaultBaseURL = "http://localhost:8000/v1"
	chatEndpoint   = "/chat/completions"
	modelsEndpoint = "/models"
)

func init() {
	vision.Register(vision.BackendLocal, New)
}

var _ vision.Backend = (*Backend)(nil)

// Backend talks to an OpenAI-compatible chat completions endpoint. An API
// key is optional; when set it is sent as a bearer token.
type Backend struct {
	config     vision.Config
	httpClient *vision.HTTPClient
}

// New creates a local OpenAI-compatible backend.
func New(cfg vision.Config) (vision.Backend, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Backend{
		config:     cfg,
		httpClient: vision.NewHTTPClient(backendName, cfg),
	}, nil
}

func (b *Backend) Name() string {
	return backendName
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (b *Backend) Evaluate(ctx context.Context, req *vision.Request) (string, error) {
	parts := make([]contentPart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	parts = append(parts, contentPart{Type: "text", Text: req.Prompt})

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: parts})

	body, err := json.Marshal(chatCompletionRequest{
		Model:    b.config.Model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", vision.WrapError(backendName, err)
	}

	respBody, err := b.httpClient.Post(ctx, b.url(chatEndpoint), body, b.headers())
	if err != nil {
		return "", err
	}
	defer func() { _ = respBody.Close() }()

	var resp chatCompletionResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", vision.WrapError(backendName, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", vision.WrapError(backendName, fmt.Errorf("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *Backend) Health(ctx context.Context) error {
	respBody, err := b.httpClient.Get(ctx, b.url(modelsEndpoint), b.headers())
	if err != nil {
		return vision.WrapError(backendName, err)
	}
	_ = respBody.Close()
	return nil
}

func (b *Backend) headers() map[string]string {
	if b.config.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + b.config.APIKey}
}

func (b *Backend) url(endpoint string) string {
	return strings.TrimSuffix(b.config.BaseURL, "/") + endpoint
}
