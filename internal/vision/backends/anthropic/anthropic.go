// Package anthropic provides a vision backend for Anthropic's Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vigil-run/vigil/internal/vision"
)

const (
	backendName         = "anthropic"
	defaultBaseURL      = "https://api.anthropic.com"
	messagesPath        = "/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	maxResponseTokens   = 1024
)

func init() {
	vision.Register(vision.BackendAnthropic, New)
}

var _ vision.Backend = (*Backend)(nil)

type Backend struct {
	config     vision.Config
	httpClient *vision.HTTPClient
}

// New creates an Anthropic backend. An API key is required.
func New(cfg vision.Config) (vision.Backend, error) {
	if cfg.APIKey == "" {
		return nil, vision.ErrNoAPIKey
	}
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

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (b *Backend) Evaluate(ctx context.Context, req *vision.Request) (string, error) {
	blocks := make([]contentBlock, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: "image/jpeg",
				Data:      base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	blocks = append(blocks, contentBlock{Type: "text", Text: req.Prompt})

	body, err := json.Marshal(messagesRequest{
		Model:     b.config.Model,
		MaxTokens: maxResponseTokens,
		System:    req.System,
		Messages:  []message{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return "", vision.WrapError(backendName, err)
	}

	headers := map[string]string{
		"x-api-key":         b.config.APIKey,
		"anthropic-version": anthropicAPIVersion,
	}
	respBody, err := b.httpClient.Post(ctx, b.url(messagesPath), body, headers)
	if err != nil {
		return "", err
	}
	defer func() { _ = respBody.Close() }()

	var resp messagesResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", vision.WrapError(backendName, fmt.Errorf("failed to decode response: %w", err))
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

// Health reports whether the backend is usable. The Messages API has no
// unauthenticated probe endpoint, so a configured key counts as healthy.
func (b *Backend) Health(_ context.Context) error {
	if b.config.APIKey == "" {
		return vision.ErrNoAPIKey
	}
	return nil
}

func (b *Backend) url(endpoint string) string {
	return strings.TrimSuffix(b.config.BaseURL, "/") + endpoint
}
