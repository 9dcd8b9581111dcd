// Package ollama provides a vision backend for a local Ollama server using
// its native generate API.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vigil-run/vigil/internal/vision"
)

const (
	backendName      = "ollama"
	defaultBaseURL   = "http://localhost:11434"
	generateEndpoint = "/api/generate"
	tagsEndpoint     = "/api/tags"
)

func init() {
	vision.Register(vision.BackendOllama, New)
}

var _ vision.Backend = (*Backend)(nil)

// Backend talks to Ollama's /api/generate endpoint. No API key required.
type Backend struct {
	config     vision.Config
	httpClient *vision.HTTPClient
}

// New creates an Ollama backend.
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

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (b *Backend) Evaluate(ctx context.Context, req *vision.Request) (string, error) {
	images := make([]string, len(req.Images))
	for i, img := range req.Images {
		images[i] = base64.StdEncoding.EncodeToString(img)
	}

	body, err := json.Marshal(generateRequest{
		Model:  b.config.Model,
		System: req.System,
		Prompt: req.Prompt,
		Images: images,
		Stream: false,
		// Verdicts must be reproducible across polls of the same frame.
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", vision.WrapError(backendName, err)
	}

	respBody, err := b.httpClient.Post(ctx, b.url(generateEndpoint), body, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = respBody.Close() }()

	var resp generateResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", vision.WrapError(backendName, fmt.Errorf("failed to decode response: %w", err))
	}
	if resp.Error != "" {
		return "", vision.WrapError(backendName, fmt.Errorf("%s", resp.Error))
	}
	return resp.Response, nil
}

func (b *Backend) Health(ctx context.Context) error {
	respBody, err := b.httpClient.Get(ctx, b.url(tagsEndpoint), nil)
	if err != nil {
		return vision.WrapError(backendName, err)
	}
	_ = respBody.Close()
	return nil
}

func (b *Backend) url(endpoint string) string {
	return strings.TrimSuffix(b.config.BaseURL, "/") + endpoint
}
