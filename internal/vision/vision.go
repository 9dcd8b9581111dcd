// Package vision defines the backend interface for evaluating screen frames
// against natural-language criteria, plus the shared config, errors, and
// HTTP plumbing the backend implementations build on.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted in configuration.
const (
	BackendOllama      = "ollama"
	BackendLocal       = "local"
	BackendAnthropic   = "anthropic"
	BackendPassthrough = "passthrough"
)

// Request is one evaluation round-trip: a text prompt plus the JPEG frames
// it refers to, oldest first.
type Request struct {
	System string
	Prompt string
	Images [][]byte
}

// Backend evaluates frames against a prompt and returns the raw model text.
// Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	Evaluate(ctx context.Context, req *Request) (string, error)
	// Health probes backend reachability. Cheap; used by the health
	// endpoint and at daemon startup.
	Health(ctx context.Context) error
}

// Config holds backend connection settings.
type Config struct {
	BaseURL         string
	Model           string
	APIKey          string
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns a Config with retry defaults applied.
func DefaultConfig() Config {
	return Config{
		Timeout:         120 * time.Second,
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Option is a functional option for configuring a backend.
type Option func(*Config)

// WithBaseURL sets the backend base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) { c.BaseURL = baseURL }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(c *Config) { c.APIKey = apiKey }
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Config) { c.MaxRetries = maxRetries }
}

// WithBackoff sets the retry backoff bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Config) {
		c.InitialInterval = initial
		c.MaxInterval = max
	}
}

// NewConfig creates a Config with the given options applied over defaults.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ErrNoAPIKey is returned by backends that require an API key when none is
// configured.
var ErrNoAPIKey = errors.New("API key is required")

// APIError is a non-2xx response from a backend.
type APIError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error %d: %s", e.Backend, e.StatusCode, e.Body)
}

// NewAPIError creates an APIError.
func NewAPIError(backend string, statusCode int, body string) *APIError {
	return &APIError{Backend: backend, StatusCode: statusCode, Body: body}
}

// WrapError prefixes an error with the backend name.
func WrapError(backend string, err error) error {
	return fmt.Errorf("%s: %w", backend, err)
}
