// Package passthrough provides a no-network vision backend for dry runs and
// environments without a model server. Every evaluation reports that the
// condition has not been met, so waits ride out their timeout.
package passthrough

import (
	"context"

	"github.com/vigil-run/vigil/internal/vision"
)

const backendName = "passthrough"

func init() {
	vision.Register(vision.BackendPassthrough, New)
}

var _ vision.Backend = (*Backend)(nil)

type Backend struct{}

// New creates a passthrough backend. Config is ignored.
func New(_ vision.Config) (vision.Backend, error) {
	return &Backend{}, nil
}

func (b *Backend) Name() string {
	return backendName
}

func (b *Backend) Evaluate(_ context.Context, _ *vision.Request) (string, error) {
	return `FINAL_JSON: {"decision": "watching", "confidence": 0.0, "evidence": [], "summary": "passthrough backend: no vision model configured"}`, nil
}

func (b *Backend) Health(_ context.Context) error {
	return nil
}
