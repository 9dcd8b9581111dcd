// Package all registers every built-in vision backend. Import for side
// effects from the daemon entrypoint.
package all

import (
	_ "github.com/vigil-run/vigil/internal/vision/backends/anthropic"
	_ "github.com/vigil-run/vigil/internal/vision/backends/local"
	_ "github.com/vigil-run/vigil/internal/vision/backends/ollama"
	_ "github.com/vigil-run/vigil/internal/vision/backends/passthrough"
)
