// Package wake delivers wake events to the supervising agent by invoking an
// external command. Delivery is best effort: the daemon's own state never
// depends on whether a wake landed.
package wake

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/vigil-run/vigil/internal/logger"
	"github.com/vigil-run/vigil/internal/logger/tag"
)

// Sink delivers one wake message. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, message string) error
}

// CommandSink spawns a configured argv with the message appended as the
// final argument. The subprocess gets a bounded wait and is killed on
// overrun.
type CommandSink struct {
	argv    []string
	timeout time.Duration
}

// NewCommandSink creates a sink for the given argv. The argv must be
// non-empty; the message is appended on each Emit.
func NewCommandSink(argv []string, timeout time.Duration) (*CommandSink, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("wake command must not be empty")
	}
	return &CommandSink{argv: argv, timeout: timeout}, nil
}

func (s *CommandSink) Emit(ctx context.Context, message string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := make([]string, 0, len(s.argv))
	args = append(args, s.argv[1:]...)
	args = append(args, message)

	cmd := exec.CommandContext(ctx, s.argv[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("wake command failed: %w: %s", err, out)
	}
	logger.Debug(ctx, "Wake event delivered", tag.Count(len(message)))
	return nil
}

// MemorySink records messages in memory. Test double for CommandSink.
type MemorySink struct {
	mu       sync.Mutex
	messages []string
}

func (s *MemorySink) Emit(_ context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

// Messages returns a copy of everything emitted so far.
func (s *MemorySink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}
