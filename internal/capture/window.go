package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// WindowResolver turns a window target id into an X window id. Targets that
// already look like numeric ids are used directly; anything else is treated
// as a title substring and looked up on the display.
type WindowResolver struct {
	run func(ctx context.Context, display string, args ...string) (string, error)
}

// NewWindowResolver creates a resolver backed by xdotool.
func NewWindowResolver() *WindowResolver {
	return &WindowResolver{run: runXdotool}
}

func runXdotool(ctx context.Context, display string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "xdotool", args...)
	cmd.Env = append(cmd.Environ(), "DISPLAY="+display)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("xdotool %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Resolve maps target to an X window id on the given display.
func (r *WindowResolver) Resolve(ctx context.Context, display, target string) (uint32, error) {
	if id, err := ParseWindowID(target); err == nil {
		return id, nil
	}
	out, err := r.run(ctx, display, "search", "--onlyvisible", "--name", target)
	if err != nil {
		return 0, fmt.Errorf("window %q not found on %s: %w", target, display, err)
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return ParseWindowID(line)
	}
	return 0, fmt.Errorf("window %q not found on %s", target, display)
}
