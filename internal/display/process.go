package display

import (
	"context"
	"os/exec"
	"syscall"
	"time"
)

// process abstracts a spawned display subprocess so tests can substitute
// fakes for Xvfb and the window manager.
type process interface {
	// Alive reports whether the process is still running.
	Alive() bool
	// Stop sends SIGTERM, waits up to timeout, then SIGKILLs.
	Stop(ctx context.Context, timeout time.Duration)
}

// startFunc spawns a subprocess with the given argv and extra environment.
type startFunc func(name string, args []string, env []string) (process, error)

var _ process = (*osProcess)(nil)

type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func startOSProcess(name string, args []string, env []string) (process, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *osProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *osProcess) Stop(ctx context.Context, timeout time.Duration) {
	if !p.Alive() {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(timeout):
		_ = p.cmd.Process.Kill()
		<-p.done
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}
