// Package display manages per-task virtual X displays: Xvfb lifecycle,
// cached X connections, and the per-display capture serialization the
// scheduler relies on.
package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jezek/xgb"

	"github.com/vigil-run/vigil/internal/config"
	"github.com/vigil-run/vigil/internal/logger"
	"github.com/vigil-run/vigil/internal/logger/tag"
)

var (
	// ErrStartFailed is returned when the display subprocess exits during
	// the settle window.
	ErrStartFailed = errors.New("display subprocess failed to start")
	// ErrNoFreeDisplay is returned when the slot scan finds no free number.
	ErrNoFreeDisplay = errors.New("no free display numbers available")
)

// Info records one allocated virtual display. Exactly one Info exists per
// task id; slots are unique among live Infos.
type Info struct {
	TaskID     string
	Num        int
	DisplayStr string
	Width      int
	Height     int
	CreatedAt  time.Time

	proc   process
	wmProc process
}

// Manager owns every allocated display, the cached X connections, and the
// per-display capture mutexes. It is constructed once at daemon startup and
// torn down by CleanupAll on shutdown.
type Manager struct {
	cfg config.DisplayConfig

	mu       sync.Mutex
	displays map[string]*Info     // task id -> display
	conns    map[string]*xgb.Conn // display string -> connection
	capMu    map[string]*sync.Mutex

	start        startFunc
	hostSlotBusy func(num int) bool
}

// NewManager creates a display manager with the OS process starter and the
// host X lock-file check.
func NewManager(cfg config.DisplayConfig) *Manager {
	return &Manager{
		cfg:          cfg,
		displays:     make(map[string]*Info),
		conns:        make(map[string]*xgb.Conn),
		capMu:        make(map[string]*sync.Mutex),
		start:        startOSProcess,
		hostSlotBusy: xLockExists,
	}
}

// xLockExists reports whether the host already runs an X server on num.
func xLockExists(num int) bool {
	_, err := os.Stat(fmt.Sprintf("/tmp/.X%d-lock", num))
	return err == nil
}

// Allocate starts an Xvfb instance for taskID and returns its Info.
// Idempotent: a second call for the same task returns the existing display.
func (m *Manager) Allocate(ctx context.Context, taskID string, width, height int) (*Info, error) {
	m.mu.Lock()
	if info, ok := m.displays[taskID]; ok {
		m.mu.Unlock()
		return info, nil
	}
	num, err := m.freeSlotLocked()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	// Reserve the slot before dropping the lock for the slow subprocess
	// start so concurrent Allocates cannot pick the same number.
	placeholder := &Info{TaskID: taskID, Num: num}
	m.displays[taskID] = placeholder
	m.mu.Unlock()

	if width <= 0 {
		width = m.cfg.DefaultWidth
	}
	if height <= 0 {
		height = m.cfg.DefaultHeight
	}
	displayStr := fmt.Sprintf(":%d", num)

	proc, err := m.start("Xvfb", []string{
		displayStr,
		"-screen", "0", fmt.Sprintf("%dx%dx24", width, height),
		"-nolisten", "tcp",
	}, os.Environ())
	if err != nil {
		m.unreserve(taskID)
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	// Give Xvfb a moment to come up, then verify it is still alive.
	select {
	case <-time.After(m.cfg.SettleDelay):
	case <-ctx.Done():
		proc.Stop(context.Background(), m.cfg.StopTimeout)
		m.unreserve(taskID)
		return nil, ctx.Err()
	}
	if !proc.Alive() {
		m.unreserve(taskID)
		return nil, fmt.Errorf("%w: Xvfb exited on %s", ErrStartFailed, displayStr)
	}

	var wmProc process
	if m.cfg.WindowManager != "" {
		env := append(os.Environ(), "DISPLAY="+displayStr)
		wmProc, err = m.start(m.cfg.WindowManager, []string{"-no-slit", "-no-toolbar"}, env)
		if err != nil {
			logger.Warn(ctx, "Window manager failed to start",
				tag.Display(displayStr), tag.Error(err))
			wmProc = nil
		}
	}

	info := &Info{
		TaskID:     taskID,
		Num:        num,
		DisplayStr: displayStr,
		Width:      width,
		Height:     height,
		CreatedAt:  time.Now(),
		proc:       proc,
		wmProc:     wmProc,
	}
	m.mu.Lock()
	m.displays[taskID] = info
	m.mu.Unlock()

	logger.Info(ctx, "Allocated display", tag.TaskID(taskID), tag.Display(displayStr),
		"width", width, "height", height)
	return info, nil
}

// Release tears down the display for taskID: closes the cached connection,
// then stops the window manager and Xvfb with a bounded wait. Safe to call
// for unknown task ids.
func (m *Manager) Release(ctx context.Context, taskID string) {
	m.mu.Lock()
	info, ok := m.displays[taskID]
	if ok {
		delete(m.displays, taskID)
	}
	m.mu.Unlock()
	if !ok || info.DisplayStr == "" {
		return
	}

	m.CloseConn(info.DisplayStr)

	for _, p := range []process{info.wmProc, info.proc} {
		if p != nil {
			p.Stop(ctx, m.cfg.StopTimeout)
		}
	}
	logger.Info(ctx, "Released display", tag.TaskID(taskID), tag.Display(info.DisplayStr))
}

// GetDisplayString returns the display string for a task, falling back to
// the configured default display.
func (m *Manager) GetDisplayString(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.displays[taskID]; ok && info.DisplayStr != "" {
		return info.DisplayStr
	}
	return m.cfg.Default
}

// Conn returns the cached X connection for displayStr, opening one if
// absent. Connections are not thread-safe: callers that read pixels must
// hold CaptureMutex(displayStr) for the duration of the read.
func (m *Manager) Conn(displayStr string) (*xgb.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[displayStr]; ok {
		return conn, nil
	}
	conn, err := xgb.NewConnDisplay(displayStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to display %s: %w", displayStr, err)
	}
	m.conns[displayStr] = conn
	return conn, nil
}

// CloseConn closes and evicts the cached connection for displayStr, if any.
func (m *Manager) CloseConn(displayStr string) {
	m.mu.Lock()
	conn, ok := m.conns[displayStr]
	if ok {
		delete(m.conns, displayStr)
	}
	m.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// CaptureMutex returns the mutex serializing pixel reads on displayStr.
func (m *Manager) CaptureMutex(displayStr string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.capMu[displayStr]
	if !ok {
		mu = &sync.Mutex{}
		m.capMu[displayStr] = mu
	}
	return mu
}

// CleanupAll releases every display and closes every cached connection.
// Called once on daemon shutdown.
func (m *Manager) CleanupAll(ctx context.Context) {
	m.mu.Lock()
	taskIDs := make([]string, 0, len(m.displays))
	for id := range m.displays {
		taskIDs = append(taskIDs, id)
	}
	m.mu.Unlock()

	for _, id := range taskIDs {
		m.Release(ctx, id)
	}

	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*xgb.Conn)
	m.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	logger.Info(ctx, "All task displays cleaned up")
}

func (m *Manager) freeSlotLocked() (int, error) {
	used := make(map[int]bool, len(m.displays))
	for _, info := range m.displays {
		used[info.Num] = true
	}
	for num := m.cfg.SlotStart; num < m.cfg.SlotLimit; num++ {
		if !used[num] && !m.hostSlotBusy(num) {
			return num, nil
		}
	}
	return 0, ErrNoFreeDisplay
}

func (m *Manager) unreserve(taskID string) {
	m.mu.Lock()
	delete(m.displays, taskID)
	m.mu.Unlock()
}
