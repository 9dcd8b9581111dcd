// Package config loads and validates the daemon configuration from file,
// environment, and defaults.
package config

import (
	"time"
)

// Config holds every tunable the daemon reads at startup. It is built once
// by Load and threaded through the Daemon; nothing reads viper after that.
type Config struct {
	Global   GlobalConfig
	Paths    PathsConfig
	Display  DisplayConfig
	Wait     WaitConfig
	Vision   VisionConfig
	Journal  JournalConfig
	Wake     WakeConfig
	Server   ServerConfig
	Warnings []string
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	Debug     bool
	LogFormat string // "text" or "json"
}

// PathsConfig holds the filesystem layout under the vigil home directory.
type PathsConfig struct {
	HomeDir        string
	DataDir        string
	LogDir         string
	DBFile         string
	ScreenshotsDir string
}

// DisplayConfig controls virtual display allocation.
type DisplayConfig struct {
	Default       string // fallback display when a task has none, e.g. ":99"
	DefaultWidth  int
	DefaultHeight int
	SlotStart     int           // lowest display number to scan from
	SlotLimit     int           // exclusive upper bound of the scan
	SettleDelay   time.Duration // wait after spawning Xvfb before liveness check
	StopTimeout   time.Duration // graceful termination window before SIGKILL
	WindowManager string        // window manager binary, empty disables
}

// WaitConfig controls the wait scheduler and its per-job machinery.
type WaitConfig struct {
	DefaultTimeout       time.Duration
	DefaultPollInterval  time.Duration
	MinPollInterval      time.Duration
	MaxPollInterval      time.Duration
	AdaptivePolling      bool
	PixelDiffThreshold   float64
	DiffMaxWidth         int
	MaxStatic            time.Duration // force a vision call after this much gate-skipped time
	PartialStreakResolve int
	ResolveConfidence    float64
	FrameMaxDim          int
	FrameJPEGQuality     int
	ThumbMaxDim          int
	ThumbJPEGQuality     int
	MaxContextFrames     int
	MaxContextVerdicts   int
}

// VisionConfig selects and configures the vision backend.
type VisionConfig struct {
	Backend string // ollama | local | anthropic | passthrough
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
	System  string // system instructions sent with every evaluation
}

// JournalConfig controls the task journal and stuck detection.
type JournalConfig struct {
	StuckThreshold time.Duration
	StuckInterval  time.Duration
	StuckCooldown  time.Duration
}

// WakeConfig controls the out-of-band wake channel.
type WakeConfig struct {
	Command []string // argv; the wake text is appended as the last argument
	Timeout time.Duration
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}
