package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "VIGIL"
	appDirName = "vigil"
)

// Loader reads and merges configuration from file, environment, and
// defaults.
type Loader struct {
	v          *viper.Viper
	configFile string
	homeDir    string
	warnings   []string
}

// LoaderOption is a functional option for configuring a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets an explicit configuration file path.
func WithConfigFile(configFile string) LoaderOption {
	return func(l *Loader) {
		l.configFile = configFile
	}
}

// WithHomeDir overrides the vigil home directory, bypassing the VIGIL_HOME
// and XDG resolution.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.homeDir = dir
	}
}

// Load builds the configuration with a fresh viper instance.
func Load(opts ...LoaderOption) (*Config, error) {
	return NewLoader(viper.New(), opts...).Load()
}

// NewLoader creates a Loader with the given viper instance and options.
func NewLoader(v *viper.Viper, opts ...LoaderOption) *Loader {
	l := &Loader{v: v}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the configuration. A missing config file is not an error;
// malformed values produce warnings and fall back to defaults.
func (l *Loader) Load() (*Config, error) {
	home := l.resolveHome()

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults(home)

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.AddConfigPath(home)
	}
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if l.configFile == "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Global: GlobalConfig{
			Debug:     l.v.GetBool("debug"),
			LogFormat: l.v.GetString("logFormat"),
		},
		Paths: PathsConfig{
			HomeDir:        home,
			DataDir:        l.v.GetString("paths.dataDir"),
			LogDir:         l.v.GetString("paths.logDir"),
			DBFile:         l.v.GetString("paths.dbFile"),
			ScreenshotsDir: l.v.GetString("paths.screenshotsDir"),
		},
		Display: DisplayConfig{
			Default:       l.v.GetString("display.default"),
			DefaultWidth:  l.v.GetInt("display.width"),
			DefaultHeight: l.v.GetInt("display.height"),
			SlotStart:     l.v.GetInt("display.slotStart"),
			SlotLimit:     l.v.GetInt("display.slotLimit"),
			SettleDelay:   l.duration("display.settleDelay"),
			StopTimeout:   l.duration("display.stopTimeout"),
			WindowManager: l.v.GetString("display.windowManager"),
		},
		Wait: WaitConfig{
			DefaultTimeout:       l.duration("wait.defaultTimeout"),
			DefaultPollInterval:  l.duration("wait.pollInterval"),
			MinPollInterval:      l.duration("wait.minPollInterval"),
			MaxPollInterval:      l.duration("wait.maxPollInterval"),
			AdaptivePolling:      l.v.GetBool("wait.adaptivePolling"),
			PixelDiffThreshold:   l.v.GetFloat64("wait.pixelDiffThreshold"),
			DiffMaxWidth:         l.v.GetInt("wait.diffMaxWidth"),
			MaxStatic:            l.duration("wait.maxStatic"),
			PartialStreakResolve: l.v.GetInt("wait.partialStreakResolve"),
			ResolveConfidence:    l.v.GetFloat64("wait.resolveConfidence"),
			FrameMaxDim:          l.v.GetInt("wait.frameMaxDim"),
			FrameJPEGQuality:     l.v.GetInt("wait.frameJpegQuality"),
			ThumbMaxDim:          l.v.GetInt("wait.thumbMaxDim"),
			ThumbJPEGQuality:     l.v.GetInt("wait.thumbJpegQuality"),
			MaxContextFrames:     l.v.GetInt("wait.maxContextFrames"),
			MaxContextVerdicts:   l.v.GetInt("wait.maxContextVerdicts"),
		},
		Vision: VisionConfig{
			Backend: l.v.GetString("vision.backend"),
			BaseURL: l.v.GetString("vision.baseUrl"),
			Model:   l.v.GetString("vision.model"),
			APIKey:  l.v.GetString("vision.apiKey"),
			Timeout: l.duration("vision.timeout"),
			System:  l.v.GetString("vision.system"),
		},
		Journal: JournalConfig{
			StuckThreshold: l.duration("journal.stuckThreshold"),
			StuckInterval:  l.duration("journal.stuckInterval"),
			StuckCooldown:  l.duration("journal.stuckCooldown"),
		},
		Wake: WakeConfig{
			Command: l.v.GetStringSlice("wake.command"),
			Timeout: l.duration("wake.timeout"),
		},
		Server: ServerConfig{
			Host: l.v.GetString("server.host"),
			Port: l.v.GetInt("server.port"),
		},
	}
	cfg.Warnings = l.warnings

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.ScreenshotsDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return cfg, nil
}

func (l *Loader) resolveHome() string {
	if l.homeDir != "" {
		return l.homeDir
	}
	if env := os.Getenv(envPrefix + "_HOME"); env != "" {
		return env
	}
	return filepath.Join(xdg.ConfigHome, appDirName)
}

func (l *Loader) setDefaults(home string) {
	dataDir := filepath.Join(home, "data")

	l.v.SetDefault("debug", false)
	l.v.SetDefault("logFormat", "text")

	l.v.SetDefault("paths.dataDir", dataDir)
	l.v.SetDefault("paths.logDir", filepath.Join(home, "logs"))
	l.v.SetDefault("paths.dbFile", filepath.Join(dataDir, "vigil.db"))
	l.v.SetDefault("paths.screenshotsDir", filepath.Join(dataDir, "screenshots"))

	l.v.SetDefault("display.default", defaultDisplayEnv())
	l.v.SetDefault("display.width", 1280)
	l.v.SetDefault("display.height", 720)
	l.v.SetDefault("display.slotStart", 100)
	l.v.SetDefault("display.slotLimit", 1000)
	l.v.SetDefault("display.settleDelay", "300ms")
	l.v.SetDefault("display.stopTimeout", "5s")
	l.v.SetDefault("display.windowManager", "fluxbox")

	l.v.SetDefault("wait.defaultTimeout", "300s")
	l.v.SetDefault("wait.pollInterval", "2s")
	l.v.SetDefault("wait.minPollInterval", "500ms")
	l.v.SetDefault("wait.maxPollInterval", "5s")
	l.v.SetDefault("wait.adaptivePolling", true)
	l.v.SetDefault("wait.pixelDiffThreshold", 0.01)
	l.v.SetDefault("wait.diffMaxWidth", 320)
	l.v.SetDefault("wait.maxStatic", "30s")
	l.v.SetDefault("wait.partialStreakResolve", 2)
	l.v.SetDefault("wait.resolveConfidence", 0.75)
	l.v.SetDefault("wait.frameMaxDim", 960)
	l.v.SetDefault("wait.frameJpegQuality", 72)
	l.v.SetDefault("wait.thumbMaxDim", 360)
	l.v.SetDefault("wait.thumbJpegQuality", 60)
	l.v.SetDefault("wait.maxContextFrames", 4)
	l.v.SetDefault("wait.maxContextVerdicts", 3)

	l.v.SetDefault("vision.backend", "ollama")
	l.v.SetDefault("vision.baseUrl", "")
	l.v.SetDefault("vision.model", "")
	l.v.SetDefault("vision.timeout", "180s")
	l.v.SetDefault("vision.system", defaultSystemInstructions)

	l.v.SetDefault("journal.stuckThreshold", "300s")
	l.v.SetDefault("journal.stuckInterval", "60s")
	l.v.SetDefault("journal.stuckCooldown", "300s")

	l.v.SetDefault("wake.command", []string{"openclaw", "system", "event", "--mode", "now", "--text"})
	l.v.SetDefault("wake.timeout", "10s")

	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8765)
}

// duration parses a duration key, warning and returning zero on bad input.
func (l *Loader) duration(key string) time.Duration {
	value := l.v.GetString(key)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s value: %s", key, value))
		return 0
	}
	return d
}

func defaultDisplayEnv() string {
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return ":99"
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

const defaultSystemInstructions = "You are a visual condition evaluator for GUI screenshots. " +
	"Look at the screenshots and decide if the stated condition is met. " +
	"Be decisive: answer resolved if the evidence is reasonably clear. " +
	"Only answer watching if the evidence is genuinely absent or contradicts the condition. " +
	"Follow the output format in the user prompt exactly."
