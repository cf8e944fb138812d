// Package config holds EngineConfig, the tunables the PlayerEngine and
// its collaborators (fetch, mediasource, transform, control) are
// constructed with. No globals: every value here is threaded explicitly
// into the engine constructor, never read from process-wide state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AppName        = "streamcore"
	AppDescription = "streaming audio pipeline and gapless playback engine"

	ConfigDir      = ".config/streamcore"
	ConfigFileName = "engine.yml"

	DefaultVolume = 70
	MinVolume     = 0
	MaxVolume     = 100

	DefaultSpeed = 1.0
	MinSpeed     = 0.1
	MaxSpeed     = 10.0
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/glebovdev/streamcore/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// SpeedMode selects the playback-rate-change backend; mirrors
// transform.SpeedMode without importing it (config must stay a leaf
// package so every other package can depend on it).
type SpeedMode string

const (
	SpeedModeResample SpeedMode = "resample"
	SpeedModeStretch  SpeedMode = "stretch"
)

// LoopMode controls queue behavior once a track ends with no gapless
// successor queued.
type LoopMode string

const (
	LoopQueue  LoopMode = "queue"
	LoopSingle LoopMode = "single"
	LoopRandom LoopMode = "random"
)

// EngineConfig is every tunable knob of the streaming/playback core.
type EngineConfig struct {
	Volume   int      `yaml:"volume"`
	Speed    float64  `yaml:"speed"`
	SpeedMode SpeedMode `yaml:"speed_mode"`
	Gapless  bool     `yaml:"gapless"`
	LoopMode LoopMode `yaml:"loop_mode"`

	// ReadTimeout bounds how long SeekableMediaSource.Read blocks
	// waiting for not-yet-downloaded bytes before returning
	// WouldBlockExceeded.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// BufferSeconds sizes the AsyncSampleRing's chunk capacity.
	BufferSeconds float64 `yaml:"buffer_seconds"`

	// PrefetchThreshold is how much remaining duration on the current
	// track triggers opening the next TrackSource for gapless playback.
	PrefetchThreshold time.Duration `yaml:"prefetch_threshold"`

	// PrefetchSeconds is loaded, saved and defaulted, but the fetcher
	// does not read it: internal/fetch sizes its window from its own
	// DefaultPrefetchSeconds constant.
	PrefetchSeconds float64 `yaml:"prefetch_seconds"`

	// TickInterval is the progress clock's publish cadence.
	TickInterval time.Duration `yaml:"tick_interval"`

	// The fetch retry fields are likewise not read by internal/fetch,
	// whose HTTP client uses fixed values (5 retries, 100ms–1.6s).
	MaxFetchRetries  int           `yaml:"max_fetch_retries"`
	FetchRetryMinWait time.Duration `yaml:"fetch_retry_min_wait"`
	FetchRetryMaxWait time.Duration `yaml:"fetch_retry_max_wait"`

	// ControlSurfaceAddr is a "tcp://host:port" or "unix:///path"
	// endpoint the control surface binds to.
	ControlSurfaceAddr string `yaml:"control_surface_addr"`
}

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// ClampSpeed ensures speed is within the valid range [0.1, 10.0].
func ClampSpeed(speed float64) float64 {
	if speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(home, ConfigDir, ConfigFileName)
	return configPath, nil
}

func Load() (*EngineConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Volume = ClampVolume(cfg.Volume)
	cfg.Speed = ClampSpeed(cfg.Speed)

	return cfg, nil
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *EngineConfig) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		Volume:            DefaultVolume,
		Speed:             DefaultSpeed,
		SpeedMode:         SpeedModeResample,
		Gapless:           true,
		LoopMode:          LoopQueue,
		ReadTimeout:       15 * time.Second,
		BufferSeconds:     1.0,
		PrefetchThreshold: 5 * time.Second,
		PrefetchSeconds:   1.0,
		TickInterval:      250 * time.Millisecond,
		MaxFetchRetries:   5,
		FetchRetryMinWait: 100 * time.Millisecond,
		FetchRetryMaxWait: 1600 * time.Millisecond,
		ControlSurfaceAddr: "tcp://[::1]:50101",
	}
}
