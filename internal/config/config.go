package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the complete daemon configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Vision     VisionConfig     `koanf:"vision"`
	Monitor    MonitorConfig    `koanf:"monitor"`
	Speed      SpeedConfig      `koanf:"speed"`
	Alerts     AlertsConfig     `koanf:"alerts"`
	Upload     UploadConfig     `koanf:"upload"`
	Mediastore MediastoreConfig `koanf:"mediastore"`
}

// ServerConfig holds the local HTTP/websocket surface settings.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// VisionConfig holds vision API settings.
type VisionConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"` // optional OpenAI-compatible gateway
}

// MonitorConfig holds capture loop settings.
type MonitorConfig struct {
	CameraSnapshotURL string        `koanf:"camera_snapshot_url"`
	WarmupDelay       time.Duration `koanf:"warmup_delay"`
	AnalysisInterval  time.Duration `koanf:"analysis_interval"`
	CaptureJitter     time.Duration `koanf:"capture_jitter"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
	MaxRetries        int           `koanf:"max_retries"`
	MaxFrameWidth     int           `koanf:"max_frame_width"`
	MaxFrameHeight    int           `koanf:"max_frame_height"`
}

// SpeedConfig holds speed monitor settings.
type SpeedConfig struct {
	OverpassURL          string        `koanf:"overpass_url"`
	LimitRefreshInterval time.Duration `koanf:"limit_refresh_interval"`
	LimitSearchRadius    float64       `koanf:"limit_search_radius_meters"`
}

// AlertsConfig holds alert dispatch settings.
type AlertsConfig struct {
	ConfidenceThreshold  float64       `koanf:"confidence_threshold"`
	Cooldown             time.Duration `koanf:"cooldown"`
	NotificationsGranted bool          `koanf:"notifications_granted"`
	SpeechCommand        string        `koanf:"speech_command"`
	SpeechArgs           []string      `koanf:"speech_args"`
}

// UploadConfig holds uploaded-media analysis settings.
type UploadConfig struct {
	MaxBytes        int64         `koanf:"max_bytes"`
	MaxFrameWidth   int           `koanf:"max_frame_width"`
	MaxFrameHeight  int           `koanf:"max_frame_height"`
	VideoSeekOffset time.Duration `koanf:"video_seek_offset"`
	FFmpegBinary    string        `koanf:"ffmpeg_binary"`
}

// MediastoreConfig holds the opaque media backend settings. An empty base
// URL disables persistence.
type MediastoreConfig struct {
	BaseURL string `koanf:"base_url"`
}

// Default returns the documented default configuration: 30% confidence
// threshold, 10s analysis interval, 60s alert cooldown.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8410",
		},
		Vision: VisionConfig{
			Model: "gpt-4o-mini",
		},
		Monitor: MonitorConfig{
			WarmupDelay:      3 * time.Second,
			AnalysisInterval: 10 * time.Second,
			CaptureJitter:    500 * time.Millisecond,
			RetryDelay:       5 * time.Second,
			MaxRetries:       1,
			MaxFrameWidth:    640,
			MaxFrameHeight:   480,
		},
		Speed: SpeedConfig{
			OverpassURL:          "https://overpass-api.de/api/interpreter",
			LimitRefreshInterval: 30 * time.Second,
			LimitSearchRadius:    60,
		},
		Alerts: AlertsConfig{
			ConfidenceThreshold: 30,
			Cooldown:            60 * time.Second,
			SpeechCommand:       "espeak",
		},
		Upload: UploadConfig{
			MaxBytes:        20 * 1024 * 1024,
			MaxFrameWidth:   640,
			MaxFrameHeight:  480,
			VideoSeekOffset: 2 * time.Second,
			FFmpegBinary:    "ffmpeg",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// DW__ environment variables (DW__VISION__API_KEY overrides vision.api_key).
func Load(path string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("DW__", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, "DW__"), "__", "."))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Vision.APIKey == "" {
		return fmt.Errorf("vision API key is required (vision.api_key or DW__VISION__API_KEY)")
	}
	if c.Monitor.AnalysisInterval <= 0 {
		return fmt.Errorf("monitor.analysis_interval must be positive")
	}
	if c.Alerts.ConfidenceThreshold < 0 || c.Alerts.ConfidenceThreshold > 100 {
		return fmt.Errorf("alerts.confidence_threshold must be in [0, 100]")
	}
	return nil
}
