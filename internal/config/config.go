// SPDX-License-Identifier: MIT

// Package config provides configuration management for the jukebox daemon.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration. Precedence:
// environment > config file > defaults.
type Config struct {
	// Storage
	MediaDir     string
	DBPath       string
	StoreBackend string // "sqlite" or "memory"

	// Broadcast sink
	RTMPURL      string // full sink URL; wins over StreamKey
	StreamKey    string // used to derive the Twitch ingest URL when RTMPURL is empty
	IdleImage    string
	VideoBitrate string
	AudioBitrate string
	Preset       string

	// Fetch caps
	MaxDurationSeconds int
	MaxFileSizeMB      int
	ProbeTimeout       time.Duration
	DownloadTimeout    time.Duration

	// Moderation
	NSFWThreshold     float64
	ModelDir          string
	EmbedderCmd       string // argv, whitespace-separated; empty disables the classifier
	FilterScript      string
	ModerationTimeout time.Duration

	// Worker pacing
	IdleInterval   time.Duration
	FailureBackoff time.Duration
	SkipGrace      time.Duration

	// Verdict cache
	CacheBackend string // "memory", "redis" or "badger"
	RedisAddr    string
	BadgerDir    string
	VerdictTTL   time.Duration

	// HTTP command surface
	APIAddr     string
	APIToken    string
	APIRate     int // requests/min/IP
	SubmitRate  float64
	SubmitBurst int

	// External binaries
	YTDLPPath   string
	FFmpegPath  string
	FFprobePath string

	// Logging. Format and service name are owned by the log package via
	// JUKE_LOG_FORMAT / JUKE_LOG_SERVICE; only the level is adjustable here.
	LogLevel string

	// Telemetry
	OTelEnabled     bool
	OTelEndpoint    string
	OTelProtocol    string // "http" or "grpc"
	OTelSampleRatio float64
}

// FileConfig is the YAML configuration structure. Every field is optional;
// unset fields keep the defaults, and environment variables override both.
type FileConfig struct {
	MediaDir     string `yaml:"mediaDir,omitempty"`
	DBPath       string `yaml:"dbPath,omitempty"`
	StoreBackend string `yaml:"storeBackend,omitempty"`

	RTMPURL      string `yaml:"rtmpUrl,omitempty"`
	StreamKey    string `yaml:"streamKey,omitempty"`
	IdleImage    string `yaml:"idleImage,omitempty"`
	VideoBitrate string `yaml:"videoBitrate,omitempty"`
	AudioBitrate string `yaml:"audioBitrate,omitempty"`
	Preset       string `yaml:"preset,omitempty"`

	MaxDurationSeconds *int   `yaml:"maxDurationSeconds,omitempty"`
	MaxFileSizeMB      *int   `yaml:"maxFileSizeMb,omitempty"`
	ProbeTimeout       string `yaml:"probeTimeout,omitempty"`    // e.g. "30s"
	DownloadTimeout    string `yaml:"downloadTimeout,omitempty"` // e.g. "300s"

	NSFWThreshold     *float64 `yaml:"nsfwThreshold,omitempty"`
	ModelDir          string   `yaml:"modelDir,omitempty"`
	EmbedderCmd       string   `yaml:"embedderCmd,omitempty"`
	FilterScript      string   `yaml:"filterScript,omitempty"`
	ModerationTimeout string   `yaml:"moderationTimeout,omitempty"`

	IdleInterval   string `yaml:"idleInterval,omitempty"`
	FailureBackoff string `yaml:"failureBackoff,omitempty"`
	SkipGrace      string `yaml:"skipGrace,omitempty"`

	CacheBackend string `yaml:"cacheBackend,omitempty"`
	RedisAddr    string `yaml:"redisAddr,omitempty"`
	BadgerDir    string `yaml:"badgerDir,omitempty"`
	VerdictTTL   string `yaml:"verdictTtl,omitempty"`

	APIAddr     string   `yaml:"apiAddr,omitempty"`
	APIToken    string   `yaml:"apiToken,omitempty"`
	APIRate     *int     `yaml:"apiRate,omitempty"`
	SubmitRate  *float64 `yaml:"submitRate,omitempty"`
	SubmitBurst *int     `yaml:"submitBurst,omitempty"`

	YTDLPPath   string `yaml:"ytdlpPath,omitempty"`
	FFmpegPath  string `yaml:"ffmpegPath,omitempty"`
	FFprobePath string `yaml:"ffprobePath,omitempty"`

	LogLevel string `yaml:"logLevel,omitempty"`

	OTelEnabled     *bool    `yaml:"otelEnabled,omitempty"`
	OTelEndpoint    string   `yaml:"otelEndpoint,omitempty"`
	OTelProtocol    string   `yaml:"otelProtocol,omitempty"`
	OTelSampleRatio *float64 `yaml:"otelSampleRatio,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		MediaDir:           "./media",
		DBPath:             "./data/queue.db",
		StoreBackend:       "sqlite",
		IdleImage:          "./idle.png",
		VideoBitrate:       "3000k",
		AudioBitrate:       "128k",
		Preset:             "veryfast",
		MaxDurationSeconds: 600,
		MaxFileSizeMB:      500,
		ProbeTimeout:       30 * time.Second,
		DownloadTimeout:    300 * time.Second,
		NSFWThreshold:      0.20,
		ModelDir:           "./models",
		ModerationTimeout:  120 * time.Second,
		IdleInterval:       30 * time.Second,
		FailureBackoff:     5 * time.Second,
		SkipGrace:          5 * time.Second,
		CacheBackend:       "memory",
		RedisAddr:          "localhost:6379",
		BadgerDir:          "./data/verdicts",
		VerdictTTL:         24 * time.Hour,
		APIAddr:            "127.0.0.1:8722",
		APIRate:            60,
		SubmitRate:         3,
		SubmitBurst:        2,
		YTDLPPath:          "yt-dlp",
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		LogLevel:           "info",
		OTelProtocol:       "http",
		OTelSampleRatio:    1.0,
	}
}

// Load resolves the configuration: defaults, then the optional YAML file at
// path (JUKE_CONFIG when empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("JUKE_CONFIG")
	}
	if path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		applyFile(&cfg, fc)
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile reads and strictly decodes a YAML config file. Unknown keys are
// rejected so typos surface at startup instead of being silently ignored.
func loadFile(path string) (FileConfig, error) {
	var fc FileConfig
	f, err := os.Open(path) // #nosec G304 -- operator-provided config path
	if err != nil {
		return fc, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func applyFile(cfg *Config, fc FileConfig) {
	setString(&cfg.MediaDir, fc.MediaDir)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.StoreBackend, fc.StoreBackend)
	setString(&cfg.RTMPURL, fc.RTMPURL)
	setString(&cfg.StreamKey, fc.StreamKey)
	setString(&cfg.IdleImage, fc.IdleImage)
	setString(&cfg.VideoBitrate, fc.VideoBitrate)
	setString(&cfg.AudioBitrate, fc.AudioBitrate)
	setString(&cfg.Preset, fc.Preset)
	setInt(&cfg.MaxDurationSeconds, fc.MaxDurationSeconds)
	setInt(&cfg.MaxFileSizeMB, fc.MaxFileSizeMB)
	setDuration(&cfg.ProbeTimeout, fc.ProbeTimeout)
	setDuration(&cfg.DownloadTimeout, fc.DownloadTimeout)
	setFloat(&cfg.NSFWThreshold, fc.NSFWThreshold)
	setString(&cfg.ModelDir, fc.ModelDir)
	setString(&cfg.EmbedderCmd, fc.EmbedderCmd)
	setString(&cfg.FilterScript, fc.FilterScript)
	setDuration(&cfg.ModerationTimeout, fc.ModerationTimeout)
	setDuration(&cfg.IdleInterval, fc.IdleInterval)
	setDuration(&cfg.FailureBackoff, fc.FailureBackoff)
	setDuration(&cfg.SkipGrace, fc.SkipGrace)
	setString(&cfg.CacheBackend, fc.CacheBackend)
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setString(&cfg.BadgerDir, fc.BadgerDir)
	setDuration(&cfg.VerdictTTL, fc.VerdictTTL)
	setString(&cfg.APIAddr, fc.APIAddr)
	setString(&cfg.APIToken, fc.APIToken)
	setInt(&cfg.APIRate, fc.APIRate)
	setFloat(&cfg.SubmitRate, fc.SubmitRate)
	setInt(&cfg.SubmitBurst, fc.SubmitBurst)
	setString(&cfg.YTDLPPath, fc.YTDLPPath)
	setString(&cfg.FFmpegPath, fc.FFmpegPath)
	setString(&cfg.FFprobePath, fc.FFprobePath)
	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.OTelEnabled != nil {
		cfg.OTelEnabled = *fc.OTelEnabled
	}
	setString(&cfg.OTelEndpoint, fc.OTelEndpoint)
	setString(&cfg.OTelProtocol, fc.OTelProtocol)
	setFloat(&cfg.OTelSampleRatio, fc.OTelSampleRatio)
}

func applyEnv(cfg *Config) {
	cfg.MediaDir = ParseString("JUKE_MEDIA_DIR", cfg.MediaDir)
	cfg.DBPath = ParseString("JUKE_DB_PATH", cfg.DBPath)
	cfg.StoreBackend = ParseString("JUKE_STORE_BACKEND", cfg.StoreBackend)
	cfg.RTMPURL = ParseString("JUKE_RTMP_URL", cfg.RTMPURL)
	cfg.StreamKey = ParseString("JUKE_STREAM_KEY", cfg.StreamKey)
	cfg.IdleImage = ParseString("JUKE_IDLE_IMAGE", cfg.IdleImage)
	cfg.VideoBitrate = ParseString("JUKE_VIDEO_BITRATE", cfg.VideoBitrate)
	cfg.AudioBitrate = ParseString("JUKE_AUDIO_BITRATE", cfg.AudioBitrate)
	cfg.Preset = ParseString("JUKE_PRESET", cfg.Preset)
	cfg.MaxDurationSeconds = ParseInt("JUKE_MAX_DURATION_SECONDS", cfg.MaxDurationSeconds)
	cfg.MaxFileSizeMB = ParseInt("JUKE_MAX_FILE_SIZE_MB", cfg.MaxFileSizeMB)
	cfg.ProbeTimeout = ParseDuration("JUKE_PROBE_TIMEOUT", cfg.ProbeTimeout)
	cfg.DownloadTimeout = ParseDuration("JUKE_DOWNLOAD_TIMEOUT", cfg.DownloadTimeout)
	cfg.NSFWThreshold = ParseFloat("JUKE_NSFW_THRESHOLD", cfg.NSFWThreshold)
	cfg.ModelDir = ParseString("JUKE_MODEL_DIR", cfg.ModelDir)
	cfg.EmbedderCmd = ParseString("JUKE_EMBEDDER_CMD", cfg.EmbedderCmd)
	cfg.FilterScript = ParseString("JUKE_FILTER_SCRIPT", cfg.FilterScript)
	cfg.ModerationTimeout = ParseDuration("JUKE_MODERATION_TIMEOUT", cfg.ModerationTimeout)
	cfg.IdleInterval = ParseDuration("JUKE_IDLE_INTERVAL", cfg.IdleInterval)
	cfg.FailureBackoff = ParseDuration("JUKE_FAILURE_BACKOFF", cfg.FailureBackoff)
	cfg.SkipGrace = ParseDuration("JUKE_SKIP_GRACE", cfg.SkipGrace)
	cfg.CacheBackend = ParseString("JUKE_CACHE_BACKEND", cfg.CacheBackend)
	cfg.RedisAddr = ParseString("JUKE_REDIS_ADDR", cfg.RedisAddr)
	cfg.BadgerDir = ParseString("JUKE_BADGER_DIR", cfg.BadgerDir)
	cfg.VerdictTTL = ParseDuration("JUKE_VERDICT_TTL", cfg.VerdictTTL)
	cfg.APIAddr = ParseString("JUKE_API_ADDR", cfg.APIAddr)
	cfg.APIToken = ParseString("JUKE_API_TOKEN", cfg.APIToken)
	cfg.APIRate = ParseInt("JUKE_API_RATE", cfg.APIRate)
	cfg.SubmitRate = ParseFloat("JUKE_SUBMIT_RATE", cfg.SubmitRate)
	cfg.SubmitBurst = ParseInt("JUKE_SUBMIT_BURST", cfg.SubmitBurst)
	cfg.YTDLPPath = ParseString("JUKE_YTDLP_PATH", cfg.YTDLPPath)
	cfg.FFmpegPath = ParseString("JUKE_FFMPEG_PATH", cfg.FFmpegPath)
	cfg.FFprobePath = ParseString("JUKE_FFPROBE_PATH", cfg.FFprobePath)
	cfg.LogLevel = ParseString("JUKE_LOG_LEVEL", cfg.LogLevel)
	cfg.OTelEnabled = ParseBool("JUKE_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = ParseString("JUKE_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelProtocol = ParseString("JUKE_OTEL_PROTOCOL", cfg.OTelProtocol)
	cfg.OTelSampleRatio = ParseFloat("JUKE_OTEL_SAMPLE_RATIO", cfg.OTelSampleRatio)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// twitchIngest is the default RTMP ingest used when only a stream key is configured.
const twitchIngest = "rtmp://live.twitch.tv/app/%s"

// SinkURL returns the effective RTMP sink URL.
func (c Config) SinkURL() string {
	if c.RTMPURL != "" {
		return c.RTMPURL
	}
	if c.StreamKey != "" {
		return fmt.Sprintf(twitchIngest, c.StreamKey)
	}
	return ""
}

// EmbedderArgv splits the configured embedder command into argv parts.
// Plain whitespace splitting; shell quoting is not interpreted.
func (c Config) EmbedderArgv() []string {
	return strings.Fields(c.EmbedderCmd)
}

// Validate reports fatal configuration errors. It is called during Load and
// by the standalone validator binary.
func Validate(cfg Config) error {
	if cfg.SinkURL() == "" {
		return fmt.Errorf("config: one of JUKE_RTMP_URL or JUKE_STREAM_KEY is required")
	}
	if !strings.HasPrefix(cfg.SinkURL(), "rtmp://") && !strings.HasPrefix(cfg.SinkURL(), "rtmps://") {
		return fmt.Errorf("config: sink url must use rtmp:// or rtmps://, got %q", cfg.SinkURL())
	}
	switch cfg.StoreBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown store backend %q", cfg.StoreBackend)
	}
	switch cfg.CacheBackend {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("config: unknown cache backend %q", cfg.CacheBackend)
	}
	if cfg.MaxDurationSeconds <= 0 {
		return fmt.Errorf("config: max duration must be positive, got %d", cfg.MaxDurationSeconds)
	}
	if cfg.MaxFileSizeMB <= 0 {
		return fmt.Errorf("config: max file size must be positive, got %d", cfg.MaxFileSizeMB)
	}
	if cfg.NSFWThreshold < 0 || cfg.NSFWThreshold > 1 {
		return fmt.Errorf("config: nsfw threshold must be within [0,1], got %g", cfg.NSFWThreshold)
	}
	if cfg.OTelSampleRatio < 0 || cfg.OTelSampleRatio > 1 {
		return fmt.Errorf("config: otel sample ratio must be within [0,1], got %g", cfg.OTelSampleRatio)
	}
	if _, _, err := net.SplitHostPort(cfg.APIAddr); err != nil {
		return fmt.Errorf("config: invalid api address %q: %w", cfg.APIAddr, err)
	}
	switch cfg.OTelProtocol {
	case "http", "grpc":
	default:
		return fmt.Errorf("config: otel protocol must be http or grpc, got %q", cfg.OTelProtocol)
	}
	if cfg.SubmitRate <= 0 || cfg.SubmitBurst <= 0 {
		return fmt.Errorf("config: submit rate and burst must be positive")
	}
	return nil
}

// EnsureDirs creates the directories the daemon writes to.
func EnsureDirs(cfg Config) error {
	dirs := []string{cfg.MediaDir}
	if cfg.StoreBackend == "sqlite" {
		dirs = append(dirs, filepath.Dir(cfg.DBPath))
	}
	if cfg.CacheBackend == "badger" {
		dirs = append(dirs, cfg.BadgerDir)
	}
	for _, d := range dirs {
		if d == "" || d == "." {
			continue
		}
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return nil
}
