// Package config resolves runtime settings from the environment, an optional
// .env file and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const appName = "speakdrill"

type Config struct {
	Deepgram DeepgramConfig
	Gemini   GeminiConfig
	Remote   RemoteConfig
	Auth     AuthConfig
	Audio    AudioConfig
	Rules    RulesConfig
	Session  SessionConfig
	Storage  StorageConfig
	Log      LogConfig

	// File is the config.toml that was consulted, whether or not it existed.
	File string
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	Token string
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	RecordingsDir   string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type SessionConfig struct {
	ChunkSize       int
	FinalizeTimeout time.Duration
	AnalysisTimeout time.Duration
}

type StorageConfig struct {
	OutboxPath string
}

type LogConfig struct {
	FilePath   string
	Production bool
	Console    bool
}

// Load resolves configuration. Values from .env never override variables
// already present in the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(firstNonEmpty(os.Getenv("XDG_CONFIG_HOME"), filepath.Join(home, ".config")), appName)
	dataDir := filepath.Join(firstNonEmpty(os.Getenv("XDG_DATA_HOME"), filepath.Join(home, ".local", "share")), appName)

	filePath := envOrDefault("SPEAKDRILL_CONFIG", filepath.Join(configDir, "config.toml"))
	file, err := LoadFile(filePath)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		File: filePath,
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", str(file.Deepgram.APIBaseURL, "https://api.deepgram.com/v1")),
			Model:       envOrDefault("DEEPGRAM_MODEL", str(file.Deepgram.Model, "nova-2")),
			Language:    envOrDefault("DEEPGRAM_LANGUAGE", str(file.Deepgram.Language, "")),
			SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", flag(file.Deepgram.SmartFormat, true)),
		},
		Gemini: GeminiConfig{
			APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			Model:   envOrDefault("GEMINI_MODEL", str(file.Gemini.Model, "gemini-2.0-flash")),
			BaseURL: envOrDefault("GEMINI_API_BASE", str(file.Gemini.BaseURL, "https://generativelanguage.googleapis.com/v1beta/models")),
		},
		Remote: RemoteConfig{
			BaseURL: envOrDefault("SPEAKDRILL_API_URL", str(file.Remote.BaseURL, "")),
			Timeout: time.Duration(envOrDefaultInt("SPEAKDRILL_API_TIMEOUT_MS", num(file.Remote.TimeoutMS, 15000))) * time.Millisecond,
		},
		Auth: AuthConfig{
			Token: strings.TrimSpace(os.Getenv("SPEAKDRILL_TOKEN")),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("SPEAKDRILL_FFMPEG_COMMAND", str(file.Audio.RecorderCommand, "ffmpeg")),
			InputFormat:     envOrDefault("SPEAKDRILL_AUDIO_INPUT_FORMAT", str(file.Audio.InputFormat, "pulse")),
			InputDevice: firstNonEmpty(
				os.Getenv("SPEAKDRILL_AUDIO_INPUT_DEVICE"),
				str(file.Audio.InputDevice, ""),
				"default",
			),
			SampleRate:    envOrDefaultInt("SPEAKDRILL_SAMPLE_RATE", num(file.Audio.SampleRate, 16000)),
			Channels:      envOrDefaultInt("SPEAKDRILL_CHANNELS", num(file.Audio.Channels, 1)),
			RecordingsDir: envOrDefault("SPEAKDRILL_RECORDINGS_DIR", str(file.Audio.RecordingsDir, filepath.Join(dataDir, "recordings"))),
		},
		Rules: RulesConfig{
			Path:           envOrDefault("SPEAKDRILL_RULES_FILE", str(file.Rules.Path, filepath.Join(configDir, "transcript.rules"))),
			IterationLimit: envOrDefaultInt("SPEAKDRILL_RULE_ITERATION_LIMIT", num(file.Rules.IterationLimit, 30)),
		},
		Session: SessionConfig{
			ChunkSize:       envOrDefaultInt("SPEAKDRILL_AUDIO_CHUNK_SIZE", num(file.Session.ChunkSize, 4096)),
			FinalizeTimeout: millis("SPEAKDRILL_FINALIZE_TIMEOUT_MS", num(file.Session.FinalizeTimeoutMS, 5000)),
			AnalysisTimeout: millis("SPEAKDRILL_ANALYSIS_TIMEOUT_MS", num(file.Session.AnalysisTimeoutMS, 120000)),
		},
		Storage: StorageConfig{
			OutboxPath: envOrDefault("SPEAKDRILL_OUTBOX", str(file.Storage.OutboxPath, filepath.Join(dataDir, "outbox.db"))),
		},
		Log: LogConfig{
			FilePath:   envOrDefault("SPEAKDRILL_LOG_FILE", str(file.Log.File, filepath.Join(dataDir, "logs", "speakdrill.log"))),
			Production: envOrDefaultBool("SPEAKDRILL_LOG_PRODUCTION", flag(file.Log.Production, false)),
			Console:    envOrDefaultBool("SPEAKDRILL_LOG_CONSOLE", flag(file.Log.Console, false)),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.FinalizeTimeout <= 0 {
		cfg.Session.FinalizeTimeout = 5 * time.Second
	}
	if cfg.Session.AnalysisTimeout <= 0 {
		cfg.Session.AnalysisTimeout = 2 * time.Minute
	}
	if cfg.Remote.Timeout <= 0 {
		cfg.Remote.Timeout = 15 * time.Second
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func millis(key string, fallback int) time.Duration {
	return time.Duration(envOrDefaultInt(key, fallback)) * time.Millisecond
}
