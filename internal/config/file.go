package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional config.toml. Unset keys fall through to defaults;
// environment variables win over the file.
type FileConfig struct {
	Deepgram struct {
		APIBaseURL  *string `toml:"api-base"`
		Model       *string `toml:"model"`
		Language    *string `toml:"language"`
		SmartFormat *bool   `toml:"smart-format"`
	} `toml:"deepgram"`

	Gemini struct {
		Model   *string `toml:"model"`
		BaseURL *string `toml:"base-url"`
	} `toml:"gemini"`

	Remote struct {
		BaseURL   *string `toml:"base-url"`
		TimeoutMS *int    `toml:"timeout-ms"`
	} `toml:"remote"`

	Audio struct {
		RecorderCommand *string `toml:"recorder"`
		InputFormat     *string `toml:"input-format"`
		InputDevice     *string `toml:"input-device"`
		SampleRate      *int    `toml:"sample-rate"`
		Channels        *int    `toml:"channels"`
		RecordingsDir   *string `toml:"recordings-dir"`
	} `toml:"audio"`

	Rules struct {
		Path           *string `toml:"path"`
		IterationLimit *int    `toml:"iteration-limit"`
	} `toml:"rules"`

	Session struct {
		ChunkSize         *int `toml:"chunk-size"`
		FinalizeTimeoutMS *int `toml:"finalize-timeout-ms"`
		AnalysisTimeoutMS *int `toml:"analysis-timeout-ms"`
	} `toml:"session"`

	Storage struct {
		OutboxPath *string `toml:"outbox"`
	} `toml:"storage"`

	Log struct {
		File       *string `toml:"file"`
		Production *bool   `toml:"production"`
		Console    *bool   `toml:"console"`
	} `toml:"log"`
}

// LoadFile reads a TOML config from path. A missing file is not an error.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config %q: %w", path, err)
	}
	return cfg, nil
}

func str(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}

func num(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}

func flag(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
