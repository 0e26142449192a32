package deepgram

import (
	"fmt"
	"net/url"
	"strings"

	"speakdrill/internal/ports"
)

type eventKind int

const (
	eventPartial eventKind = iota
	eventFinal
)

type transcriptEvent struct {
	kind eventKind
	text string
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type alternative struct {
	Transcript string `json:"transcript"`
}

func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(r.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(r.Results.Channels) > 0 && len(r.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

// listenURL converts the REST base URL into the websocket listen endpoint for an artifact.
func listenURL(cfg Config, artifact ports.AudioArtifact) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	encoding := artifact.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	sampleRate := artifact.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := artifact.Channels
	if channels <= 0 {
		channels = 1
	}

	query := u.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("channels", fmt.Sprintf("%d", channels))
	query.Set("interim_results", "false")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	query.Set("punctuate", "true")
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
