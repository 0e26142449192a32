// Package deepgram transcribes finished recordings over the Deepgram live
// listen websocket.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"speakdrill/internal/ports"
)

const (
	defaultBaseURL         = "https://api.deepgram.com/v1"
	defaultModel           = "nova-2"
	defaultChunkSize       = 4096
	defaultFinalizeTimeout = 5 * time.Second
)

var ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")

// Config controls Deepgram settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool

	// ChunkSize is the number of bytes sent per websocket frame.
	ChunkSize int
	// FinalizeTimeout bounds the wait for trailing results after the audio is sent.
	FinalizeTimeout time.Duration
}

// Transcriber implements ports.Transcriber.
type Transcriber struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewTranscriber(cfg Config) *Transcriber {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	return &Transcriber{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Transcribe streams the artifact to Deepgram and returns the joined final transcript.
func (t *Transcriber) Transcribe(ctx context.Context, artifact ports.AudioArtifact) (string, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	file, err := os.Open(artifactPath(artifact.URI))
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer file.Close()

	stream, err := t.open(ctx, artifact)
	if err != nil {
		return "", err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-stop:
		}
	}()

	return transcribeStream(ctx, file, stream, t.cfg.ChunkSize, t.cfg.FinalizeTimeout)
}

func (t *Transcriber) open(ctx context.Context, artifact ports.AudioArtifact) (audioStream, error) {
	wsURL, err := listenURL(t.cfg, artifact)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.APIKey)

	conn, _, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}
	return newListenStream(conn), nil
}

func transcribeStream(ctx context.Context, audio io.Reader, stream audioStream, chunkSize int, finalizeTimeout time.Duration) (string, error) {
	var agg transcriptAggregator
	collected := make(chan struct{})
	go collectTranscripts(stream.Events(), &agg, collected)

	pumpErr := pumpAudio(audio, stream, chunkSize)
	_ = stream.CloseSend()
	if pumpErr != nil {
		_ = stream.Close()
		<-collected
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", pumpErr
	}

	streamErr := waitForStream(stream, finalizeTimeout)
	<-collected
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if streamErr != nil {
		return "", streamErr
	}
	return agg.text(), nil
}

func artifactPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
