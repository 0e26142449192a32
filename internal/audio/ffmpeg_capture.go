// Package audio records the microphone to disk with ffmpeg.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"speakdrill/internal/ports"
)

const (
	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

var ErrEmptyRecording = errors.New("recording is empty")

// FFMPEGCapture records raw PCM from the system microphone into a file.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioRecording, error) {
	cfg = withDefaults(cfg)
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	path := filepath.Join(cfg.OutputDir, uuid.NewString()+".pcm")

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-y",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		path,
	}

	// The process outlives Start; ctx only bounds acquisition.
	cmd := exec.Command(c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	timer := time.NewTimer(startupGrace)
	defer timer.Stop()
	select {
	case err := <-waitErr:
		_ = os.Remove(path)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		_ = os.Remove(path)
		return nil, ctx.Err()
	case <-timer.C:
	}

	return &fileRecording{
		path:    path,
		cfg:     cfg,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "speakdrill")
	}
	return cfg
}

type fileRecording struct {
	path   string
	cfg    ports.AudioConfig
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error

	mu       sync.Mutex
	finished bool
	removed  bool
}

// Finish stops ffmpeg and returns the recorded file.
func (r *fileRecording) Finish() (ports.AudioArtifact, error) {
	if err := r.stop(); err != nil {
		return ports.AudioArtifact{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return ports.AudioArtifact{}, errors.New("recording was discarded")
	}

	info, err := os.Stat(r.path)
	if err != nil {
		return ports.AudioArtifact{}, fmt.Errorf("stat recording: %w", err)
	}
	if info.Size() == 0 {
		return ports.AudioArtifact{}, ErrEmptyRecording
	}
	r.finished = true
	return ports.AudioArtifact{
		URI:        "file://" + r.path,
		Encoding:   "linear16",
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
		Bytes:      info.Size(),
	}, nil
}

// Discard stops ffmpeg if needed and deletes the file, including a finished one.
func (r *fileRecording) Discard() error {
	stopErr := r.stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return nil
	}
	r.removed = true
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove recording: %w", err)
	}
	if r.finished {
		return nil
	}
	return stopErr
}

func (r *fileRecording) stop() error {
	r.stopOnce.Do(func() {
		if r.process != nil {
			_ = r.process.Signal(os.Interrupt)
		}

		timer := time.NewTimer(stopGrace)
		defer timer.Stop()
		select {
		case err, ok := <-r.waitErr:
			if ok {
				r.stopErr = normalizeStopErr(err)
			}
		case <-timer.C:
			if r.process != nil {
				_ = r.process.Kill()
			}
			if err, ok := <-r.waitErr; ok {
				r.stopErr = normalizeStopErr(err)
			}
		}

		if r.stopErr != nil && r.stderr.Len() > 0 {
			r.stopErr = fmt.Errorf("%w: %s", r.stopErr, strings.TrimSpace(r.stderr.String()))
		}
	})
	return r.stopErr
}

// normalizeStopErr treats a non-zero exit after SIGINT as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
