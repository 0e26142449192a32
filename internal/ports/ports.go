package ports

import (
	"context"
	"errors"
	"time"

	"speakdrill/internal/domain"
)

// ErrNotFound is returned by remote services when the entity does not exist.
var ErrNotFound = errors.New("not found")

// TopicService is the remote source of truth for topics and sessions.
type TopicService interface {
	List(ctx context.Context) ([]domain.Topic, error)
	Create(ctx context.Context, title string) (domain.Topic, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, id string, title string) (domain.Topic, error)
	AppendSession(ctx context.Context, topicID string, session domain.Session) (domain.Session, error)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	OutputDir   string
}

// AudioArtifact references a finalized recording on disk.
type AudioArtifact struct {
	URI        string
	Encoding   string
	SampleRate int
	Channels   int
	Bytes      int64
}

// AudioRecording is a live capture. Exactly one of Finish or Discard releases it;
// calling either again is a no-op.
type AudioRecording interface {
	Finish() (AudioArtifact, error)
	Discard() error
}

// AudioCapture acquires the microphone.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioRecording, error)
}

// Transcriber turns a recorded artifact into text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifact AudioArtifact) (string, error)
}

// AnalysisRequest is the input of the analysis capability.
type AnalysisRequest struct {
	Transcription string
	TopicID       string
	TopicTitle    string
}

// Analyzer classifies a transcription against its topic.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (domain.AnalysisResult, error)
}

// TranscriptRules transforms transcripts using deterministic rules.
type TranscriptRules interface {
	Apply(text string) (string, error)
}

// PendingSession is a session that has not been confirmed by the remote service.
type PendingSession struct {
	TopicID   string
	Session   domain.Session
	LastError string
	QueuedAt  time.Time
}

// SessionOutbox keeps unsynced sessions durable across restarts.
type SessionOutbox interface {
	Put(ctx context.Context, pending PendingSession) error
	Remove(ctx context.Context, sessionID string) error
	RemoveTopic(ctx context.Context, topicID string) error
	List(ctx context.Context) ([]PendingSession, error)
}

// SessionSink receives completed sessions from the recording controller.
type SessionSink interface {
	AppendSession(ctx context.Context, topicID string, session domain.Session) (domain.Session, error)
}

// TopicLookup resolves topics without network I/O.
type TopicLookup interface {
	TopicByID(id string) (domain.Topic, bool)
}

// TokenSource supplies the bearer token of the signed-in user.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// EventSink emits recording state/events to the UI.
type EventSink interface {
	RecordingStateChanged(status domain.RecordingStatus, reason domain.RecordingReason)
	RecordingError(cause domain.ErrorCause, detail string)
}
