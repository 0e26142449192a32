package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"speakdrill/internal/domain"
	"speakdrill/internal/pkg/logger"
	"speakdrill/internal/ports"
)

const module = "recording"

var (
	ErrNoActiveAttempt = errors.New("no active recording attempt")
	ErrAttemptInFlight = errors.New("a recording attempt is already in progress")
	ErrEmptyTranscript = errors.New("no speech captured")
)

// AttemptError reports which capability ended an attempt.
type AttemptError struct {
	Cause domain.ErrorCause
	Err   error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Cause, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Config controls recording behavior.
type Config struct {
	Audio ports.AudioConfig
	// AnalysisTimeout bounds the analyzing phase so it always reaches a terminal state.
	AnalysisTimeout time.Duration
}

// Dependencies are the capabilities the controller drives.
type Dependencies struct {
	Audio       ports.AudioCapture
	Transcriber ports.Transcriber
	Analyzer    ports.Analyzer
	Rules       ports.TranscriptRules
	Sessions    ports.SessionSink
	Topics      ports.TopicLookup
	Events      ports.EventSink
	Logger      logger.Logger
	Now         func() time.Time
}

// RecordingController walks one attempt at a time through capture, transcription and
// analysis, then hands the completed session to the session sink.
type RecordingController struct {
	deps Dependencies
	cfg  Config

	mu      sync.Mutex
	current *attempt
}

func NewRecordingController(deps Dependencies, cfg Config) *RecordingController {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 2 * time.Minute
	}
	return &RecordingController{deps: deps, cfg: cfg}
}

// Start acquires the microphone for a new attempt on topicID. Only one attempt may
// be recording or analyzing at a time; an attempt in error must be retried first.
func (c *RecordingController) Start(ctx context.Context, topicID string) error {
	c.mu.Lock()
	if c.current != nil {
		state := c.current.getState()
		if state.Active() {
			c.mu.Unlock()
			return ErrAttemptInFlight
		}
		if state == domain.RecordingStateError {
			c.mu.Unlock()
			_, err := Transition(state, EventStart)
			return err
		}
	}
	active := newAttempt(topicID)
	if _, err := active.apply(EventStart); err != nil {
		c.mu.Unlock()
		return err
	}
	c.current = active
	c.mu.Unlock()

	recording, err := c.deps.Audio.Start(ctx, c.cfg.Audio)
	if err != nil {
		close(active.ready)
		return c.failAttempt(active, domain.ErrorCauseMicrophone, err)
	}
	active.recording = recording
	close(active.ready)

	c.deps.Logger.Info(module, "recording started", map[string]interface{}{"topic_id": topicID})
	c.emit(active, domain.RecordingReasonRecordingStarted)
	return nil
}

// Stop finalizes the capture and runs transcription then analysis. On success the
// session is appended through the session sink; a failed sync is reported in the
// result rather than as an attempt failure.
func (c *RecordingController) Stop(ctx context.Context) (domain.AttemptResult, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if err := waitReady(ctx, active); err != nil {
		return domain.AttemptResult{}, err
	}
	if _, err := active.apply(EventStop); err != nil {
		return domain.AttemptResult{}, err
	}
	c.emit(active, domain.RecordingReasonTranscribing)

	phaseCtx, cancel := context.WithTimeout(ctx, c.cfg.AnalysisTimeout)
	defer cancel()

	artifact, err := active.recording.Finish()
	if err != nil {
		_ = active.recording.Discard()
		return domain.AttemptResult{}, c.failAttempt(active, domain.ErrorCauseRecording, fmt.Errorf("finalize recording: %w", err))
	}

	transcript, err := c.deps.Transcriber.Transcribe(phaseCtx, artifact)
	if err == nil && strings.TrimSpace(transcript) == "" {
		err = ErrEmptyTranscript
	}
	if err != nil {
		_ = active.recording.Discard()
		return domain.AttemptResult{}, c.failAttempt(active, domain.ErrorCauseRecording, fmt.Errorf("transcribe: %w", err))
	}
	transcript = c.normalize(strings.TrimSpace(transcript))

	c.emit(active, domain.RecordingReasonAnalyzing)
	request := ports.AnalysisRequest{Transcription: transcript, TopicID: active.topicID}
	if c.deps.Topics != nil {
		if topic, ok := c.deps.Topics.TopicByID(active.topicID); ok {
			request.TopicTitle = topic.Title
		}
	}
	analysis, err := c.deps.Analyzer.Analyze(phaseCtx, request)
	if err != nil {
		_ = active.recording.Discard()
		return domain.AttemptResult{}, c.failAttempt(active, domain.ErrorCauseAnalysis, fmt.Errorf("analyze: %w", err))
	}
	analysis = analysis.Clone()

	if _, err := active.apply(EventSucceed); err != nil {
		return domain.AttemptResult{}, err
	}

	result := domain.AttemptResult{
		TopicID:       active.topicID,
		Transcription: transcript,
		Analysis:      analysis,
		Session: domain.Session{
			Date:          c.deps.Now(),
			AudioURI:      artifact.URI,
			Transcription: transcript,
			Analysis:      analysis.Clone(),
		},
	}

	reason := domain.RecordingReasonSessionSaved
	stored, err := c.deps.Sessions.AppendSession(ctx, active.topicID, result.Session)
	if stored.ID != "" {
		result.Session = stored
	}
	switch {
	case errors.Is(err, ports.ErrNotFound):
		reason = domain.RecordingReasonTopicDeleted
		result.TopicDeleted = true
		c.deps.Logger.Warn(module, "topic gone, session not kept", map[string]interface{}{
			"topic_id": active.topicID,
			"error":    err.Error(),
		})
	case err != nil:
		reason = domain.RecordingReasonSessionUnsynced
		c.deps.Logger.Warn(module, "session not synced", map[string]interface{}{
			"topic_id": active.topicID,
			"error":    err.Error(),
		})
	default:
		result.Synced = true
	}

	c.deps.Logger.Info(module, "attempt complete", map[string]interface{}{
		"topic_id": active.topicID,
		"synced":   result.Synced,
	})
	c.emit(active, reason)
	return result, nil
}

// Abort discards an attempt that is still recording.
func (c *RecordingController) Abort() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	<-active.ready
	if _, err := active.apply(EventAbort); err != nil {
		return err
	}
	if active.recording != nil {
		if err := active.recording.Discard(); err != nil {
			c.deps.Logger.Warn(module, "discard failed", map[string]interface{}{"error": err.Error()})
		}
	}
	c.emit(active, domain.RecordingReasonRecordingDiscarded)
	return nil
}

// Retry resets a failed attempt back to idle. Nothing is retried automatically.
func (c *RecordingController) Retry() error {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil {
		_, err := Transition(domain.RecordingStateIdle, EventRetry)
		return err
	}
	if _, err := active.apply(EventRetry); err != nil {
		return err
	}
	c.mu.Lock()
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()
	c.deps.Events.RecordingStateChanged(domain.RecordingStatus{State: domain.RecordingStateIdle, TopicID: active.topicID}, domain.RecordingReasonReset)
	return nil
}

// Status returns the current attempt status.
func (c *RecordingController) Status() domain.RecordingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.RecordingStatus{State: domain.RecordingStateIdle}
	}
	return c.current.status()
}

func (c *RecordingController) getCurrent() (*attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveAttempt
	}
	return c.current, nil
}

func (c *RecordingController) normalize(transcript string) string {
	if c.deps.Rules == nil {
		return transcript
	}
	transformed, err := c.deps.Rules.Apply(transcript)
	if err != nil {
		c.deps.Logger.Warn(module, "transcript rules failed; using raw transcript", map[string]interface{}{"error": err.Error()})
		return transcript
	}
	if strings.TrimSpace(transformed) == "" {
		return transcript
	}
	return transformed
}

func (c *RecordingController) failAttempt(active *attempt, cause domain.ErrorCause, err error) error {
	if transitionErr := active.fail(cause, err.Error()); transitionErr != nil {
		return transitionErr
	}
	c.deps.Logger.Error(module, "attempt failed", map[string]interface{}{
		"topic_id": active.topicID,
		"cause":    string(cause),
		"error":    err,
	})
	c.deps.Events.RecordingError(cause, err.Error())
	c.emit(active, cause.FailureReason())
	return &AttemptError{Cause: cause, Err: err}
}

func (c *RecordingController) emit(active *attempt, reason domain.RecordingReason) {
	c.deps.Events.RecordingStateChanged(active.status(), reason)
}

func waitReady(ctx context.Context, active *attempt) error {
	select {
	case <-active.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
