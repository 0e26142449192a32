package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"speakdrill/internal/auth"
	"speakdrill/internal/bootstrap"
	"speakdrill/internal/config"
	"speakdrill/internal/domain"
	"speakdrill/internal/store"
	"speakdrill/internal/usecase"
)

const (
	eventTopics    = "speakdrill:topics"
	eventRecording = "speakdrill:recording"
	eventError     = "speakdrill:error"
)

var ErrSessionNotFound = errors.New("session not found")

type clipboard interface {
	SetText(ctx context.Context, text string) error
}

type emitFunc func(ctx context.Context, name string, data ...interface{})

// App is the Wails application root. Its exported methods are the view-model
// surface the frontend binds to.
type App struct {
	ctx context.Context

	topics     *store.Store
	controller *usecase.RecordingController
	session    *auth.Session
	cfg        config.Config
	services   bootstrap.Services
	bootErr    error

	clipboard   clipboard
	emit        emitFunc
	unsubscribe func()
}

func NewApp() *App {
	return &App{clipboard: wailsClipboard{}, emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.RecordingError("startup", err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.session = services.Auth
	a.attach(services.Store, services.Controller)
	a.RecordingStateChanged(domain.RecordingStatus{State: domain.RecordingStateIdle}, domain.RecordingReasonReady)
	go func() {
		_ = a.LoadTopics()
	}()
}

func (a *App) shutdown(_ context.Context) {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	_ = a.services.Close()
}

func (a *App) attach(topics *store.Store, controller *usecase.RecordingController) {
	a.topics = topics
	a.controller = controller
	a.unsubscribe = topics.Subscribe(func(state domain.StoreState) {
		a.send(eventTopics, state)
	})
}

// LoadTopics refreshes the topic list. The outcome also arrives as a topics event.
func (a *App) LoadTopics() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.topics.LoadTopics(a.ctx)
}

// GetState returns the current store snapshot.
func (a *App) GetState() domain.StoreState {
	if a.topics == nil {
		state := domain.StoreState{Topics: []domain.Topic{}}
		if a.bootErr != nil {
			state.Error = a.bootErr.Error()
		}
		return state
	}
	return a.topics.State()
}

// AddTopic returns nil without error when the title is blank.
func (a *App) AddTopic(title string) (*domain.Topic, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	topic, err := a.topics.AddTopic(a.ctx, title)
	if errors.Is(err, domain.ErrEmptyTitle) {
		return nil, nil
	}
	return topic, err
}

func (a *App) DeleteTopic(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.topics.DeleteTopic(a.ctx, id)
}

func (a *App) UpdateTopicTitle(id string, title string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.topics.UpdateTopicTitle(a.ctx, id, title)
	if errors.Is(err, domain.ErrEmptyTitle) {
		return nil
	}
	return err
}

// GetTopic returns nil for an unknown id.
func (a *App) GetTopic(id string) *domain.Topic {
	if a.topics == nil {
		return nil
	}
	topic, ok := a.topics.TopicByID(id)
	if !ok {
		return nil
	}
	return &topic
}

func (a *App) ClearError() {
	if a.topics != nil {
		a.topics.ClearError()
	}
}

// SyncPending re-sends sessions that were saved on this device only.
func (a *App) SyncPending() (int, error) {
	if err := a.requireReady(); err != nil {
		return 0, err
	}
	return a.topics.SyncPending(a.ctx)
}

// SignIn accepts the bearer token produced by the auth screens.
func (a *App) SignIn(token string) (map[string]string, error) {
	if a.session == nil {
		return nil, a.notReady()
	}
	result, err := a.session.SignIn(token)
	if err != nil {
		return nil, err
	}
	info := map[string]string{"userId": result.UserID}
	if !result.ExpiresAt.IsZero() {
		info["expiresAt"] = result.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return info, nil
}

func (a *App) SignOut() {
	if a.session != nil {
		a.session.SignOut()
	}
}

// StartRecording begins an attempt for topicID.
func (a *App) StartRecording(topicID string) (domain.RecordingStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordingStatus{}, err
	}
	if _, ok := a.topics.TopicByID(topicID); !ok {
		return domain.RecordingStatus{}, fmt.Errorf("start recording: %w", store.ErrTopicNotFound)
	}
	if err := a.controller.Start(a.ctx, topicID); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopRecording finishes the attempt and returns its transcription and analysis.
func (a *App) StopRecording() (domain.AttemptResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.AttemptResult{}, err
	}
	return a.controller.Stop(a.ctx)
}

// AbortRecording discards an in-progress recording. Nothing to abort is not an error.
func (a *App) AbortRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveAttempt) {
		return err
	}
	return nil
}

func (a *App) RetryRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Retry()
}

// GetStatus returns the current recording status.
func (a *App) GetStatus() domain.RecordingStatus {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.RecordingStatus{State: domain.RecordingStateError, Message: a.bootErr.Error()}
		}
		return domain.RecordingStatus{State: domain.RecordingStateIdle}
	}
	return a.controller.Status()
}

// CopyTranscription puts a stored session's transcription on the clipboard.
func (a *App) CopyTranscription(topicID string, sessionID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	topic, ok := a.topics.TopicByID(topicID)
	if !ok {
		return store.ErrTopicNotFound
	}
	for _, session := range topic.Sessions {
		if session.ID != sessionID {
			continue
		}
		if strings.TrimSpace(session.Transcription) == "" {
			return fmt.Errorf("session %s has no transcription", sessionID)
		}
		return a.clipboard.SetText(a.ctx, session.Transcription)
	}
	return ErrSessionNotFound
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"transcription":    "Deepgram " + a.cfg.Deepgram.Model,
		"analysis":         "Gemini " + a.cfg.Gemini.Model,
		"topicService":     a.cfg.Remote.BaseURL,
		"language":         a.cfg.Deepgram.Language,
		"rulesFile":        a.cfg.Rules.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.topics == nil || a.controller == nil {
		return a.notReady()
	}
	return nil
}

func (a *App) notReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	return fmt.Errorf("application is not initialized")
}

// RecordingStateChanged emits recording lifecycle updates to the frontend.
func (a *App) RecordingStateChanged(status domain.RecordingStatus, reason domain.RecordingReason) {
	a.send(eventRecording, map[string]interface{}{
		"state":   string(status.State),
		"topicId": status.TopicID,
		"active":  status.Active,
		"reason":  string(reason),
		"message": reasonMessage(reason),
	})
}

// RecordingError emits attempt failures to the UI.
func (a *App) RecordingError(cause domain.ErrorCause, detail string) {
	a.send(eventError, map[string]string{
		"cause":   string(cause),
		"message": causeMessage(cause, detail),
		"detail":  detail,
	})
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

func reasonMessage(reason domain.RecordingReason) string {
	switch reason {
	case domain.RecordingReasonReady:
		return "Ready to practice"
	case domain.RecordingReasonRecordingStarted:
		return "Recording started"
	case domain.RecordingReasonTranscribing:
		return "Recording stopped. Transcribing..."
	case domain.RecordingReasonAnalyzing:
		return "Analyzing your answer..."
	case domain.RecordingReasonSessionSaved:
		return "Session saved"
	case domain.RecordingReasonSessionUnsynced:
		return "Session saved on this device; sync pending"
	case domain.RecordingReasonTopicDeleted:
		return "Topic was deleted; session not saved"
	case domain.RecordingReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.RecordingReasonMicrophoneFailed:
		return "Microphone unavailable"
	case domain.RecordingReasonRecordingFailed:
		return "Recording failed"
	case domain.RecordingReasonAnalysisFailed:
		return "Analysis failed"
	case domain.RecordingReasonReset:
		return "Ready to try again"
	default:
		return ""
	}
}

func causeMessage(cause domain.ErrorCause, detail string) string {
	switch cause {
	case domain.ErrorCauseMicrophone:
		return "Could not access the microphone"
	case domain.ErrorCauseRecording:
		return "Could not process the recording"
	case domain.ErrorCauseAnalysis:
		return "Could not analyze the answer"
	case "startup":
		return "Startup failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
