package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"speakdrill/internal/domain"
	"speakdrill/internal/ports"
	"speakdrill/internal/store"
)

func newTestController(deps Dependencies, cfg Config) (*RecordingController, *fakeEventSink) {
	events := &fakeEventSink{}
	if deps.Events == nil {
		deps.Events = events
	}
	if deps.Audio == nil {
		deps.Audio = &fakeAudioCapture{}
	}
	if deps.Transcriber == nil {
		deps.Transcriber = &fakeTranscriber{text: "hello"}
	}
	if deps.Analyzer == nil {
		deps.Analyzer = &fakeAnalyzer{}
	}
	if deps.Sessions == nil {
		deps.Sessions = &fakeSessionSink{}
	}
	deps.Now = func() time.Time { return time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC) }
	return NewRecordingController(deps, cfg), events
}

func TestRecordingControllerInterviewPrepScenario(t *testing.T) {
	t.Parallel()

	service := &fakeTopicService{topics: []domain.Topic{{ID: "t1", Title: "Interview Prep"}}}
	topics := store.New(service)
	if err := topics.LoadTopics(context.Background()); err != nil {
		t.Fatalf("load topics: %v", err)
	}

	recording := &fakeRecording{artifact: ports.AudioArtifact{URI: "file:///tmp/take.pcm"}}
	analyzer := &fakeAnalyzer{result: domain.NewAnalysisResult([]string{"STAR method"}, nil, []string{"edge cases"})}
	rules := &fakeRules{transform: "I use the STAR method"}
	controller, events := newTestController(Dependencies{
		Audio:       &fakeAudioCapture{recordings: []*fakeRecording{recording}},
		Transcriber: &fakeTranscriber{text: "  i use the star method  "},
		Analyzer:    analyzer,
		Rules:       rules,
		Sessions:    topics,
		Topics:      topics,
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if status := controller.Status(); status.State != domain.RecordingStateRecording || !status.Active {
		t.Fatalf("unexpected status while recording: %#v", status)
	}

	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if result.Transcription != "I use the STAR method" || rules.input != "i use the star method" {
		t.Fatalf("rules were not applied to the trimmed transcript: %#v (input %q)", result, rules.input)
	}
	if !result.Synced || result.Session.Sync != domain.SyncStatusSynced {
		t.Fatalf("expected synced session, got %#v", result)
	}
	if got := analyzer.lastRequest(); got.TopicTitle != "Interview Prep" || got.TopicID != "t1" {
		t.Fatalf("analysis request missing topic: %#v", got)
	}

	topic, ok := topics.TopicByID("t1")
	if !ok || len(topic.Sessions) != 1 {
		t.Fatalf("expected exactly one session, got %#v", topic)
	}
	session := topic.Sessions[0]
	if len(session.Analysis.Missing) != 1 || session.Analysis.Missing[0] != "edge cases" {
		t.Fatalf("unexpected missing: %#v", session.Analysis.Missing)
	}
	if session.AudioURI != "file:///tmp/take.pcm" || !session.Date.Equal(time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected session: %#v", session)
	}

	reasons := events.reasons()
	want := []domain.RecordingReason{
		domain.RecordingReasonRecordingStarted,
		domain.RecordingReasonTranscribing,
		domain.RecordingReasonAnalyzing,
		domain.RecordingReasonSessionSaved,
	}
	if len(reasons) != len(want) {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Fatalf("reason %d = %s, want %s", i, reasons[i], want[i])
		}
	}
	if last := events.lastStatus(); last.State != domain.RecordingStateComplete || last.Active {
		t.Fatalf("unexpected final status: %#v", last)
	}
	if recording.discardCalls() != 0 {
		t.Fatal("a completed attempt must keep its recording")
	}
}

func TestRecordingControllerStopWithoutStart(t *testing.T) {
	t.Parallel()

	controller, _ := newTestController(Dependencies{}, Config{})
	if _, err := controller.Stop(context.Background()); !errors.Is(err, ErrNoActiveAttempt) {
		t.Fatalf("expected ErrNoActiveAttempt, got %v", err)
	}
	if err := controller.Abort(); !errors.Is(err, ErrNoActiveAttempt) {
		t.Fatalf("expected ErrNoActiveAttempt from abort, got %v", err)
	}
	if err := controller.Retry(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected retry from idle to be rejected, got %v", err)
	}
}

func TestRecordingControllerSingleFlight(t *testing.T) {
	t.Parallel()

	capture := &fakeAudioCapture{recordings: []*fakeRecording{{}, {}}}
	controller, _ := newTestController(Dependencies{Audio: capture}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Start(context.Background(), "t2"); !errors.Is(err, ErrAttemptInFlight) {
		t.Fatalf("expected ErrAttemptInFlight, got %v", err)
	}
	if capture.startCalls() != 1 {
		t.Fatalf("second start must not touch the microphone, got %d calls", capture.startCalls())
	}
	if status := controller.Status(); status.TopicID != "t1" {
		t.Fatalf("rejected start changed the attempt: %#v", status)
	}
}

func TestRecordingControllerMicrophoneFailureThenRetry(t *testing.T) {
	t.Parallel()

	capture := &fakeAudioCapture{err: errors.New("device busy")}
	controller, events := newTestController(Dependencies{Audio: capture}, Config{})

	err := controller.Start(context.Background(), "t1")
	var attemptErr *AttemptError
	if !errors.As(err, &attemptErr) || attemptErr.Cause != domain.ErrorCauseMicrophone {
		t.Fatalf("expected microphone AttemptError, got %v", err)
	}
	status := controller.Status()
	if status.State != domain.RecordingStateError || status.Cause != domain.ErrorCauseMicrophone {
		t.Fatalf("unexpected status: %#v", status)
	}
	if errs := events.errorCauses(); len(errs) != 1 || errs[0] != domain.ErrorCauseMicrophone {
		t.Fatalf("expected one microphone error event, got %v", errs)
	}
	if reasons := events.reasons(); reasons[len(reasons)-1] != domain.RecordingReasonMicrophoneFailed {
		t.Fatalf("unexpected reasons: %v", reasons)
	}

	if err := controller.Start(context.Background(), "t1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start from error must be rejected until retry, got %v", err)
	}

	if err := controller.Retry(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if status := controller.Status(); status.State != domain.RecordingStateIdle {
		t.Fatalf("expected idle after retry, got %#v", status)
	}

	capture.setErr(nil)
	capture.add(&fakeRecording{})
	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start after retry failed: %v", err)
	}
}

func TestRecordingControllerTranscriptionFailure(t *testing.T) {
	t.Parallel()

	recording := &fakeRecording{}
	controller, _ := newTestController(Dependencies{
		Audio:       &fakeAudioCapture{recordings: []*fakeRecording{recording}},
		Transcriber: &fakeTranscriber{err: errors.New("socket closed")},
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := controller.Stop(context.Background())
	var attemptErr *AttemptError
	if !errors.As(err, &attemptErr) || attemptErr.Cause != domain.ErrorCauseRecording {
		t.Fatalf("expected recording AttemptError, got %v", err)
	}
	if controller.Status().State != domain.RecordingStateError {
		t.Fatalf("expected error state, got %#v", controller.Status())
	}
	if recording.discardCalls() != 1 {
		t.Fatalf("failed attempt should discard its recording")
	}
}

func TestRecordingControllerEmptyTranscriptIsRecordingFailure(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{}
	controller, _ := newTestController(Dependencies{
		Audio:       &fakeAudioCapture{recordings: []*fakeRecording{{}}},
		Transcriber: &fakeTranscriber{text: "   "},
		Analyzer:    analyzer,
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := controller.Stop(context.Background())
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if analyzer.calls() != 0 {
		t.Fatal("analysis must not run without a transcript")
	}
}

func TestRecordingControllerFinishFailure(t *testing.T) {
	t.Parallel()

	recording := &fakeRecording{finishErr: errors.New("disk full")}
	controller, _ := newTestController(Dependencies{
		Audio: &fakeAudioCapture{recordings: []*fakeRecording{recording}},
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := controller.Stop(context.Background())
	var attemptErr *AttemptError
	if !errors.As(err, &attemptErr) || attemptErr.Cause != domain.ErrorCauseRecording {
		t.Fatalf("expected recording AttemptError, got %v", err)
	}
	if recording.discardCalls() != 1 {
		t.Fatal("expected discard after finalize failure")
	}
}

func TestRecordingControllerAnalysisFailure(t *testing.T) {
	t.Parallel()

	sink := &fakeSessionSink{}
	controller, events := newTestController(Dependencies{
		Audio:    &fakeAudioCapture{recordings: []*fakeRecording{{}}},
		Analyzer: &fakeAnalyzer{err: errors.New("quota exceeded")},
		Sessions: sink,
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := controller.Stop(context.Background())
	var attemptErr *AttemptError
	if !errors.As(err, &attemptErr) || attemptErr.Cause != domain.ErrorCauseAnalysis {
		t.Fatalf("expected analysis AttemptError, got %v", err)
	}
	if sink.calls() != 0 {
		t.Fatal("a failed attempt must not create a session")
	}
	if reasons := events.reasons(); reasons[len(reasons)-1] != domain.RecordingReasonAnalysisFailed {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
}

func TestRecordingControllerAnalysisTimeout(t *testing.T) {
	t.Parallel()

	controller, _ := newTestController(Dependencies{
		Audio:    &fakeAudioCapture{recordings: []*fakeRecording{{}}},
		Analyzer: &fakeAnalyzer{block: true},
	}, Config{AnalysisTimeout: 20 * time.Millisecond})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := controller.Stop(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("analyzing did not reach a terminal state")
	}
	status := controller.Status()
	if status.State != domain.RecordingStateError || status.Cause != domain.ErrorCauseAnalysis {
		t.Fatalf("unexpected status after timeout: %#v", status)
	}
}

func TestRecordingControllerAbortDiscards(t *testing.T) {
	t.Parallel()

	recording := &fakeRecording{}
	controller, events := newTestController(Dependencies{
		Audio: &fakeAudioCapture{recordings: []*fakeRecording{recording, {}}},
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if recording.discardCalls() != 1 {
		t.Fatalf("expected recording to be discarded once")
	}
	if status := controller.Status(); status.State != domain.RecordingStateIdle {
		t.Fatalf("expected idle after abort, got %#v", status)
	}
	if reasons := events.reasons(); reasons[len(reasons)-1] != domain.RecordingReasonRecordingDiscarded {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	if _, err := controller.Stop(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("stop after abort should be rejected, got %v", err)
	}
	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start after abort failed: %v", err)
	}
}

func TestRecordingControllerAppendFailureIsNotAttemptFailure(t *testing.T) {
	t.Parallel()

	sink := &fakeSessionSink{err: errors.New("offline"), stored: domain.Session{ID: "local-1", Sync: domain.SyncStatusUnsynced}}
	controller, events := newTestController(Dependencies{
		Audio:    &fakeAudioCapture{recordings: []*fakeRecording{{}}},
		Sessions: sink,
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("append failure must not fail the attempt: %v", err)
	}
	if result.Synced || result.Session.ID != "local-1" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if controller.Status().State != domain.RecordingStateComplete {
		t.Fatalf("expected complete, got %#v", controller.Status())
	}
	if reasons := events.reasons(); reasons[len(reasons)-1] != domain.RecordingReasonSessionUnsynced {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
}

func TestRecordingControllerTopicDeletedDuringAnalysis(t *testing.T) {
	t.Parallel()

	service := &fakeTopicService{topics: []domain.Topic{{ID: "t1", Title: "Interview Prep"}}}
	topics := store.New(service)
	if err := topics.LoadTopics(context.Background()); err != nil {
		t.Fatalf("load topics: %v", err)
	}
	controller, events := newTestController(Dependencies{
		Audio:    &fakeAudioCapture{recordings: []*fakeRecording{{}}},
		Sessions: topics,
		Topics:   topics,
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := topics.DeleteTopic(context.Background(), "t1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("a deleted topic must not fail the attempt: %v", err)
	}
	if !result.TopicDeleted || result.Synced {
		t.Fatalf("expected topic-deleted result, got %#v", result)
	}
	if reasons := events.reasons(); reasons[len(reasons)-1] != domain.RecordingReasonTopicDeleted {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	if pending, _ := topics.PendingSessions(context.Background()); len(pending) != 0 {
		t.Fatalf("nothing should be queued for a deleted topic: %#v", pending)
	}
}

func TestRecordingControllerRulesFailureFallsBack(t *testing.T) {
	t.Parallel()

	controller, _ := newTestController(Dependencies{
		Audio:       &fakeAudioCapture{recordings: []*fakeRecording{{}}},
		Transcriber: &fakeTranscriber{text: "raw words"},
		Rules:       &fakeRules{err: errors.New("bad rule")},
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if result.Transcription != "raw words" {
		t.Fatalf("expected raw transcript fallback, got %q", result.Transcription)
	}
}

func TestRecordingControllerCompleteStartsFreshAttempt(t *testing.T) {
	t.Parallel()

	controller, _ := newTestController(Dependencies{
		Audio: &fakeAudioCapture{recordings: []*fakeRecording{{}, {}}},
	}, Config{})

	if err := controller.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := controller.Abort(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("abort from complete should be rejected, got %v", err)
	}
	if err := controller.Start(context.Background(), "t2"); err != nil {
		t.Fatalf("start after complete failed: %v", err)
	}
	if status := controller.Status(); status.TopicID != "t2" || status.State != domain.RecordingStateRecording {
		t.Fatalf("unexpected status: %#v", status)
	}
}

type fakeAudioCapture struct {
	mu         sync.Mutex
	recordings []*fakeRecording
	err        error
	calls      int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioRecording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.recordings) == 0 {
		return &fakeRecording{}, nil
	}
	next := f.recordings[0]
	f.recordings = f.recordings[1:]
	return next, nil
}

func (f *fakeAudioCapture) startCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAudioCapture) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAudioCapture) add(recording *fakeRecording) {
	f.mu.Lock()
	f.recordings = append(f.recordings, recording)
	f.mu.Unlock()
}

type fakeRecording struct {
	artifact  ports.AudioArtifact
	finishErr error

	mu       sync.Mutex
	discards int
}

func (f *fakeRecording) Finish() (ports.AudioArtifact, error) {
	if f.finishErr != nil {
		return ports.AudioArtifact{}, f.finishErr
	}
	return f.artifact, nil
}

func (f *fakeRecording) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards++
	return nil
}

func (f *fakeRecording) discardCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discards
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ ports.AudioArtifact) (string, error) {
	return f.text, f.err
}

type fakeAnalyzer struct {
	result domain.AnalysisResult
	err    error
	block  bool

	mu       sync.Mutex
	requests []ports.AnalysisRequest
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req ports.AnalysisRequest) (domain.AnalysisResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return domain.AnalysisResult{}, ctx.Err()
	}
	return f.result, f.err
}

func (f *fakeAnalyzer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeAnalyzer) lastRequest() ports.AnalysisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ports.AnalysisRequest{}
	}
	return f.requests[len(f.requests)-1]
}

type fakeRules struct {
	transform string
	err       error
	input     string
}

func (f *fakeRules) Apply(text string) (string, error) {
	f.input = text
	if f.err != nil {
		return "", f.err
	}
	if f.transform == "" {
		return text, nil
	}
	return f.transform, nil
}

type fakeSessionSink struct {
	stored domain.Session
	err    error

	mu    sync.Mutex
	count int
}

func (f *fakeSessionSink) AppendSession(_ context.Context, _ string, session domain.Session) (domain.Session, error) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	if f.stored.ID != "" {
		return f.stored, f.err
	}
	session.ID = "s-1"
	return session, f.err
}

func (f *fakeSessionSink) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeTopicService struct {
	mu     sync.Mutex
	topics []domain.Topic
}

func (f *fakeTopicService) List(context.Context) ([]domain.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Topic, len(f.topics))
	for i, topic := range f.topics {
		out[i] = topic.Clone()
	}
	return out, nil
}

func (f *fakeTopicService) Create(_ context.Context, title string) (domain.Topic, error) {
	return domain.Topic{ID: "new", Title: title}, nil
}

func (f *fakeTopicService) Delete(context.Context, string) error { return nil }

func (f *fakeTopicService) Update(_ context.Context, id string, title string) (domain.Topic, error) {
	return domain.Topic{ID: id, Title: title}, nil
}

func (f *fakeTopicService) AppendSession(_ context.Context, _ string, session domain.Session) (domain.Session, error) {
	return session, nil
}

type stateEvent struct {
	status domain.RecordingStatus
	reason domain.RecordingReason
}

type fakeEventSink struct {
	mu     sync.Mutex
	states []stateEvent
	errs   []domain.ErrorCause
}

func (f *fakeEventSink) RecordingStateChanged(status domain.RecordingStatus, reason domain.RecordingReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{status: status, reason: reason})
}

func (f *fakeEventSink) RecordingError(cause domain.ErrorCause, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, cause)
}

func (f *fakeEventSink) reasons() []domain.RecordingReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RecordingReason, len(f.states))
	for i, state := range f.states {
		out[i] = state.reason
	}
	return out
}

func (f *fakeEventSink) lastStatus() domain.RecordingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return domain.RecordingStatus{}
	}
	return f.states[len(f.states)-1].status
}

func (f *fakeEventSink) errorCauses() []domain.ErrorCause {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ErrorCause(nil), f.errs...)
}
