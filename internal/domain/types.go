package domain

import "time"

// RecordingState models the lifecycle of a single practice attempt.
type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStateRecording RecordingState = "recording"
	RecordingStateAnalyzing RecordingState = "analyzing"
	RecordingStateComplete  RecordingState = "complete"
	RecordingStateError     RecordingState = "error"
)

// Active reports whether an attempt in this state still holds resources.
func (s RecordingState) Active() bool {
	return s == RecordingStateRecording || s == RecordingStateAnalyzing
}

// RecordingReason provides a structured reason for state transitions.
type RecordingReason string

const (
	RecordingReasonReady              RecordingReason = "ready"
	RecordingReasonRecordingStarted   RecordingReason = "recording_started"
	RecordingReasonTranscribing       RecordingReason = "transcribing"
	RecordingReasonAnalyzing          RecordingReason = "analyzing"
	RecordingReasonSessionSaved       RecordingReason = "session_saved"
	RecordingReasonSessionUnsynced    RecordingReason = "session_unsynced"
	RecordingReasonTopicDeleted       RecordingReason = "topic_deleted"
	RecordingReasonRecordingDiscarded RecordingReason = "recording_discarded"
	RecordingReasonMicrophoneFailed   RecordingReason = "microphone_failed"
	RecordingReasonRecordingFailed    RecordingReason = "recording_failed"
	RecordingReasonAnalysisFailed     RecordingReason = "analysis_failed"
	RecordingReasonReset              RecordingReason = "reset"
)

// ErrorCause classifies which capability failed during an attempt.
type ErrorCause string

const (
	ErrorCauseMicrophone ErrorCause = "microphone"
	ErrorCauseRecording  ErrorCause = "recording"
	ErrorCauseAnalysis   ErrorCause = "analysis"
)

// FailureReason maps a cause to the reason reported with the error state.
func (c ErrorCause) FailureReason() RecordingReason {
	switch c {
	case ErrorCauseMicrophone:
		return RecordingReasonMicrophoneFailed
	case ErrorCauseAnalysis:
		return RecordingReasonAnalysisFailed
	default:
		return RecordingReasonRecordingFailed
	}
}

// SyncStatus tracks whether a session reached the remote service.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusUnsynced SyncStatus = "unsynced"
)

// AnalysisResult is the classified feedback for one session.
type AnalysisResult struct {
	Valid       []string `json:"valid"`
	Corrections []string `json:"corrections"`
	Missing     []string `json:"missing"`
}

// NewAnalysisResult copies the given sequences, keeping their order.
func NewAnalysisResult(valid, corrections, missing []string) AnalysisResult {
	return AnalysisResult{
		Valid:       cloneStrings(valid),
		Corrections: cloneStrings(corrections),
		Missing:     cloneStrings(missing),
	}
}

// Clone returns a deep copy.
func (a AnalysisResult) Clone() AnalysisResult {
	return NewAnalysisResult(a.Valid, a.Corrections, a.Missing)
}

// Empty reports whether no feedback was produced at all.
func (a AnalysisResult) Empty() bool {
	return len(a.Valid) == 0 && len(a.Corrections) == 0 && len(a.Missing) == 0
}

// Session is one completed practice attempt owned by a Topic.
type Session struct {
	ID            string         `json:"id"`
	Date          time.Time      `json:"date"`
	AudioURI      string         `json:"audioUri,omitempty"`
	Transcription string         `json:"transcription,omitempty"`
	Analysis      AnalysisResult `json:"analysis"`
	Sync          SyncStatus     `json:"sync,omitempty"`
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Analysis = s.Analysis.Clone()
	return out
}

// Topic is a named subject owning an ordered list of sessions.
type Topic struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Sessions []Session `json:"sessions"`
}

// Clone returns a deep copy.
func (t Topic) Clone() Topic {
	out := t
	out.Sessions = make([]Session, len(t.Sessions))
	for i, session := range t.Sessions {
		out.Sessions[i] = session.Clone()
	}
	return out
}

// LastSession returns the most recently appended session.
func (t Topic) LastSession() (Session, bool) {
	if len(t.Sessions) == 0 {
		return Session{}, false
	}
	return t.Sessions[len(t.Sessions)-1], true
}

// StoreState is the read-only snapshot handed to store subscribers.
type StoreState struct {
	Topics    []Topic `json:"topics"`
	IsLoading bool    `json:"isLoading"`
	Error     string  `json:"error,omitempty"`
}

// HasError reports whether an error banner should be shown.
func (s StoreState) HasError() bool {
	return s.Error != ""
}

// AttemptResult is the terminal payload of a completed recording attempt.
type AttemptResult struct {
	TopicID       string         `json:"topicId"`
	Transcription string         `json:"transcription"`
	Analysis      AnalysisResult `json:"analysis"`
	Session       Session        `json:"session"`
	Synced        bool           `json:"synced"`
	// TopicDeleted is set when the topic disappeared before the session could be kept.
	TopicDeleted bool `json:"topicDeleted"`
}

// RecordingStatus summarizes the current attempt.
type RecordingStatus struct {
	State   RecordingState `json:"state"`
	TopicID string         `json:"topicId,omitempty"`
	Active  bool           `json:"active"`
	Cause   ErrorCause     `json:"cause,omitempty"`
	Message string         `json:"message,omitempty"`
}

func cloneStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
