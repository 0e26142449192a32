package usecase

import (
	"sync"

	"speakdrill/internal/domain"
	"speakdrill/internal/ports"
)

// attempt is one run of the recording state machine.
type attempt struct {
	topicID string

	// ready is closed once microphone acquisition has finished either way.
	ready     chan struct{}
	recording ports.AudioRecording

	stateMu sync.Mutex
	state   domain.RecordingState
	cause   domain.ErrorCause
	message string
}

func newAttempt(topicID string) *attempt {
	return &attempt{
		topicID: topicID,
		ready:   make(chan struct{}),
		state:   domain.RecordingStateIdle,
	}
}

// apply runs event through the transition table and stores the result.
func (a *attempt) apply(event Event) (domain.RecordingState, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	next, err := Transition(a.state, event)
	if err != nil {
		return a.state, err
	}
	a.state = next
	return next, nil
}

func (a *attempt) fail(cause domain.ErrorCause, message string) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	next, err := Transition(a.state, EventFail)
	if err != nil {
		return err
	}
	a.state = next
	a.cause = cause
	a.message = message
	return nil
}

func (a *attempt) getState() domain.RecordingState {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

func (a *attempt) status() domain.RecordingStatus {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return domain.RecordingStatus{
		State:   a.state,
		TopicID: a.topicID,
		Active:  a.state.Active(),
		Cause:   a.cause,
		Message: a.message,
	}
}
