package usecase

import (
	"errors"
	"fmt"

	"speakdrill/internal/domain"
)

// Event drives the recording state machine.
type Event string

const (
	EventStart   Event = "start"
	EventStop    Event = "stop"
	EventAbort   Event = "abort"
	EventSucceed Event = "succeed"
	EventFail    Event = "fail"
	EventRetry   Event = "retry"
	EventReset   Event = "reset"
)

var ErrInvalidTransition = errors.New("invalid recording transition")

// TransitionError is returned when an event is not accepted in the current state.
type TransitionError struct {
	From  domain.RecordingState
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type transitionKey struct {
	from  domain.RecordingState
	event Event
}

var transitions = map[transitionKey]domain.RecordingState{
	{domain.RecordingStateIdle, EventStart}:        domain.RecordingStateRecording,
	{domain.RecordingStateIdle, EventFail}:         domain.RecordingStateError,
	{domain.RecordingStateRecording, EventStop}:    domain.RecordingStateAnalyzing,
	{domain.RecordingStateRecording, EventAbort}:   domain.RecordingStateIdle,
	{domain.RecordingStateRecording, EventFail}:    domain.RecordingStateError,
	{domain.RecordingStateAnalyzing, EventSucceed}: domain.RecordingStateComplete,
	{domain.RecordingStateAnalyzing, EventFail}:    domain.RecordingStateError,
	{domain.RecordingStateError, EventRetry}:       domain.RecordingStateIdle,
	{domain.RecordingStateComplete, EventReset}:    domain.RecordingStateIdle,
}

// Transition returns the state reached from `from` on `event`. It has no side
// effects; rejected events return a *TransitionError and leave the caller's state as is.
func Transition(from domain.RecordingState, event Event) (domain.RecordingState, error) {
	next, ok := transitions[transitionKey{from: from, event: event}]
	if !ok {
		return from, &TransitionError{From: from, Event: event}
	}
	return next, nil
}

// Terminal reports whether an attempt in this state has finished.
func Terminal(state domain.RecordingState) bool {
	return state == domain.RecordingStateComplete || state == domain.RecordingStateError
}
