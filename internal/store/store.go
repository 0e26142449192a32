// Package store holds the process-wide cache of topics and their sessions and
// reconciles it with the remote topic service.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"speakdrill/internal/domain"
	"speakdrill/internal/pkg/logger"
	"speakdrill/internal/ports"
)

const module = "store"

// ErrTopicNotFound matches ports.ErrNotFound.
var ErrTopicNotFound = fmt.Errorf("topic %w", ports.ErrNotFound)

// User-facing messages placed in StoreState.Error.
const (
	MessageLoadFailed    = "Could not load topics"
	MessageAddFailed     = "Could not create topic"
	MessageDeleteFailed  = "Could not delete topic"
	MessageUpdateFailed  = "Could not rename topic"
	MessageSessionUnsync = "Session saved on this device but not synced"
	MessageTopicGone     = "Session dropped because its topic no longer exists"
)

// Listener receives a snapshot after every state change.
type Listener func(state domain.StoreState)

// Store is the single source of truth for topics on the client. Action methods are
// the only way to mutate it; remote calls run outside the lock so actions interleave.
type Store struct {
	service ports.TopicService
	outbox  ports.SessionOutbox
	log     logger.Logger
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	order    []string
	topics   map[string]domain.Topic
	inflight int
	errMsg   string

	notifyMu   sync.Mutex
	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextListen int
}

// Option customizes a Store.
type Option func(*Store)

func WithOutbox(outbox ports.SessionOutbox) Option {
	return func(s *Store) { s.outbox = outbox }
}

func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func New(service ports.TopicService, opts ...Option) *Store {
	s := &Store{
		service:   service,
		log:       logger.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
		topics:    map[string]domain.Topic{},
		listeners: map[int]Listener{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener and returns a function removing it. Listeners run
// synchronously on the goroutine that changed the state and must not call actions.
func (s *Store) Subscribe(listener Listener) func() {
	s.listenerMu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = listener
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

// State returns a snapshot of the whole store.
func (s *Store) State() domain.StoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Topics() []domain.Topic { return SelectTopics(s.State()) }

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// TopicByID is a pure local lookup.
func (s *Store) TopicByID(id string) (domain.Topic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic, ok := s.topics[id]
	if !ok {
		return domain.Topic{}, false
	}
	return topic.Clone(), true
}

// ClearError resets the error banner. It never retries anything.
func (s *Store) ClearError() {
	s.mutate(func() { s.errMsg = "" })
}

// LoadTopics replaces the local topics with the remote list. On failure the
// previous topics stay visible and the error is set.
func (s *Store) LoadTopics(ctx context.Context) error {
	s.begin()
	topics, err := s.service.List(ctx)
	if err != nil {
		s.fail(MessageLoadFailed, "load topics failed", err, nil)
		return fmt.Errorf("load topics: %w", err)
	}

	s.finish(func() {
		s.order = make([]string, 0, len(topics))
		s.topics = make(map[string]domain.Topic, len(topics))
		for _, topic := range topics {
			if _, dup := s.topics[topic.ID]; !dup {
				s.order = append(s.order, topic.ID)
			}
			s.topics[topic.ID] = topic.Clone()
		}
	})
	s.log.Info(module, "topics loaded", map[string]interface{}{"count": len(topics)})
	return nil
}

// AddTopic creates a topic remotely and inserts it once the server assigned its id.
// A nil topic is returned on validation or remote failure.
func (s *Store) AddTopic(ctx context.Context, title string) (*domain.Topic, error) {
	trimmed, err := domain.NormalizeTitle(title)
	if err != nil {
		return nil, err
	}

	s.begin()
	created, err := s.service.Create(ctx, trimmed)
	if err != nil {
		s.fail(MessageAddFailed, "create topic failed", err, map[string]interface{}{"title": trimmed})
		return nil, fmt.Errorf("create topic: %w", err)
	}

	created = created.Clone()
	s.finish(func() { s.putLocked(created) })
	s.log.Info(module, "topic created", map[string]interface{}{"topic_id": created.ID})

	out := created.Clone()
	return &out, nil
}

// DeleteTopic removes a topic and its sessions. Deleting an unknown id succeeds.
func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	s.begin()
	err := s.service.Delete(ctx, id)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		s.fail(MessageDeleteFailed, "delete topic failed", err, map[string]interface{}{"topic_id": id})
		return fmt.Errorf("delete topic: %w", err)
	}

	s.finish(func() { s.removeLocked(id) })
	if s.outbox != nil {
		if err := s.outbox.RemoveTopic(ctx, id); err != nil {
			s.log.Warn(module, "outbox cleanup failed", map[string]interface{}{"topic_id": id, "error": err.Error()})
		}
	}
	s.log.Info(module, "topic deleted", map[string]interface{}{"topic_id": id})
	return nil
}

// UpdateTopicTitle renames a stored topic after the remote service confirmed it.
// A topic removed in the meantime is not brought back.
func (s *Store) UpdateTopicTitle(ctx context.Context, id string, title string) error {
	trimmed, err := domain.NormalizeTitle(title)
	if err != nil {
		return err
	}

	s.begin()
	updated, err := s.service.Update(ctx, id, trimmed)
	if err != nil {
		s.fail(MessageUpdateFailed, "rename topic failed", err, map[string]interface{}{"topic_id": id})
		return fmt.Errorf("rename topic: %w", err)
	}

	newTitle := trimmed
	if updated.Title != "" {
		newTitle = updated.Title
	}
	s.finish(func() {
		topic, ok := s.topics[id]
		if !ok {
			return
		}
		topic.Title = newTitle
		s.topics[id] = topic
	})
	return nil
}

// AppendSession stores a completed session under its topic and pushes it to the
// remote service. When the push fails the session is kept locally as unsynced and
// remains in the outbox, so the stored session is returned together with the error.
func (s *Store) AppendSession(ctx context.Context, topicID string, session domain.Session) (domain.Session, error) {
	session = session.Clone()
	if session.ID == "" {
		session.ID = s.newID()
	}
	if session.Date.IsZero() {
		session.Date = s.now()
	}
	session.Sync = domain.SyncStatusPending

	appended := s.mutateIf(func() bool {
		topic, ok := s.topics[topicID]
		if !ok {
			return false
		}
		topic.Sessions = append(topic.Sessions, session.Clone())
		s.topics[topicID] = topic
		s.inflight++
		return true
	})
	if !appended {
		return domain.Session{}, fmt.Errorf("append session to %q: %w", topicID, ErrTopicNotFound)
	}

	pending := ports.PendingSession{TopicID: topicID, Session: session.Clone(), QueuedAt: s.now()}
	if s.outbox != nil {
		if err := s.outbox.Put(ctx, pending); err != nil {
			s.log.Warn(module, "outbox write failed", map[string]interface{}{"session_id": session.ID, "error": err.Error()})
		}
	}

	return s.pushSession(ctx, pending)
}

// PendingSessions lists sessions waiting for a successful sync.
func (s *Store) PendingSessions(ctx context.Context) ([]ports.PendingSession, error) {
	if s.outbox == nil {
		return nil, nil
	}
	return s.outbox.List(ctx)
}

// SyncPending pushes every outbox session again. It is only invoked by an
// explicit user action; failed pushes stay queued.
func (s *Store) SyncPending(ctx context.Context) (int, error) {
	pending, err := s.PendingSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending sessions: %w", err)
	}

	synced := 0
	var errs []error
	for _, item := range pending {
		s.mutate(func() { s.inflight++ })
		if _, err := s.pushSession(ctx, item); err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

func (s *Store) pushSession(ctx context.Context, pending ports.PendingSession) (domain.Session, error) {
	remote, err := s.service.AppendSession(ctx, pending.TopicID, pending.Session)
	if errors.Is(err, ports.ErrNotFound) {
		return s.dropSession(ctx, pending, err)
	}
	if err != nil {
		local := pending.Session.Clone()
		local.Sync = domain.SyncStatusUnsynced
		s.finishWithError(MessageSessionUnsync, func() { s.replaceSessionLocked(pending.TopicID, local.ID, local) })
		s.log.Warn(module, "session kept locally", map[string]interface{}{
			"topic_id":   pending.TopicID,
			"session_id": local.ID,
			"error":      err.Error(),
		})
		if s.outbox != nil {
			pending.LastError = err.Error()
			if putErr := s.outbox.Put(ctx, pending); putErr != nil {
				s.log.Warn(module, "outbox update failed", map[string]interface{}{"session_id": local.ID, "error": putErr.Error()})
			}
		}
		return local, fmt.Errorf("sync session: %w", err)
	}

	confirmed := mergeConfirmed(pending.Session, remote)
	s.finish(func() { s.replaceSessionLocked(pending.TopicID, pending.Session.ID, confirmed) })
	if s.outbox != nil {
		if err := s.outbox.Remove(ctx, pending.Session.ID); err != nil {
			s.log.Warn(module, "outbox cleanup failed", map[string]interface{}{"session_id": confirmed.ID, "error": err.Error()})
		}
	}
	return confirmed.Clone(), nil
}

// dropSession handles a push rejected because the topic is gone remotely. The
// record leaves the outbox since no later push can succeed.
func (s *Store) dropSession(ctx context.Context, pending ports.PendingSession, cause error) (domain.Session, error) {
	s.finishWithError(MessageTopicGone, func() { s.removeSessionLocked(pending.TopicID, pending.Session.ID) })
	if s.outbox != nil {
		if err := s.outbox.Remove(ctx, pending.Session.ID); err != nil {
			s.log.Warn(module, "outbox cleanup failed", map[string]interface{}{"session_id": pending.Session.ID, "error": err.Error()})
		}
	}
	s.log.Warn(module, "session dropped, topic gone", map[string]interface{}{
		"topic_id":   pending.TopicID,
		"session_id": pending.Session.ID,
	})
	return domain.Session{}, fmt.Errorf("sync session: %w", cause)
}

// mergeConfirmed keeps the client copy's fields where the server echoed nothing.
func mergeConfirmed(local, remote domain.Session) domain.Session {
	out := remote.Clone()
	if out.ID == "" {
		out.ID = local.ID
	}
	if out.Date.IsZero() {
		out.Date = local.Date
	}
	if out.AudioURI == "" {
		out.AudioURI = local.AudioURI
	}
	if out.Transcription == "" {
		out.Transcription = local.Transcription
	}
	if out.Analysis.Empty() {
		out.Analysis = local.Analysis.Clone()
	}
	out.Sync = domain.SyncStatusSynced
	return out
}

// replaceSessionLocked swaps the session appended under clientID. The confirmed
// copy may carry a server-assigned id.
func (s *Store) replaceSessionLocked(topicID string, clientID string, session domain.Session) {
	topic, ok := s.topics[topicID]
	if !ok {
		return
	}
	for i := range topic.Sessions {
		if topic.Sessions[i].ID == clientID {
			topic.Sessions[i] = session.Clone()
			s.topics[topicID] = topic
			return
		}
	}
	topic.Sessions = append(topic.Sessions, session.Clone())
	s.topics[topicID] = topic
}

func (s *Store) removeSessionLocked(topicID string, sessionID string) {
	topic, ok := s.topics[topicID]
	if !ok {
		return
	}
	topic.Sessions = slices.DeleteFunc(topic.Sessions, func(session domain.Session) bool {
		return session.ID == sessionID
	})
	s.topics[topicID] = topic
}

func (s *Store) putLocked(topic domain.Topic) {
	if _, exists := s.topics[topic.ID]; !exists {
		s.order = append(s.order, topic.ID)
	}
	s.topics[topic.ID] = topic
}

func (s *Store) removeLocked(id string) {
	if _, ok := s.topics[id]; !ok {
		return
	}
	delete(s.topics, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) begin() {
	s.mutate(func() { s.inflight++ })
}

func (s *Store) finish(apply func()) {
	s.mutate(func() {
		s.inflight--
		apply()
	})
}

func (s *Store) finishWithError(message string, apply func()) {
	s.mutate(func() {
		s.inflight--
		s.errMsg = message
		apply()
	})
}

func (s *Store) fail(message string, logMessage string, err error, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["error"] = err.Error()
	s.log.Error(module, logMessage, details)
	s.finishWithError(message, func() {})
}

// mutate applies fn under the state lock and notifies listeners in mutation order.
func (s *Store) mutate(fn func()) {
	s.mutateIf(func() bool {
		fn()
		return true
	})
}

// mutateIf notifies listeners only when fn reports a change.
func (s *Store) mutateIf(fn func() bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changed := fn()
	state := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.notify(state)
	}
	return changed
}

func (s *Store) notify(state domain.StoreState) {
	s.listenerMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenerMu.Unlock()

	for _, listener := range listeners {
		listener(cloneState(state))
	}
}

func (s *Store) snapshotLocked() domain.StoreState {
	topics := make([]domain.Topic, 0, len(s.order))
	for _, id := range s.order {
		topics = append(topics, s.topics[id].Clone())
	}
	return domain.StoreState{Topics: topics, IsLoading: s.inflight > 0, Error: s.errMsg}
}

func cloneState(state domain.StoreState) domain.StoreState {
	out := state
	out.Topics = make([]domain.Topic, len(state.Topics))
	for i, topic := range state.Topics {
		out.Topics[i] = topic.Clone()
	}
	return out
}
