package store

import "speakdrill/internal/domain"

// SelectTopics projects the topic list in load order.
func SelectTopics(state domain.StoreState) []domain.Topic {
	out := make([]domain.Topic, len(state.Topics))
	for i, topic := range state.Topics {
		out[i] = topic.Clone()
	}
	return out
}

func SelectIsLoading(state domain.StoreState) bool {
	return state.IsLoading
}

// SelectError returns the banner message and whether one is set.
func SelectError(state domain.StoreState) (string, bool) {
	return state.Error, state.HasError()
}

func SelectTopicByID(state domain.StoreState, id string) (domain.Topic, bool) {
	for _, topic := range state.Topics {
		if topic.ID == id {
			return topic.Clone(), true
		}
	}
	return domain.Topic{}, false
}

// SelectUnsyncedCount counts sessions that failed to reach the remote service.
func SelectUnsyncedCount(state domain.StoreState) int {
	count := 0
	for _, topic := range state.Topics {
		for _, session := range topic.Sessions {
			if session.Sync == domain.SyncStatusUnsynced {
				count++
			}
		}
	}
	return count
}
