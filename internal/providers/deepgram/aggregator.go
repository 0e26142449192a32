package deepgram

import (
	"strings"
	"sync"
)

// transcriptAggregator joins final segments, falling back to the last heard text
// when the stream ended before a final arrived.
type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func (a *transcriptAggregator) add(event transcriptEvent) {
	text := strings.TrimSpace(event.text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSpoken = text
	if event.kind == eventFinal {
		a.finals = append(a.finals, text)
	}
}

func (a *transcriptAggregator) text() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	switch {
	case joined == "":
		return a.lastSpoken
	case a.lastSpoken == "", strings.HasSuffix(joined, a.lastSpoken):
		return joined
	case len(a.lastSpoken) > len(joined):
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	default:
		return joined
	}
}

func collectTranscripts(events <-chan transcriptEvent, agg *transcriptAggregator, done chan<- struct{}) {
	defer close(done)
	for event := range events {
		agg.add(event)
	}
}
