package deepgram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var errStreamClosed = errors.New("audio stream is already closed")

// audioStream is the half-duplex view of a listen connection used by the pump.
type audioStream interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan transcriptEvent
	Wait() error
	Close() error
}

type listenStream struct {
	conn *websocket.Conn

	events  chan transcriptEvent
	audio   chan []byte
	closing chan struct{}
	done    chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func newListenStream(conn *websocket.Conn) *listenStream {
	s := &listenStream{
		conn:    conn,
		events:  make(chan transcriptEvent, 64),
		audio:   make(chan []byte, 32),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *listenStream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errStreamClosed
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.closing:
		return errStreamClosed
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("listen stream closed")
	}
}

// CloseSend flushes queued audio and asks the server to finish the stream.
func (s *listenStream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *listenStream) Events() <-chan transcriptEvent {
	return s.events
}

func (s *listenStream) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *listenStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		// unblocks a writer stuck on a peer that stopped reading
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *listenStream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *listenStream) setErr(err error) {
	if err == nil {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && websocket.IsCloseError(closeErr,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *listenStream) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			// keep draining so SendAudio never blocks on a dead writer
			for range s.audio {
			}
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *listenStream) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				s.setErr(fmt.Errorf("failed to read transcription event: %w", err))
			}
			return
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		text := response.transcript()
		if text == "" {
			continue
		}

		event := transcriptEvent{kind: eventPartial, text: text}
		if response.IsFinal || response.SpeechFinal {
			event.kind = eventFinal
		}
		s.emit(event)
	}
}

func (s *listenStream) emit(event transcriptEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}
