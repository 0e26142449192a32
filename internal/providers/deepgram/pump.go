package deepgram

import (
	"errors"
	"fmt"
	"io"
	"time"
)

func pumpAudio(audio io.Reader, stream audioStream, chunkSize int) error {
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return fmt.Errorf("failed to stream audio: %w", sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read recording: %w", err)
		}
	}
}

// waitForStream waits for the server to finish, closing the connection after timeout.
func waitForStream(stream audioStream, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- stream.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = stream.Close()
		return <-done
	}
}
