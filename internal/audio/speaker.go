package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const speakerFrames = 1024

// Speaker plays PCM16 clips through the default PortAudio output device.
// Only one clip plays at a time; Play blocks until the clip ends, Stop is
// called, or the context is cancelled.
type Speaker struct {
	mu      sync.Mutex
	playing bool
	cancel  chan struct{}
}

func NewSpeaker() *Speaker {
	return &Speaker{}
}

// Play writes the clip to the output device and blocks until finished.
// Starting a new clip while one is active is rejected; callers must Stop
// first (the playback sequencer enforces this ordering).
func (s *Speaker) Play(ctx context.Context, pcm PCM) error {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return fmt.Errorf("speaker busy")
	}
	cancel := make(chan struct{})
	s.playing = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.playing = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	buf := make([]int16, speakerFrames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(pcm.SampleRate), speakerFrames, buf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer func() { _ = stream.Stop() }()

	samples := pcm.Samples
	for len(samples) > 0 {
		select {
		case <-cancel:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n := copy(buf, samples)
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		samples = samples[n:]

		if err := stream.Write(); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
	}

	return nil
}

// Stop detaches the current clip, if any. Safe to call at any time.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
}
