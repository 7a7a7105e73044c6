package playback

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley/internal/audio"
	"github.com/parley-ai/parley/internal/synth"
)

// SpeakerPlayer adapts the PortAudio speaker to the Player interface.
// Only LINEAR16 (WAV) clips are supported; the synthesizer is configured
// to produce them.
type SpeakerPlayer struct {
	speaker *audio.Speaker
}

func NewSpeakerPlayer(speaker *audio.Speaker) *SpeakerPlayer {
	return &SpeakerPlayer{speaker: speaker}
}

func (p *SpeakerPlayer) Play(ctx context.Context, clip synth.Clip) error {
	pcm, err := audio.DecodeWAV(clip.Data)
	if err != nil {
		return fmt.Errorf("decode clip: %w", err)
	}
	return p.speaker.Play(ctx, pcm)
}

func (p *SpeakerPlayer) Stop() {
	p.speaker.Stop()
}
