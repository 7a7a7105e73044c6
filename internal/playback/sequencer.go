// Package playback plays synthesized utterances strictly in order and
// signals completion exactly once, so the microphone never opens while
// the interviewer is still speaking.
package playback

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/synth"
)

// Synthesizer produces audio for one utterance.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (synth.Clip, error)
}

// Player plays a single clip to completion. Stop detaches whatever is
// currently playing; a stopped Play returns without error.
type Player interface {
	Play(ctx context.Context, clip synth.Clip) error
	Stop()
}

type Sequencer struct {
	synth  Synthesizer
	player Player

	// Pause between clips, and the settle delay after the last clip that
	// lets the audio channel release before a microphone opens.
	gap    time.Duration
	settle time.Duration

	onPlaying func(bool)
	sleep     func(time.Duration)
	logf      func(string, ...any)
}

func NewSequencer(s Synthesizer, p Player, gap, settle time.Duration) *Sequencer {
	if gap <= 0 {
		gap = 200 * time.Millisecond
	}
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Sequencer{
		synth:  s,
		player: p,
		gap:    gap,
		settle: settle,
		sleep:  time.Sleep,
		logf:   log.Printf,
	}
}

// OnPlaying registers an observer toggled when playback starts and ends.
func (s *Sequencer) OnPlaying(fn func(bool)) {
	s.onPlaying = fn
}

// Stop detaches whatever clip is currently playing.
func (s *Sequencer) Stop() {
	s.player.Stop()
}

// PlaySequence synthesizes and plays each utterance in order, then waits
// the settle delay and invokes onComplete. onComplete fires exactly once
// even when a clip fails mid-sequence: the caller uses it to resume the
// session, so an error must not strand the interview.
func (s *Sequencer) PlaySequence(ctx context.Context, texts []string, onComplete func()) error {
	utterances := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			utterances = append(utterances, t)
		}
	}

	completed := false
	complete := func() {
		if completed {
			return
		}
		completed = true
		if onComplete != nil {
			onComplete()
		}
	}

	if len(utterances) == 0 {
		complete()
		return nil
	}

	s.setPlaying(true)
	defer s.setPlaying(false)

	var firstErr error
	for i, text := range utterances {
		if ctx.Err() != nil {
			firstErr = ctx.Err()
			break
		}

		if err := s.playOne(ctx, text); err != nil {
			s.logf("playback error on utterance %d/%d: %v", i+1, len(utterances), err)
			firstErr = err
			break
		}

		if i < len(utterances)-1 {
			s.sleep(s.gap)
		}
	}

	if ctx.Err() == nil {
		s.sleep(s.settle)
	}
	complete()
	return firstErr
}

func (s *Sequencer) playOne(ctx context.Context, text string) error {
	// Detach any clip still playing so a stale end event can never fire
	// into this one.
	s.player.Stop()

	clip, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	return s.player.Play(ctx, clip)
}

func (s *Sequencer) setPlaying(playing bool) {
	if s.onPlaying != nil {
		s.onPlaying(playing)
	}
}
