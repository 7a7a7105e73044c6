package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/synth"
)

type fakeSynth struct {
	mu       sync.Mutex
	requests []string
	failOn   string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (synth.Clip, error) {
	f.mu.Lock()
	f.requests = append(f.requests, text)
	f.mu.Unlock()
	if text == f.failOn {
		return synth.Clip{}, errors.New("synthesis refused")
	}
	return synth.Clip{MIME: "audio/wav", Data: []byte(text)}, nil
}

type fakePlayer struct {
	mu     sync.Mutex
	played []string
	stops  int
	failOn string
}

func (f *fakePlayer) Play(_ context.Context, clip synth.Clip) error {
	f.mu.Lock()
	f.played = append(f.played, string(clip.Data))
	f.mu.Unlock()
	if string(clip.Data) == f.failOn {
		return errors.New("device gone")
	}
	return nil
}

func (f *fakePlayer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func newTestSequencer(s Synthesizer, p Player) *Sequencer {
	seq := NewSequencer(s, p, time.Millisecond, time.Millisecond)
	seq.sleep = func(time.Duration) {}
	seq.logf = func(string, ...any) {}
	return seq
}

func TestPlaySequenceOrder(t *testing.T) {
	fs := &fakeSynth{}
	fp := &fakePlayer{}
	seq := newTestSequencer(fs, fp)

	completed := 0
	err := seq.PlaySequence(context.Background(), []string{"greeting", "question"}, func() {
		completed++
	})
	if err != nil {
		t.Fatalf("play sequence: %v", err)
	}

	if len(fp.played) != 2 || fp.played[0] != "greeting" || fp.played[1] != "question" {
		t.Fatalf("wrong order: %v", fp.played)
	}
	if completed != 1 {
		t.Fatalf("expected onComplete once, got %d", completed)
	}
}

func TestPlaySequenceStopsBeforeEachClip(t *testing.T) {
	fs := &fakeSynth{}
	fp := &fakePlayer{}
	seq := newTestSequencer(fs, fp)

	if err := seq.PlaySequence(context.Background(), []string{"a", "b", "c"}, nil); err != nil {
		t.Fatalf("play sequence: %v", err)
	}
	if fp.stops != 3 {
		t.Fatalf("expected a stop before each clip, got %d", fp.stops)
	}
}

func TestPlaySequenceSkipsBlankUtterances(t *testing.T) {
	fs := &fakeSynth{}
	fp := &fakePlayer{}
	seq := newTestSequencer(fs, fp)

	completed := 0
	if err := seq.PlaySequence(context.Background(), []string{"", "  ", "question"}, func() { completed++ }); err != nil {
		t.Fatalf("play sequence: %v", err)
	}
	if len(fs.requests) != 1 || fs.requests[0] != "question" {
		t.Fatalf("expected only the real utterance synthesized, got %v", fs.requests)
	}
	if completed != 1 {
		t.Fatalf("expected onComplete once, got %d", completed)
	}
}

func TestPlaySequenceAllBlankStillCompletes(t *testing.T) {
	seq := newTestSequencer(&fakeSynth{}, &fakePlayer{})

	completed := 0
	if err := seq.PlaySequence(context.Background(), []string{"", "   "}, func() { completed++ }); err != nil {
		t.Fatalf("play sequence: %v", err)
	}
	if completed != 1 {
		t.Fatalf("expected onComplete once, got %d", completed)
	}
}

func TestPlaySequenceSynthesisErrorStillCompletes(t *testing.T) {
	fs := &fakeSynth{failOn: "second"}
	fp := &fakePlayer{}
	seq := newTestSequencer(fs, fp)

	completed := 0
	err := seq.PlaySequence(context.Background(), []string{"first", "second", "third"}, func() {
		completed++
	})
	if err == nil {
		t.Fatal("expected error from failed synthesis")
	}
	if completed != 1 {
		t.Fatalf("expected onComplete exactly once on error, got %d", completed)
	}
	if len(fp.played) != 1 || fp.played[0] != "first" {
		t.Fatalf("expected playback to halt at the failure, got %v", fp.played)
	}
}

func TestPlaySequencePlayerErrorStillCompletes(t *testing.T) {
	fs := &fakeSynth{}
	fp := &fakePlayer{failOn: "boom"}
	seq := newTestSequencer(fs, fp)

	completed := 0
	err := seq.PlaySequence(context.Background(), []string{"boom", "next"}, func() {
		completed++
	})
	if err == nil {
		t.Fatal("expected playback error")
	}
	if completed != 1 {
		t.Fatalf("expected onComplete exactly once, got %d", completed)
	}
}

func TestPlaySequenceCancelledContext(t *testing.T) {
	fs := &fakeSynth{}
	fp := &fakePlayer{}
	seq := newTestSequencer(fs, fp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	completed := 0
	err := seq.PlaySequence(ctx, []string{"question"}, func() { completed++ })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if completed != 1 {
		t.Fatalf("expected onComplete even when cancelled, got %d", completed)
	}
	if len(fp.played) != 0 {
		t.Fatalf("expected nothing played, got %v", fp.played)
	}
}

func TestPlayingObserverTogglesAroundSequence(t *testing.T) {
	fs := &fakeSynth{}
	fp := &fakePlayer{}
	seq := newTestSequencer(fs, fp)

	var states []bool
	seq.OnPlaying(func(playing bool) { states = append(states, playing) })

	if err := seq.PlaySequence(context.Background(), []string{"question"}, nil); err != nil {
		t.Fatalf("play sequence: %v", err)
	}
	if len(states) != 2 || !states[0] || states[1] {
		t.Fatalf("expected playing true then false, got %v", states)
	}
}
