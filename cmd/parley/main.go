package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/parley-ai/parley/internal/audio"
	"github.com/parley-ai/parley/internal/capture"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/exchange"
	"github.com/parley-ai/parley/internal/interview"
	"github.com/parley-ai/parley/internal/playback"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/internal/synth"
)

func main() {
	log.Println("parley: starting")

	configPath := flag.String("config", "parley.yaml", "path to config file")
	interviewID := flag.String("interview", "", "interview id; empty runs a demo session")
	jobTitle := flag.String("job", "", "job title (required for demo sessions)")
	jobDescription := flag.String("description", "", "job description")
	difficulty := flag.String("difficulty", interview.DifficultyMedium, "easy, medium or hard")
	candidate := flag.String("name", "", "candidate name spoken in the greeting")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	id := *interviewID
	if id == "" {
		if *jobTitle == "" {
			log.Fatal("demo sessions need -job")
		}
		id = interview.EphemeralPrefix + randomSuffix()
		log.Printf("parley: running demo session %s", id)
	}

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("audio init failed: %v", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := exchange.New(cfg.ServerURL)

	var synthesizer playback.Synthesizer
	ttsClient, err := synth.New(ctx, synth.Options{
		APIKey:          cfg.GoogleTTSAPIKey,
		CredentialsFile: cfg.GoogleCredentialsFile,
		LanguageCode:    cfg.TTSLanguage,
		VoiceName:       cfg.TTSVoice,
	})
	if err != nil {
		// Questions still show as text; the sequencer's error path
		// opens the mic regardless.
		log.Printf("warning: speech synthesis unavailable: %v", err)
		synthesizer = unavailableSynth{}
	} else {
		synthesizer = ttsClient
	}

	speaker := audio.NewSpeaker()
	sequencer := playback.NewSequencer(
		synthesizer,
		playback.NewSpeakerPlayer(speaker),
		cfg.ParsedPlaybackGap(),
		cfg.ParsedPlaybackSettle(),
	)

	pipe := capture.NewPipeline(
		capture.Config{
			PreStart:      cfg.ParsedPreStart(),
			ReadyTimeout:  cfg.ParsedConnectionWait(),
			FlushGrace:    cfg.ParsedFlushGrace(),
			MicRelease:    cfg.ParsedMicRelease(),
			Quiet:         cfg.ParsedSilenceTimeout(),
			MinConfidence: cfg.MinConfidence,
		},
		func() (capture.MicSource, error) {
			return audio.NewMic(cfg.MicSampleRate, cfg.ChunkFrames())
		},
		capture.NewDeepgramFactory(capture.DeepgramOptions{
			APIKey:      cfg.DeepgramAPIKey,
			SampleRate:  cfg.MicSampleRate,
			Endpointing: cfg.EndpointingMillis,
		}),
	)

	recorder := audio.NewRecorder(cfg.AudioDir)
	recorder.SetSampleRate(cfg.MicSampleRate)
	if err := recorder.Begin(id); err != nil {
		log.Printf("warning: answer recording disabled: %v", err)
	} else {
		pipe.Wrap(recorder.Writer)
	}

	ctrl := session.NewController(session.Job{
		InterviewID:    id,
		Title:          *jobTitle,
		Description:    *jobDescription,
		Difficulty:     *difficulty,
		CandidateLabel: *candidate,
	}, sequencer, pipe, client)
	ctrl.OnStatus(func(msg string) { log.Printf("parley: %s", msg) })
	ctrl.OnCaption(func(text string) { fmt.Printf("\nQ: %s\n\n", text) })

	if err := ctrl.Begin(ctx); err != nil {
		log.Fatalf("interview start failed: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		log.Println("parley: finishing interview")
		completeCtx, completeCancel := context.WithTimeout(context.Background(), 90*time.Second)
		if _, err := ctrl.Complete(completeCtx); err != nil {
			log.Printf("warning: complete failed: %v", err)
		}
		completeCancel()
	case <-ctrl.Done():
	}

	ctrl.Teardown()

	if path, err := recorder.End(); err == nil && path != "" {
		log.Printf("parley: answer audio saved to %s", path)
	}

	if fb := ctrl.Feedback(); fb != nil {
		printFeedback(fb)
	}
	log.Println("parley: done")
}

func printFeedback(fb *interview.Feedback) {
	fmt.Printf("\nOverall score: %d/100\n", fb.OverallScore)
	printSection("Strengths", fb.Strengths)
	printSection("Areas to improve", fb.Weaknesses)
	printSection("Recommendations", fb.Recommendations)
	if fb.DetailedAnalysis != "" {
		fmt.Printf("\n%s\n", fb.DetailedAnalysis)
	}
}

func printSection(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, item := range items {
		fmt.Printf("  - %s\n", item)
	}
}

func randomSuffix() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// unavailableSynth stands in when TTS is not configured. Every request
// fails, which the playback sequencer degrades through cleanly.
type unavailableSynth struct{}

func (unavailableSynth) Synthesize(context.Context, string) (synth.Clip, error) {
	return synth.Clip{}, fmt.Errorf("speech synthesis not configured")
}
