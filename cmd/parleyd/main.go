package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/interviewer"
	"github.com/parley-ai/parley/internal/llm"
	"github.com/parley-ai/parley/internal/server"
	"github.com/parley-ai/parley/internal/storage"
	"github.com/parley-ai/parley/internal/synth"
)

func main() {
	log.Println("parleyd: starting")

	configPath := flag.String("config", "parley.yaml", "path to config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	provider, model, err := llm.ParseModel(cfg.Model)
	if err != nil {
		log.Fatalf("invalid model %q: %v", cfg.Model, err)
	}
	llmClient, err := llm.NewClient(provider, cfg.LLMAPIKey(), model, llm.WithTemperature(0.7))
	if err != nil {
		log.Fatalf("llm init failed: %v", err)
	}
	gen := interviewer.New(llmClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tts server.Synthesizer
	if cfg.GoogleTTSAPIKey != "" || cfg.GoogleCredentialsFile != "" {
		ttsClient, ttsErr := synth.New(ctx, synth.Options{
			APIKey:          cfg.GoogleTTSAPIKey,
			CredentialsFile: cfg.GoogleCredentialsFile,
			LanguageCode:    cfg.TTSLanguage,
			VoiceName:       cfg.TTSVoice,
		})
		if ttsErr != nil {
			log.Printf("warning: speech synthesis disabled: %v", ttsErr)
		} else {
			tts = ttsClient
		}
	}

	hub := server.NewHub()
	handler := server.Handler(store, gen, tts, hub, server.Config{
		TranscriptionKey: cfg.DeepgramAPIKey,
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		log.Printf("parleyd: api on http://%s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("parleyd: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}
