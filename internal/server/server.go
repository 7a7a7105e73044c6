// Package server is the parleyd HTTP API: interview lifecycle, user
// profiles and feedback history, question audio, and a websocket feed
// of interview events.
package server

import (
	"log"
	"net/http"
)

// Config carries handler-level settings.
type Config struct {
	// TranscriptionKey is handed to interview clients at start so they
	// can open their own live transcription stream.
	TranscriptionKey string
}

func Handler(store InterviewStore, gen QuestionGenerator, tts Synthesizer, hub *Hub, cfg Config) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, store, gen, tts, hub, cfg)

	return mux
}

func Serve(addr string, store InterviewStore, gen QuestionGenerator, tts Synthesizer, hub *Hub, cfg Config) error {
	log.Printf("api listening at http://%s", addr)
	return http.ListenAndServe(addr, Handler(store, gen, tts, hub, cfg))
}
