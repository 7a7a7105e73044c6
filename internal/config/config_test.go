package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearParleyEnv(t *testing.T) {
	t.Helper()
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, EnvPrefix) {
			name, _, _ := strings.Cut(env, "=")
			t.Setenv(name, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearParleyEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8090" {
		t.Fatalf("wrong listen addr: %q", cfg.ListenAddr)
	}
	if cfg.Model != "gemini/gemini-2.0-flash" {
		t.Fatalf("wrong model: %q", cfg.Model)
	}
	if cfg.ParsedSilenceTimeout() != 3*time.Second {
		t.Fatalf("wrong silence timeout: %v", cfg.ParsedSilenceTimeout())
	}
	if cfg.MicSampleRate != 16000 {
		t.Fatalf("wrong sample rate: %d", cfg.MicSampleRate)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearParleyEnv(t)

	cfg, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8090" {
		t.Fatalf("wrong listen addr: %q", cfg.ListenAddr)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	clearParleyEnv(t)

	path := filepath.Join(t.TempDir(), "parley.yaml")
	body := "listen_addr: 0.0.0.0:9000\nmodel: openai/gpt-4o\nsilence_timeout: 5s\nmic_sample_rate: 48000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("wrong listen addr: %q", cfg.ListenAddr)
	}
	if cfg.Model != "openai/gpt-4o" {
		t.Fatalf("wrong model: %q", cfg.Model)
	}
	if cfg.ParsedSilenceTimeout() != 5*time.Second {
		t.Fatalf("wrong silence timeout: %v", cfg.ParsedSilenceTimeout())
	}
	if cfg.MicSampleRate != 48000 {
		t.Fatalf("wrong sample rate: %d", cfg.MicSampleRate)
	}
	// Untouched keys keep their defaults.
	if cfg.TTSVoice != "en-US-Neural2-D" {
		t.Fatalf("wrong tts voice: %q", cfg.TTSVoice)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearParleyEnv(t)

	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	clearParleyEnv(t)

	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: 0.0.0.0:9000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvPrefix+"LISTEN_ADDR", "127.0.0.1:7777")
	t.Setenv(EnvPrefix+"MODEL", "anthropic/claude-sonnet-4")
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATE", "44100")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Fatalf("env override lost: %q", cfg.ListenAddr)
	}
	if cfg.Model != "anthropic/claude-sonnet-4" {
		t.Fatalf("env override lost: %q", cfg.Model)
	}
	if cfg.MicSampleRate != 44100 {
		t.Fatalf("env override lost: %d", cfg.MicSampleRate)
	}
}

func TestSecretsComeFromEnvOnly(t *testing.T) {
	clearParleyEnv(t)

	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("deepgramapikey: leaked\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg_secret")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DeepgramAPIKey != "dg_secret" {
		t.Fatalf("wrong deepgram key: %q", cfg.DeepgramAPIKey)
	}
}

func TestValidateWarnsOnMissingKeys(t *testing.T) {
	clearParleyEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(warnings) < 3 {
		t.Fatalf("expected warnings for deepgram, llm and tts keys, got %v", warnings)
	}
}

func TestValidateResetsBadConfidence(t *testing.T) {
	clearParleyEnv(t)

	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("min_confidence: 7\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MinConfidence != 0.5 {
		t.Fatalf("expected confidence reset, got %v", cfg.MinConfidence)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "min_confidence") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing min_confidence warning: %v", warnings)
	}
}

func TestDurationAccessorFallbacks(t *testing.T) {
	cfg := defaults()
	cfg.SilenceTimeout = "soon"
	cfg.FlushGrace = "-1s"

	if cfg.ParsedSilenceTimeout() != 3*time.Second {
		t.Fatalf("wrong fallback: %v", cfg.ParsedSilenceTimeout())
	}
	if cfg.ParsedFlushGrace() != 300*time.Millisecond {
		t.Fatalf("wrong fallback: %v", cfg.ParsedFlushGrace())
	}
}

func TestChunkFrames(t *testing.T) {
	cfg := defaults()
	if got := cfg.ChunkFrames(); got != 4800 {
		t.Fatalf("expected 4800 frames at 16kHz/300ms, got %d", got)
	}

	cfg.ChunkInterval = "garbage"
	if got := cfg.ChunkFrames(); got != 4800 {
		t.Fatalf("expected fallback frames, got %d", got)
	}
}

func TestLLMAPIKeyFollowsProvider(t *testing.T) {
	cfg := defaults()
	cfg.GeminiAPIKey = "g"
	cfg.OpenAIAPIKey = "o"
	cfg.AnthropicAPIKey = "a"

	cases := map[string]string{
		"gemini/gemini-2.0-flash":   "g",
		"openai/gpt-4o":             "o",
		"anthropic/claude-sonnet-4": "a",
		"unknown/whatever":          "g",
	}
	for model, want := range cases {
		cfg.Model = model
		if got := cfg.LLMAPIKey(); got != want {
			t.Fatalf("model %s: expected key %q, got %q", model, want, got)
		}
	}
}
