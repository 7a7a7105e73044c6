// Package synth turns question text into playable audio using the
// Google Cloud Text-to-Speech API.
package synth

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	texttospeech "google.golang.org/api/texttospeech/v1"
	"google.golang.org/api/option"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// SynthesisError reports a failed or empty synthesis response.
type SynthesisError struct {
	Text string
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize %q: %v", truncate(e.Text, 40), e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Clip is one synthesized utterance.
type Clip struct {
	MIME       string
	SampleRate int
	Data       []byte
}

// DataURL encodes the clip as a data URL, the transport the question
// audio endpoint serves to browsers.
func (c Clip) DataURL() string {
	return "data:" + c.MIME + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

// Options configure voice selection and output encoding.
type Options struct {
	APIKey          string
	CredentialsFile string
	LanguageCode    string
	VoiceName       string
	SsmlGender      string
	Encoding        string // LINEAR16 or MP3
	SampleRate      int
	SpeakingRate    float64
	Endpoint        string // test override
}

type Client struct {
	svc  *texttospeech.Service
	opts Options
}

func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.LanguageCode == "" {
		opts.LanguageCode = "en-US"
	}
	if opts.SsmlGender == "" {
		opts.SsmlGender = "NEUTRAL"
	}
	if opts.Encoding == "" {
		opts.Encoding = "LINEAR16"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	if opts.SpeakingRate <= 0 {
		opts.SpeakingRate = 1.0
	}

	clientOpts, err := authOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create texttospeech service: %w", err)
	}

	return &Client{svc: svc, opts: opts}, nil
}

func authOptions(ctx context.Context, opts Options) ([]option.ClientOption, error) {
	if opts.APIKey != "" {
		return []option.ClientOption{option.WithAPIKey(opts.APIKey)}, nil
	}
	if opts.CredentialsFile != "" {
		raw, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read tts credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSONWithTypeAndParams(ctx, raw, google.ServiceAccount,
			google.CredentialsParams{Scopes: []string{cloudPlatformScope}})
		if err != nil {
			return nil, fmt.Errorf("parse tts credentials: %w", err)
		}
		return []option.ClientOption{option.WithCredentials(creds)}, nil
	}
	if opts.Endpoint != "" {
		// Test servers need no auth.
		return []option.ClientOption{option.WithoutAuthentication()}, nil
	}
	return nil, fmt.Errorf("tts requires an API key or a service account credentials file")
}

// Synthesize converts text into a single audio clip.
func (c *Client) Synthesize(ctx context.Context, text string) (Clip, error) {
	if strings.TrimSpace(text) == "" {
		return Clip{}, &SynthesisError{Text: text, Err: fmt.Errorf("empty text")}
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: c.opts.LanguageCode,
			SsmlGender:   c.opts.SsmlGender,
			Name:         c.opts.VoiceName,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   c.opts.Encoding,
			SampleRateHertz: int64(c.opts.SampleRate),
			SpeakingRate:    c.opts.SpeakingRate,
		},
	}

	resp, err := c.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return Clip{}, &SynthesisError{Text: text, Err: err}
	}
	if resp.AudioContent == "" {
		return Clip{}, &SynthesisError{Text: text, Err: fmt.Errorf("no audio content in response")}
	}

	data, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return Clip{}, &SynthesisError{Text: text, Err: fmt.Errorf("decode audio content: %w", err)}
	}

	return Clip{MIME: mimeFor(c.opts.Encoding), SampleRate: c.opts.SampleRate, Data: data}, nil
}

func mimeFor(encoding string) string {
	switch encoding {
	case "MP3":
		return "audio/mpeg"
	case "OGG_OPUS":
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
