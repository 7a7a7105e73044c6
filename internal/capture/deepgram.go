package capture

import (
	"context"
	"fmt"
	"io"
	"strconv"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// DeepgramOptions configures the live transcription connection.
type DeepgramOptions struct {
	APIKey      string
	Model       string
	Language    string
	SampleRate  int
	Endpointing int // ms of trailing silence before a final, 0 for provider default
}

// NewDeepgramFactory returns a ConnFactory dialing Deepgram's live
// websocket API. One connection is dialed per capture run.
func NewDeepgramFactory(opts DeepgramOptions) ConnFactory {
	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	return func(ctx context.Context, events ConnEvents) (StreamConn, error) {
		cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
		tOptions := &interfaces.LiveTranscriptionOptions{
			Model:          opts.Model,
			Language:       opts.Language,
			Punctuate:      true,
			SmartFormat:    true,
			InterimResults: true,
			Encoding:       "linear16",
			SampleRate:     opts.SampleRate,
			Channels:       1,
		}
		if opts.Endpointing > 0 {
			tOptions.Endpointing = strconv.Itoa(opts.Endpointing)
		}

		dgClient, err := client.NewWSUsingCallback(ctx, opts.APIKey, cOptions, tOptions, streamCallback{events: events})
		if err != nil {
			return nil, err
		}
		if ok := dgClient.Connect(); !ok {
			return nil, fmt.Errorf("deepgram connect failed")
		}
		return &deepgramConn{client: dgClient}, nil
	}
}

type deepgramConn struct {
	client interface {
		io.Writer
		Stop()
	}
}

func (c *deepgramConn) Write(b []byte) (int, error) {
	return c.client.Write(b)
}

func (c *deepgramConn) Close() error {
	c.client.Stop()
	return nil
}

// streamCallback adapts Deepgram's callback interface onto ConnEvents.
type streamCallback struct {
	events ConnEvents
}

func (c streamCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	c.events.HandleTranscript(alt.Transcript, mr.IsFinal, alt.Confidence)
	return nil
}

func (c streamCallback) Open(*api.OpenResponse) error {
	c.events.HandleOpen()
	return nil
}

func (c streamCallback) Close(*api.CloseResponse) error {
	c.events.HandleClosed()
	return nil
}

func (c streamCallback) Error(er *api.ErrorResponse) error {
	c.events.HandleError(fmt.Errorf("%s: %s", er.ErrCode, er.Description))
	return nil
}

func (c streamCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c streamCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c streamCallback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c streamCallback) UnhandledEvent([]byte) error { return nil }
