package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// State is the capture lifecycle phase. All transitions go through a
// single guarded function so overlapping starts and stops cannot leave
// the pipeline half-open.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateOpen
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateOpen:
		return "open"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MicSource is the microphone the pipeline reads from.
type MicSource interface {
	Start() error
	Stop() error
	Close() error
	Stream(io.Writer) error
}

// MicFactory opens a microphone for one capture run.
type MicFactory func() (MicSource, error)

// StreamConn is a live transcription connection accepting raw PCM.
type StreamConn interface {
	io.Writer
	Close() error
}

// ConnEvents receives callbacks from a live transcription connection.
// The pipeline implements it.
type ConnEvents interface {
	HandleOpen()
	HandleTranscript(text string, isFinal bool, confidence float64)
	HandleError(err error)
	HandleClosed()
}

// ConnFactory dials a live transcription connection for one capture
// run, delivering events to the given handler.
type ConnFactory func(ctx context.Context, events ConnEvents) (StreamConn, error)

// Config carries capture timing and thresholds.
type Config struct {
	PreStart      time.Duration // settle before grabbing the mic
	ReadyTimeout  time.Duration // max wait for the stream to open
	FlushGrace    time.Duration // let buffered audio drain before closing
	MicRelease    time.Duration // let the device settle after release
	Quiet         time.Duration // silence that ends a turn
	RestartDelay  time.Duration // pause before the post-error restart
	MinConfidence float64
	MinFinalLen   int
	MinInterimLen int
}

func (c *Config) fillDefaults() {
	if c.PreStart <= 0 {
		c.PreStart = 100 * time.Millisecond
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 2 * time.Second
	}
	if c.FlushGrace <= 0 {
		c.FlushGrace = 300 * time.Millisecond
	}
	if c.MicRelease <= 0 {
		c.MicRelease = 200 * time.Millisecond
	}
	if c.Quiet <= 0 {
		c.Quiet = 3 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 2 * time.Second
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.MinFinalLen <= 0 {
		c.MinFinalLen = 3
	}
	if c.MinInterimLen <= 0 {
		c.MinInterimLen = 5
	}
}

// Pipeline runs one answer capture at a time: mic in, live
// transcription out, with a quiet-period detector deciding when the
// speaker is done.
type Pipeline struct {
	cfg     Config
	openMic MicFactory
	dial    ConnFactory
	wrap    func(io.Writer) io.Writer

	onAnswer   func(string)
	onNoAnswer func()
	onError    func(error)

	acc      *Accumulator
	detector *Detector

	logf  func(format string, args ...any)
	sleep func(time.Duration)

	mu             sync.Mutex
	state          State
	mic            MicSource
	conn           StreamConn
	ready          bool
	readyCh        chan struct{}
	restartPending bool
}

func NewPipeline(cfg Config, openMic MicFactory, dial ConnFactory) *Pipeline {
	cfg.fillDefaults()
	p := &Pipeline{
		cfg:     cfg,
		openMic: openMic,
		dial:    dial,
		acc:     NewAccumulator(cfg.MinConfidence, cfg.MinFinalLen, cfg.MinInterimLen),
		logf:    log.Printf,
		sleep:   time.Sleep,
	}
	p.detector = NewDetector(cfg.Quiet)
	p.detector.Armed(func() bool { return p.State() == StateOpen })
	p.detector.OnQuiet(p.quietElapsed)
	return p
}

// OnAnswer installs the callback receiving the captured answer when a
// stop-and-submit finds one.
func (p *Pipeline) OnAnswer(fn func(answer string)) { p.onAnswer = fn }

// OnNoAnswer installs the callback invoked when a stop-and-submit
// finds nothing.
func (p *Pipeline) OnNoAnswer(fn func()) { p.onNoAnswer = fn }

// OnError installs the callback receiving stream failures.
func (p *Pipeline) OnError(fn func(error)) { p.onError = fn }

// Wrap installs a writer wrapper applied to the mic sink, used to tee
// raw audio into a recorder.
func (p *Pipeline) Wrap(fn func(io.Writer) io.Writer) { p.wrap = fn }

// State reports the current phase.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// transition moves the pipeline to a new phase. Callers hold p.mu.
func (p *Pipeline) transition(to State) error {
	valid := false
	switch p.state {
	case StateIdle:
		valid = to == StateStarting
	case StateStarting:
		valid = to == StateOpen || to == StateStopping || to == StateIdle
	case StateOpen:
		valid = to == StateStopping
	case StateStopping:
		valid = to == StateIdle
	}
	if !valid {
		return fmt.Errorf("invalid capture transition %s -> %s", p.state, to)
	}
	p.state = to
	return nil
}

// Start acquires the mic and opens the transcription stream. Calling
// it while a capture is already live or mid-teardown is a logged
// no-op, so doubled triggers cannot open two streams.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateStarting, StateOpen:
		p.logf("capture: start ignored, already %s", p.state)
		p.mu.Unlock()
		return nil
	case StateStopping:
		p.logf("capture: start ignored, teardown in progress")
		p.mu.Unlock()
		return nil
	}
	if err := p.transition(StateStarting); err != nil {
		p.mu.Unlock()
		return err
	}
	// A previous run that failed mid-start can leave resources
	// behind. Release them before acquiring fresh ones.
	p.releaseLocked()
	p.acc.Reset()
	p.readyCh = make(chan struct{})
	readyCh := p.readyCh
	p.mu.Unlock()

	p.sleep(p.cfg.PreStart)

	fail := func(err error) error {
		p.mu.Lock()
		p.releaseLocked()
		if terr := p.transition(StateIdle); terr != nil {
			p.logf("capture: %v", terr)
		}
		p.mu.Unlock()
		return err
	}

	mic, err := p.openMic()
	if err != nil {
		return fail(&MicAccessError{Err: err})
	}
	p.mu.Lock()
	p.mic = mic
	p.mu.Unlock()

	conn, err := p.dial(ctx, p)
	if err != nil {
		return fail(&TranscriptionError{Err: err})
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	// Wait for the stream to open, but only so long. Audio sent
	// before then is dropped by the sink rather than blocking the
	// whole turn.
	select {
	case <-readyCh:
	case <-time.After(p.cfg.ReadyTimeout):
		p.logf("capture: stream not ready after %s, proceeding", p.cfg.ReadyTimeout)
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	if err := mic.Start(); err != nil {
		return fail(&MicAccessError{Err: err})
	}

	p.mu.Lock()
	if err := p.transition(StateOpen); err != nil {
		p.mu.Unlock()
		return fail(err)
	}
	p.mu.Unlock()

	var w io.Writer = sink{p}
	if p.wrap != nil {
		w = p.wrap(w)
	}
	go func() {
		if err := mic.Stream(w); err != nil {
			if p.State() == StateOpen {
				p.logf("capture: mic stream ended: %v", err)
			}
		}
	}()

	p.detector.Reset()
	return nil
}

// Stop tears the capture down in order: cancel the detector, stop the
// mic, let buffered audio flush, close the stream, release the device.
// The answer is snapshotted before any teardown so late transcript
// callbacks cannot change what gets submitted. With submit set, the
// snapshot is delivered through OnAnswer, or ErrEmptyAnswer is
// returned if there was no speech. Stop while idle is a no-op.
func (p *Pipeline) Stop(submit bool) error {
	p.mu.Lock()
	switch p.state {
	case StateIdle:
		p.logf("capture: stop ignored, not streaming")
		p.mu.Unlock()
		return nil
	case StateStopping:
		p.logf("capture: stop already in progress")
		p.mu.Unlock()
		return nil
	}
	if err := p.transition(StateStopping); err != nil {
		p.mu.Unlock()
		return err
	}
	answer := p.acc.Best()
	// The snapshot is final; clear the pending transcript so results
	// arriving during teardown cannot leak into a later turn.
	p.acc.Reset()
	mic := p.mic
	conn := p.conn
	p.mu.Unlock()

	p.detector.Cancel()

	if mic != nil {
		if err := mic.Stop(); err != nil {
			p.logf("capture: mic stop: %v", err)
		}
	}
	p.sleep(p.cfg.FlushGrace)
	if conn != nil {
		if err := conn.Close(); err != nil {
			p.logf("capture: stream close: %v", err)
		}
	}
	if mic != nil {
		if err := mic.Close(); err != nil {
			p.logf("capture: mic close: %v", err)
		}
	}
	p.sleep(p.cfg.MicRelease)

	p.mu.Lock()
	p.mic = nil
	p.conn = nil
	p.ready = false
	if err := p.transition(StateIdle); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	if !submit {
		return nil
	}
	if answer == "" {
		if p.onNoAnswer != nil {
			p.onNoAnswer()
		}
		return ErrEmptyAnswer
	}
	if p.onAnswer != nil {
		p.onAnswer(answer)
	}
	return nil
}

// Teardown force-releases everything regardless of phase. For session
// shutdown only; errors are swallowed.
func (p *Pipeline) Teardown() {
	p.detector.Cancel()
	p.mu.Lock()
	p.releaseLocked()
	p.state = StateIdle
	p.mu.Unlock()
}

// quietElapsed runs when the quiet period passes with no new speech.
// An empty transcript rearms the countdown instead of ending the turn,
// so a silent speaker is never submitted as a blank answer.
func (p *Pipeline) quietElapsed() {
	if p.acc.Best() == "" {
		p.logf("capture: quiet period with no speech, still listening")
		p.detector.Reset()
		return
	}
	go func() {
		if err := p.Stop(true); err != nil && !errors.Is(err, ErrEmptyAnswer) {
			p.logf("capture: auto stop: %v", err)
		}
	}()
}

// HandleOpen implements ConnEvents.
func (p *Pipeline) HandleOpen() {
	p.mu.Lock()
	p.ready = true
	if p.readyCh != nil {
		close(p.readyCh)
		p.readyCh = nil
	}
	p.mu.Unlock()
}

// HandleTranscript implements ConnEvents. Results arriving after the
// pipeline left the open phase are dropped, so the submitted answer
// stays exactly what was snapshotted at stop time.
func (p *Pipeline) HandleTranscript(text string, isFinal bool, confidence float64) {
	switch p.State() {
	case StateOpen, StateStarting:
	default:
		return
	}
	var meaningful bool
	if isFinal {
		meaningful = p.acc.ApplyFinal(text, confidence)
	} else {
		meaningful = p.acc.ApplyInterim(text)
	}
	if meaningful {
		p.detector.Reset()
	}
}

// HandleError implements ConnEvents. The live capture is torn down and
// one restart is scheduled after a short delay.
func (p *Pipeline) HandleError(err error) {
	p.logf("capture: stream error: %v", err)
	if p.onError != nil {
		p.onError(&TranscriptionError{Err: err})
	}

	go func() {
		if serr := p.Stop(false); serr != nil {
			p.logf("capture: error cleanup: %v", serr)
		}
	}()

	p.mu.Lock()
	if p.restartPending {
		p.mu.Unlock()
		return
	}
	p.restartPending = true
	p.mu.Unlock()

	time.AfterFunc(p.cfg.RestartDelay, func() {
		p.mu.Lock()
		p.restartPending = false
		idle := p.state == StateIdle
		p.mu.Unlock()
		if !idle {
			return
		}
		if err := p.Start(context.Background()); err != nil {
			p.logf("capture: restart failed: %v", err)
		}
	})
}

// HandleClosed implements ConnEvents. A close while the capture is
// live means the server hung up; resources are released so the next
// start begins clean.
func (p *Pipeline) HandleClosed() {
	switch p.State() {
	case StateOpen, StateStarting:
	default:
		return
	}
	p.logf("capture: stream closed unexpectedly")
	go func() {
		if err := p.Stop(false); err != nil {
			p.logf("capture: close cleanup: %v", err)
		}
	}()
}

// releaseLocked closes any held resources. Callers hold p.mu.
func (p *Pipeline) releaseLocked() {
	if p.mic != nil {
		p.mic.Stop()
		p.mic.Close()
		p.mic = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.ready = false
}

// sink forwards mic audio to the live connection, dropping chunks
// while the stream is not accepting them.
type sink struct {
	p *Pipeline
}

func (s sink) Write(b []byte) (int, error) {
	p := s.p
	p.mu.Lock()
	conn := p.conn
	ok := p.state == StateOpen && p.ready
	p.mu.Unlock()

	if !ok || conn == nil {
		p.logf("capture: dropping %d bytes, stream not ready", len(b))
		return len(b), nil
	}
	if _, err := conn.Write(b); err != nil {
		p.logf("capture: stream write: %v", err)
	}
	return len(b), nil
}
