package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/petems/holdtosend/internal/codec"
	"github.com/petems/holdtosend/internal/format"
	"github.com/petems/holdtosend/internal/permissions"
	"github.com/rs/zerolog"
)

// State of a capture session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateCapturing     State = "capturing"
	StateFailed        State = "failed"
)

// Permissions abstracts the OS microphone permission.
type Permissions interface {
	State() permissions.State
	Request(ctx context.Context) (permissions.State, error)
}

// EncoderFactory creates encoders for negotiated codec strings.
type EncoderFactory interface {
	NewEncoder(mime string, w io.Writer, p codec.Params) (codec.Encoder, error)
}

type SessionConfig struct {
	Device      Device
	Permissions Permissions
	Negotiator  *format.Negotiator
	Encoders    EncoderFactory
	Constraints Constraints
	Timeslice   time.Duration
	Logger      zerolog.Logger
}

// Session owns one microphone stream and at most one in-progress recording.
type Session struct {
	device      Device
	perms       Permissions
	neg         *format.Negotiator
	encoders    EncoderFactory
	constraints Constraints
	timeslice   time.Duration
	log         zerolog.Logger

	mu     sync.Mutex
	state  State
	stream Stream
	active *activeRecording
}

type activeRecording struct {
	mime    string
	started time.Time
	rec     *recorder

	// written by collect only; read after done is closed
	chunks [][]byte
	size   int
	err    error
	done   chan struct{}
}

func NewSession(cfg SessionConfig) *Session {
	perms := cfg.Permissions
	if perms == nil {
		perms = permissions.System{}
	}
	ts := cfg.Timeslice
	if ts <= 0 {
		ts = Timeslice
	}
	return &Session{
		device:      cfg.Device,
		perms:       perms,
		neg:         cfg.Negotiator,
		encoders:    cfg.Encoders,
		constraints: normalize(cfg.Constraints),
		timeslice:   ts,
		log:         cfg.Logger,
		state:       StateUninitialized,
	}
}

func normalize(c Constraints) Constraints {
	if c.SampleRate == 0 {
		d := DefaultConstraints()
		d.DeviceID = c.DeviceID
		c = d
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = DefaultConstraints().FramesPerBuffer
	}
	return c
}

// SetConstraints replaces the constraints used the next time the microphone
// is opened. An open stream keeps its settings until Cleanup.
func (s *Session) SetConstraints(c Constraints) bool {
	c = normalize(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == s.constraints {
		return false
	}
	s.constraints = c
	return true
}

// Initialize acquires the microphone. It is a no-op when a stream is
// already open. The session lock is not held while waiting for the
// permission prompt or the device, so IsReady and Cleanup stay responsive.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	constraints := s.constraints
	s.mu.Unlock()

	stream, err := s.acquire(ctx, constraints)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		// a concurrent Initialize won; keep its stream
		if stream != nil {
			stream.Close()
		}
		return nil
	}
	if err != nil {
		s.state = StateFailed
		return err
	}

	s.stream = stream
	s.state = StateReady
	s.log.Info().
		Int("sample_rate", constraints.SampleRate).
		Int("channels", constraints.Channels).
		Msg("Microphone ready")
	return nil
}

func (s *Session) acquire(ctx context.Context, c Constraints) (Stream, error) {
	state := s.perms.State()
	if state == permissions.Prompt {
		s.log.Info().Msg("Requesting microphone permission")
		var err error
		state, err = s.perms.Request(ctx)
		if err != nil {
			return nil, newError(UnknownCaptureError, err)
		}
	}
	if state != permissions.Granted {
		return nil, newError(PermissionDenied, errors.New("microphone permission "+string(state)))
	}

	stream, err := s.device.Open(ctx, c)
	if err != nil {
		return nil, Classify(err)
	}
	if stream == nil {
		return nil, newError(UnknownCaptureError, errors.New("device returned no stream"))
	}
	return stream, nil
}

func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && s.stream.Live()
}

// IsMicrophoneActive detects devices that were unplugged or revoked after
// the stream was opened.
func (s *Session) IsMicrophoneActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && s.stream.Live() && s.stream.Enabled()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a recording in format f.
func (s *Session) Start(f format.AudioFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return ErrNotInitialized
	}
	if s.active != nil {
		return ErrAlreadyCapturing
	}

	mime := s.neg.ResolveEncoding(f)
	sink := &chunkSink{}
	enc, err := s.encoders.NewEncoder(mime, sink, codec.Params{
		SampleRate: s.constraints.SampleRate,
		Channels:   s.constraints.Channels,
		Bitrate:    format.NominalBitrate(f),
	})
	if err != nil {
		return newError(UnsupportedFormat, err)
	}

	samples := s.constraints.FramesPerBuffer * s.constraints.Channels
	rec, err := startRecorder(s.stream, enc, sink, samples, s.timeslice)
	if err != nil {
		enc.Close()
		return Classify(err)
	}

	a := &activeRecording{
		mime:    mime,
		started: time.Now(),
		rec:     rec,
		done:    make(chan struct{}),
	}
	go a.collect(s.log)

	s.active = a
	s.state = StateCapturing
	s.log.Debug().Str("format", string(f)).Str("codec", mime).Msg("Capture started")
	return nil
}

// collect drains recorder events in arrival order.
func (a *activeRecording) collect(log zerolog.Logger) {
	defer close(a.done)
	for ev := range a.rec.events {
		switch ev.kind {
		case eventData:
			a.append(ev.data)
		case eventError:
			log.Warn().Err(ev.err).Msg("Capture error")
			if a.err == nil {
				a.err = ev.err
			}
		case eventStopped:
		}
	}
}

func (a *activeRecording) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	a.chunks = append(a.chunks, chunk)
	a.size += len(chunk)
}

func (a *activeRecording) assemble() []byte {
	return bytes.Join(a.chunks, nil)
}

// Stop finalizes the active recording into one payload.
func (s *Session) Stop() (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.active
	if a == nil {
		return Payload{}, ErrNoActiveRecording
	}
	s.active = nil
	s.state = StateReady

	a.rec.stop()
	<-a.done

	elapsed := time.Since(a.started)
	if a.size == 0 {
		if a.err != nil {
			return Payload{}, newError(EmptyRecording, a.err)
		}
		return Payload{}, ErrEmptyRecording
	}

	data := a.assemble()
	s.log.Debug().
		Int("chunks", len(a.chunks)).
		Int("bytes", len(data)).
		Dur("duration", elapsed).
		Msg("Capture finalized")

	return Payload{
		Data:     data,
		MimeType: a.mime,
		Duration: elapsed,
		Started:  a.started,
	}, nil
}

// Cleanup stops any recording, discards its data and releases the stream.
func (s *Session) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a := s.active; a != nil {
		s.active = nil
		a.rec.stop()
		<-a.done
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Stream close")
		}
		s.stream = nil
		s.log.Info().Msg("Microphone released")
	}
	s.state = StateUninitialized
}

// ListDevices passes through to the device backend.
func (s *Session) ListDevices() ([]AudioDevice, error) {
	return s.device.ListDevices()
}
