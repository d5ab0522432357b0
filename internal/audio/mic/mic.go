package mic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/holdtosend/internal/audio"
	"github.com/rs/zerolog"
)

// Device is the PortAudio microphone backend.
type Device struct {
	log zerolog.Logger
}

// New initializes PortAudio. Call Close when done.
func New(log zerolog.Logger) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Device{log: log}, nil
}

func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	device, err := findDevice(c.DeviceID)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels <= 0 {
		return nil, audio.NewError(audio.DeviceUnsupported, fmt.Errorf("%s has no input channels", device.Name))
	}

	// PortAudio exposes raw device input; processing is left to the OS
	// audio stack where it is configured.
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		d.log.Debug().
			Bool("echo_cancellation", c.EchoCancellation).
			Bool("noise_suppression", c.NoiseSuppression).
			Bool("auto_gain_control", c.AutoGainControl).
			Msg("Processing constraints are applied by the OS input stack")
	}

	s, err := openStream(device, c, c.Channels)
	var pe portaudio.Error
	if err != nil && errors.As(err, &pe) && pe == portaudio.InvalidChannelCount &&
		c.Channels == 1 && device.MaxInputChannels >= 2 {
		// Some interfaces refuse mono; capture stereo and downmix.
		d.log.Info().Str("device", device.Name).Msg("Mono capture refused, downmixing stereo")
		s, err = openStream(device, c, 2)
	}
	if err != nil {
		return nil, classify(err)
	}

	d.log.Info().
		Str("device", device.Name).
		Int("sample_rate", c.SampleRate).
		Int("device_channels", s.deviceChannels).
		Msg("Opened microphone")
	return s, nil
}

func openStream(device *portaudio.DeviceInfo, c audio.Constraints, channels int) (*stream, error) {
	raw := make([]int16, c.FramesPerBuffer*channels)
	pa, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.SampleRate),
		FramesPerBuffer: c.FramesPerBuffer,
	}, raw)
	if err != nil {
		return nil, err
	}
	return newStream(pa, raw, c.FramesPerBuffer, channels, c.Channels)
}

func findDevice(id string) (*portaudio.DeviceInfo, error) {
	if id == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, audio.NewError(audio.DeviceNotFound, fmt.Errorf("failed to get default input device: %w", err))
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, audio.NewError(audio.UnknownCaptureError, fmt.Errorf("failed to enumerate devices: %w", err))
	}
	for _, d := range devices {
		if d.Name == id {
			return d, nil
		}
	}
	return nil, audio.NewError(audio.DeviceNotFound, fmt.Errorf("device not found: %s", id))
}

func (d *Device) ListDevices() ([]audio.AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]audio.AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, audio.AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (d *Device) Close() error {
	return portaudio.Terminate()
}

// classify maps PortAudio errors onto capture error kinds.
func classify(err error) error {
	var pe portaudio.Error
	if !errors.As(err, &pe) {
		return audio.Classify(err)
	}
	switch pe {
	case portaudio.DeviceUnavailable:
		return audio.NewError(audio.DeviceBusy, err)
	case portaudio.InvalidSampleRate, portaudio.InvalidChannelCount, portaudio.SampleFormatNotSupported:
		return audio.NewError(audio.ConstraintsUnsatisfiable, err)
	case portaudio.InvalidDevice, portaudio.BadIODeviceCombination:
		return audio.NewError(audio.DeviceUnsupported, err)
	default:
		return audio.NewError(audio.UnknownCaptureError, err)
	}
}

// source is the blocking PortAudio stream. Read fills the buffer that was
// passed to OpenStream.
type source interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

const (
	// stallTimeout marks a stream dead when the device stops delivering
	// buffers without reporting an error.
	stallTimeout  = 2 * time.Second
	closeTimeout  = 2 * time.Second
	queuedBuffers = 16
)

var (
	errNotCapturing = errors.New("stream is not capturing")
	errStopped      = errors.New("capture stopped")
	errClosed       = errors.New("stream closed")
)

// stream keeps the device running from open to close, the way a live input
// track does. Buffers are discarded unless a recording is in progress, so a
// device that disappears between recordings is noticed by Live.
type stream struct {
	src            source
	raw            []int16
	frames         int
	deviceChannels int
	channels       int
	stall          time.Duration

	out      chan []int16
	done     chan struct{}
	lastRead atomic.Int64
	enabled  atomic.Bool

	mu        sync.Mutex
	capturing bool
	halt      chan struct{}
	closed    bool
	failed    bool
	err       error
}

func newStream(src source, raw []int16, frames, deviceChannels, channels int) (*stream, error) {
	s := &stream{
		src:            src,
		raw:            raw,
		frames:         frames,
		deviceChannels: deviceChannels,
		channels:       channels,
		stall:          stallTimeout,
		out:            make(chan []int16, queuedBuffers),
		done:           make(chan struct{}),
	}
	s.enabled.Store(true)
	if err := src.Start(); err != nil {
		src.Close()
		return nil, err
	}
	s.lastRead.Store(time.Now().UnixNano())
	go s.run()
	return s, nil
}

func (s *stream) run() {
	defer close(s.done)
	for {
		err := s.src.Read()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			if errors.Is(err, portaudio.DeviceUnavailable) {
				// revoked or taken by another process
				s.enabled.Store(false)
			}
			s.failed = true
			s.err = err
			s.mu.Unlock()
			return
		}
		s.lastRead.Store(time.Now().UnixNano())
		if !s.capturing {
			s.mu.Unlock()
			continue
		}
		halt := s.halt
		s.mu.Unlock()

		select {
		case s.out <- s.mono():
		case <-halt:
		}
	}
}

// mono returns a copy of the last buffer in the requested channel layout.
func (s *stream) mono() []int16 {
	if s.deviceChannels == s.channels {
		return append([]int16(nil), s.raw...)
	}
	return downmixInterleaved(s.raw, s.deviceChannels, s.frames)
}

// Start begins handing buffers to Read.
func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.NewError(audio.NotInitialized, errClosed)
	}
	if s.failed {
		return classify(s.err)
	}
	if s.capturing {
		return nil
	}
	// buffers queued for a previous recording belong to it
	for drained := false; !drained; {
		select {
		case <-s.out:
		default:
			drained = true
		}
	}
	s.capturing = true
	s.halt = make(chan struct{})
	return nil
}

// Read fills buf with frames*channels samples.
func (s *stream) Read(buf []int16) error {
	s.mu.Lock()
	capturing, halt := s.capturing, s.halt
	s.mu.Unlock()
	if !capturing {
		return errNotCapturing
	}

	select {
	case b := <-s.out:
		copy(buf, b)
		return nil
	case <-halt:
		return errStopped
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return s.err
		}
		return errClosed
	}
}

// Stop ends the recording. The device keeps running until Close.
func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capturing {
		s.capturing = false
		close(s.halt)
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.capturing {
		s.capturing = false
		close(s.halt)
	}
	s.mu.Unlock()

	stopErr := s.src.Stop()
	select {
	case <-s.done:
	case <-time.After(closeTimeout):
		// a read stuck on a vanished device; closing under it is unsafe
		return fmt.Errorf("microphone stream did not stop: %w", errClosed)
	}
	if err := s.src.Close(); err != nil {
		return err
	}
	return stopErr
}

// Live is false once the stream is closed, a read has failed, or the device
// has stopped delivering audio.
func (s *stream) Live() bool {
	s.mu.Lock()
	dead := s.closed || s.failed
	s.mu.Unlock()
	if dead {
		return false
	}
	return time.Since(time.Unix(0, s.lastRead.Load())) < s.stall
}

func (s *stream) Enabled() bool { return s.enabled.Load() }

// downmixInterleaved averages interleaved channels into a new mono slice.
func downmixInterleaved(in []int16, channels, frames int) []int16 {
	out := make([]int16, frames)
	if channels <= 1 {
		copy(out, in)
		return out
	}
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(in[f*channels+c])
		}
		out[f] = int16(sum / channels)
	}
	return out
}
