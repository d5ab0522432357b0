package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petems/holdtosend/internal/codec"
	"github.com/petems/holdtosend/internal/format"
	"github.com/petems/holdtosend/internal/permissions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(dev *fakeDevice, perms *fakePermissions, enc *fakeEncoders) *Session {
	c := DefaultConstraints()
	c.FramesPerBuffer = 512
	return NewSession(SessionConfig{
		Device:      dev,
		Permissions: perms,
		Negotiator:  format.NewNegotiator(allSupported{}),
		Encoders:    enc,
		Constraints: c,
		Timeslice:   5 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
}

func granted() *fakePermissions { return &fakePermissions{state: permissions.Granted} }

func TestInitializeOpensStream(t *testing.T) {
	dev := &fakeDevice{stream: newFakeStream(0)}
	s := newTestSession(dev, granted(), &fakeEncoders{})

	assert.False(t, s.IsReady())
	require.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.IsReady())
	assert.True(t, s.IsMicrophoneActive())
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 1, dev.opened)
}

func TestInitializePromptsForPermission(t *testing.T) {
	perms := &fakePermissions{state: permissions.Prompt, answer: permissions.Granted}
	s := newTestSession(&fakeDevice{stream: newFakeStream(0)}, perms, &fakeEncoders{})

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 1, perms.requested)
}

func TestInitializePermissionDenied(t *testing.T) {
	for _, perms := range []*fakePermissions{
		{state: permissions.Denied},
		{state: permissions.Prompt, answer: permissions.Denied},
	} {
		dev := &fakeDevice{stream: newFakeStream(0)}
		s := newTestSession(dev, perms, &fakeEncoders{})

		err := s.Initialize(context.Background())
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Zero(t, dev.opened)
		assert.False(t, s.IsReady())
		assert.Equal(t, StateFailed, s.State())
	}
}

func TestInitializeClassifiesDeviceErrors(t *testing.T) {
	s := newTestSession(&fakeDevice{err: NewError(DeviceBusy, errors.New("in use"))}, granted(), &fakeEncoders{})
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrDeviceBusy)

	s = newTestSession(&fakeDevice{err: errors.New("boom")}, granted(), &fakeEncoders{})
	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrUnknownCapture)

	var ce *CaptureError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Detail(), "boom")
}

func TestStartRequiresInitialize(t *testing.T) {
	s := newTestSession(&fakeDevice{stream: newFakeStream(0)}, granted(), &fakeEncoders{})
	assert.ErrorIs(t, s.Start(format.WebM), ErrNotInitialized)
}

func TestStartRejectsSecondRecording(t *testing.T) {
	s := newTestSession(&fakeDevice{stream: newFakeStream(1)}, granted(), &fakeEncoders{})
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Start(format.WebM))
	assert.Equal(t, StateCapturing, s.State())

	assert.ErrorIs(t, s.Start(format.WebM), ErrAlreadyCapturing)
	s.Cleanup()
}

func TestStartUnsupportedFormat(t *testing.T) {
	s := newTestSession(&fakeDevice{stream: newFakeStream(1)}, granted(), &fakeEncoders{err: codec.ErrUnsupported})
	require.NoError(t, s.Initialize(context.Background()))

	err := s.Start(format.MP3)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, err, codec.ErrUnsupported)
	assert.Equal(t, StateReady, s.State())
}

func TestStopAssemblesAllChunks(t *testing.T) {
	enc := &fakeEncoders{}
	s := newTestSession(&fakeDevice{stream: newFakeStream(2)}, granted(), enc)
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Start(format.WebM))
	time.Sleep(30 * time.Millisecond)

	p, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, 2048, p.Size())
	assert.Equal(t, "audio/webm;codecs=opus", p.MimeType)
	assert.Equal(t, []string{"audio/webm;codecs=opus"}, enc.mime)
	assert.Positive(t, p.Duration)
	assert.Equal(t, StateReady, s.State())

	// The stream stays open for the next press.
	assert.True(t, s.IsReady())
}

func TestStopWithoutRecording(t *testing.T) {
	s := newTestSession(&fakeDevice{stream: newFakeStream(0)}, granted(), &fakeEncoders{})
	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrNoActiveRecording)
}

func TestStopImmediatelyIsEmptyRecording(t *testing.T) {
	s := newTestSession(&fakeDevice{stream: newFakeStream(0)}, granted(), &fakeEncoders{})
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Start(format.WAV))

	p, err := s.Stop()
	assert.ErrorIs(t, err, ErrEmptyRecording)
	assert.Zero(t, p.Size())
}

func TestRecordingCanRepeat(t *testing.T) {
	s := newTestSession(&fakeDevice{stream: newFakeStream(1)}, granted(), &fakeEncoders{})
	require.NoError(t, s.Initialize(context.Background()))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Start(format.Ogg))
		time.Sleep(15 * time.Millisecond)
		p, err := s.Stop()
		require.NoError(t, err)
		assert.Equal(t, 1024, p.Size())
	}
}

func TestAppendSkipsEmptyChunksAndKeepsOrder(t *testing.T) {
	sizes := []int{3, 0, 7, 1, 0, 12}
	a := &activeRecording{}
	want := 0
	for i, n := range sizes {
		chunk := make([]byte, n)
		for j := range chunk {
			chunk[j] = byte(i)
		}
		a.append(chunk)
		want += n
	}

	assert.Len(t, a.chunks, 4)
	assert.Equal(t, want, a.size)

	data := a.assemble()
	require.Len(t, data, want)
	assert.Equal(t, byte(0), data[0])
	assert.Equal(t, byte(2), data[3])
	assert.Equal(t, byte(5), data[len(data)-1])
}

func TestMicrophoneInactiveWhenMutedOrUnplugged(t *testing.T) {
	stream := newFakeStream(0)
	s := newTestSession(&fakeDevice{stream: stream}, granted(), &fakeEncoders{})
	require.NoError(t, s.Initialize(context.Background()))

	stream.setEnabled(false)
	assert.True(t, s.IsReady())
	assert.False(t, s.IsMicrophoneActive())

	stream.Close()
	assert.False(t, s.IsReady())
}

func TestCleanupIsIdempotent(t *testing.T) {
	stream := newFakeStream(1)
	s := newTestSession(&fakeDevice{stream: stream}, granted(), &fakeEncoders{})
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Start(format.WebM))

	s.Cleanup()
	s.Cleanup()
	s.Cleanup()

	assert.Equal(t, StateUninitialized, s.State())
	assert.False(t, s.IsReady())
	assert.Equal(t, 1, stream.closed)

	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrNoActiveRecording)
}

func TestSetConstraintsAppliesOnNextOpen(t *testing.T) {
	dev := &fakeDevice{stream: newFakeStream(0)}
	s := newTestSession(dev, granted(), &fakeEncoders{})
	require.NoError(t, s.Initialize(context.Background()))
	assert.Empty(t, dev.last.DeviceID)

	c := DefaultConstraints()
	c.DeviceID = "usb-mic"
	assert.True(t, s.SetConstraints(c))
	assert.False(t, s.SetConstraints(c))

	// the open stream is kept until cleanup
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 1, dev.opened)

	s.Cleanup()
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 2, dev.opened)
	assert.Equal(t, "usb-mic", dev.last.DeviceID)
}

func TestSetConstraintsFillsDefaults(t *testing.T) {
	dev := &fakeDevice{stream: newFakeStream(0)}
	s := newTestSession(dev, granted(), &fakeEncoders{})

	s.SetConstraints(Constraints{DeviceID: "hw:1"})
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, "hw:1", dev.last.DeviceID)
	assert.Equal(t, 44100, dev.last.SampleRate)
	assert.Equal(t, 1, dev.last.Channels)
}

func TestInitializeDoesNotBlockWhilePrompting(t *testing.T) {
	gate := make(chan struct{})
	perms := &fakePermissions{state: permissions.Prompt, answer: permissions.Granted, gate: gate}
	dev := &fakeDevice{stream: newFakeStream(0)}
	s := newTestSession(dev, perms, &fakeEncoders{})

	done := make(chan error, 1)
	go func() { done <- s.Initialize(context.Background()) }()
	require.Eventually(t, func() bool {
		perms.mu.Lock()
		defer perms.mu.Unlock()
		return perms.requested == 1
	}, time.Second, time.Millisecond)

	answered := make(chan struct{})
	go func() {
		assert.False(t, s.IsReady())
		assert.Equal(t, StateUninitialized, s.State())
		s.Cleanup()
		close(answered)
	}()
	select {
	case <-answered:
	case <-time.After(time.Second):
		t.Fatal("session calls blocked behind the permission prompt")
	}

	close(gate)
	require.NoError(t, <-done)
	assert.True(t, s.IsReady())
	assert.Equal(t, 1, dev.opened)
}

func TestConcurrentInitializeKeepsOneStream(t *testing.T) {
	gate := make(chan struct{})
	perms := &fakePermissions{state: permissions.Prompt, answer: permissions.Granted, gate: gate}
	first, second := newFakeStream(0), newFakeStream(0)
	dev := &sequenceDevice{streams: []*fakeStream{first, second}}
	c := DefaultConstraints()
	c.FramesPerBuffer = 512
	s := NewSession(SessionConfig{
		Device:      dev,
		Permissions: perms,
		Negotiator:  format.NewNegotiator(allSupported{}),
		Encoders:    &fakeEncoders{},
		Constraints: c,
		Logger:      zerolog.Nop(),
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- s.Initialize(context.Background()) }()
	}
	require.Eventually(t, func() bool {
		perms.mu.Lock()
		defer perms.mu.Unlock()
		return perms.requested == 2
	}, time.Second, time.Millisecond)
	close(gate)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.True(t, s.IsReady())
	// the losing stream is closed, the winner stays open
	assert.Equal(t, 1, first.closeCount()+second.closeCount())
}

// sequenceDevice hands out a new stream per Open.
type sequenceDevice struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (d *sequenceDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.streams[0]
	d.streams = d.streams[1:]
	return st, nil
}

func (d *sequenceDevice) ListDevices() ([]AudioDevice, error) { return nil, nil }
