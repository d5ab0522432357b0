package mic

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/holdtosend/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownmixMonoCopies(t *testing.T) {
	in := []int16{100, 200, 300, 400}
	got := downmixInterleaved(in, 1, len(in))

	require.Equal(t, in, got)
	assert.NotSame(t, &in[0], &got[0], "mono input must not be aliased")
}

func TestDownmixStereoAverages(t *testing.T) {
	in := []int16{
		0, 1000,
		500, 500,
		1000, 0,
		-500, 500,
	}
	assert.Equal(t, []int16{500, 500, 500, 0}, downmixInterleaved(in, 2, 4))
}

func TestDownmixKeepsExtremes(t *testing.T) {
	got := downmixInterleaved([]int16{32767, 32767, -32768, -32768}, 2, 2)
	assert.Equal(t, []int16{32767, -32768}, got)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{portaudio.DeviceUnavailable, audio.ErrDeviceBusy},
		{portaudio.InvalidSampleRate, audio.ErrConstraintsUnsatisfiable},
		{portaudio.InvalidChannelCount, audio.ErrConstraintsUnsatisfiable},
		{portaudio.InvalidDevice, audio.ErrDeviceUnsupported},
		{portaudio.InsufficientMemory, audio.ErrUnknownCapture},
		{errors.New("other"), audio.ErrUnknownCapture},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, classify(tt.err), tt.want, "classify(%v)", tt.err)
	}
}

// fakeSource delivers one buffer per tick until told to fail or hang.
type fakeSource struct {
	raw   []int16
	value int16

	mu      sync.Mutex
	readErr error
	hang    chan struct{}
	stopped chan struct{}
	closed  bool
}

func newFakeSource(raw []int16) *fakeSource {
	return &fakeSource{raw: raw, value: 7, stopped: make(chan struct{})}
}

func (f *fakeSource) Start() error { return nil }

func (f *fakeSource) Read() error {
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	err, hang := f.readErr, f.hang
	f.mu.Unlock()
	if hang != nil {
		select {
		case <-hang:
		case <-f.stopped:
		}
		return portaudio.StreamIsStopped
	}
	select {
	case <-f.stopped:
		return portaudio.StreamIsStopped
	default:
	}
	if err != nil {
		return err
	}
	for i := range f.raw {
		f.raw[i] = f.value
	}
	return nil
}

func (f *fakeSource) Stop() error {
	close(f.stopped)
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) set(fn func(f *fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func openFake(t *testing.T, channels int) (*stream, *fakeSource) {
	t.Helper()
	raw := make([]int16, 4*channels)
	src := newFakeSource(raw)
	s, err := newStream(src, raw, 4, channels, 1)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, src
}

func TestStreamReadsOnlyWhileCapturing(t *testing.T) {
	s, _ := openFake(t, 1)
	buf := make([]int16, 4)

	assert.ErrorIs(t, s.Read(buf), errNotCapturing)

	require.NoError(t, s.Start())
	require.NoError(t, s.Read(buf))
	assert.Equal(t, []int16{7, 7, 7, 7}, buf)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Read(buf), errNotCapturing)
	assert.True(t, s.Live(), "device keeps running between recordings")
}

func TestStreamDownmixesStereo(t *testing.T) {
	s, _ := openFake(t, 2)
	buf := make([]int16, 4)
	require.NoError(t, s.Start())
	require.NoError(t, s.Read(buf))
	assert.Equal(t, []int16{7, 7, 7, 7}, buf)
}

func TestStreamDetectsUnplugWhileIdle(t *testing.T) {
	s, src := openFake(t, 1)
	assert.True(t, s.Live())
	assert.True(t, s.Enabled())

	src.set(func(f *fakeSource) { f.readErr = portaudio.DeviceUnavailable })

	require.Eventually(t, func() bool { return !s.Live() }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.Start(), audio.ErrDeviceBusy)
}

func TestStreamReadFailureEndsCapture(t *testing.T) {
	s, src := openFake(t, 1)
	require.NoError(t, s.Start())
	src.set(func(f *fakeSource) { f.readErr = portaudio.InternalError })

	buf := make([]int16, 4)
	var err error
	require.Eventually(t, func() bool {
		err = s.Read(buf)
		return err != nil
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, err, portaudio.InternalError)
	assert.False(t, s.Live())
	assert.True(t, s.Enabled())
}

func TestStreamStallIsNotLive(t *testing.T) {
	s, src := openFake(t, 1)
	s.stall = 30 * time.Millisecond
	src.set(func(f *fakeSource) { f.hang = make(chan struct{}) })

	require.Eventually(t, func() bool { return !s.Live() }, time.Second, 5*time.Millisecond)
}

func TestStreamStopUnblocksRead(t *testing.T) {
	s, src := openFake(t, 1)
	require.NoError(t, s.Start())
	src.set(func(f *fakeSource) { f.hang = make(chan struct{}) })
	// drain what was queued before the device hung
	for len(s.out) > 0 {
		<-s.out
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Read(make([]int16, 4)) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())

	select {
	case err := <-errc:
		if err != nil {
			assert.ErrorIs(t, err, errStopped)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Stop")
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	s, src := openFake(t, 1)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Live())
	src.set(func(f *fakeSource) { assert.True(t, f.closed) })
	assert.ErrorIs(t, s.Start(), audio.ErrNotInitialized)
}
