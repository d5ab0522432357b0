package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/petems/holdtosend/internal/codec"
	"github.com/petems/holdtosend/internal/permissions"
)

type fakePermissions struct {
	mu        sync.Mutex
	state     permissions.State
	answer    permissions.State
	requested int
	// gate, when set, holds Request until closed, like an unanswered prompt
	gate chan struct{}
}

func (p *fakePermissions) State() permissions.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePermissions) Request(ctx context.Context) (permissions.State, error) {
	p.mu.Lock()
	p.requested++
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return permissions.Prompt, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = p.answer
	return p.answer, nil
}

type fakeDevice struct {
	err    error
	stream *fakeStream
	opened int
	last   Constraints
}

func (d *fakeDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.opened++
	d.last = c
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func (d *fakeDevice) ListDevices() ([]AudioDevice, error) {
	return []AudioDevice{{ID: "default", Name: "Default", Default: true}}, nil
}

// fakeStream serves `buffers` full reads per Start, then blocks until Stop.
type fakeStream struct {
	mu      sync.Mutex
	buffers int
	served  int
	halt    chan struct{}
	live    bool
	enabled bool
	closed  int
	started int
}

func newFakeStream(buffers int) *fakeStream {
	return &fakeStream{buffers: buffers, live: true, enabled: true}
}

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	s.served = 0
	s.halt = make(chan struct{})
	return nil
}

func (s *fakeStream) Read(buf []int16) error {
	s.mu.Lock()
	if s.served < s.buffers {
		s.served++
		s.mu.Unlock()
		for i := range buf {
			buf[i] = int16(i)
		}
		return nil
	}
	halt := s.halt
	s.mu.Unlock()
	<-halt
	return errors.New("stream stopped")
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halt != nil {
		close(s.halt)
		s.halt = nil
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.live = false
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *fakeStream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeStream) setEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
}

// pcmEncoder writes samples as little-endian bytes, two per sample.
type pcmEncoder struct {
	w io.Writer
}

func (e *pcmEncoder) Write(samples []int16) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	_, err := e.w.Write(buf)
	return err
}

func (e *pcmEncoder) Close() error { return nil }

type fakeEncoders struct {
	err  error
	mime []string
}

func (f *fakeEncoders) NewEncoder(mime string, w io.Writer, p codec.Params) (codec.Encoder, error) {
	f.mime = append(f.mime, mime)
	if f.err != nil {
		return nil, f.err
	}
	return &pcmEncoder{w: w}, nil
}

type allSupported struct{}

func (allSupported) IsTypeSupported(string) bool { return true }
