package audio

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/holdtosend/internal/codec"
)

// Timeslice is how often encoded data is handed to the session.
const Timeslice = 100 * time.Millisecond

type eventKind int

const (
	eventData eventKind = iota
	eventError
	eventStopped
)

type recorderEvent struct {
	kind eventKind
	data []byte
	err  error
}

// chunkSink collects encoder output between timeslices.
type chunkSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *chunkSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *chunkSink) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return nil
	}
	b := bytes.Clone(s.buf.Bytes())
	s.buf.Reset()
	return b
}

// recorder pumps PCM from a stream into an encoder and posts the encoded
// bytes as events, one per timeslice, followed by a final stopped event.
type recorder struct {
	stream Stream
	enc    codec.Encoder
	sink   *chunkSink
	events chan recorderEvent

	samples   int
	timeslice time.Duration
	frames    atomic.Int64

	quit     chan struct{}
	pumpDone chan struct{}
	tickQuit chan struct{}
	tickDone chan struct{}
	stopOnce sync.Once
}

func startRecorder(stream Stream, enc codec.Encoder, sink *chunkSink, samples int, timeslice time.Duration) (*recorder, error) {
	if err := stream.Start(); err != nil {
		return nil, err
	}
	r := &recorder{
		stream:    stream,
		enc:       enc,
		sink:      sink,
		events:    make(chan recorderEvent, 64),
		samples:   samples,
		timeslice: timeslice,
		quit:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
		tickQuit:  make(chan struct{}),
		tickDone:  make(chan struct{}),
	}
	go r.pump()
	go r.tick()
	return r, nil
}

func (r *recorder) pump() {
	defer close(r.pumpDone)
	buf := make([]int16, r.samples)
	for {
		select {
		case <-r.quit:
			return
		default:
		}
		if err := r.stream.Read(buf); err != nil {
			select {
			case <-r.quit:
			default:
				r.events <- recorderEvent{kind: eventError, err: err}
			}
			return
		}
		if err := r.enc.Write(buf); err != nil {
			r.events <- recorderEvent{kind: eventError, err: err}
			return
		}
		r.frames.Add(int64(len(buf)))
	}
}

func (r *recorder) tick() {
	defer close(r.tickDone)
	t := time.NewTicker(r.timeslice)
	defer t.Stop()
	for {
		select {
		case <-r.tickQuit:
			return
		case <-t.C:
			r.flush()
		}
	}
}

// flush holds data back until at least one frame was encoded, so bare
// container headers never count as captured audio.
func (r *recorder) flush() {
	if r.frames.Load() == 0 {
		return
	}
	if data := r.sink.take(); data != nil {
		r.events <- recorderEvent{kind: eventData, data: data}
	}
}

// stop finalizes the encoder and closes the event channel. Safe to call
// more than once.
func (r *recorder) stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
		stopErr := r.stream.Stop()
		<-r.pumpDone
		close(r.tickQuit)
		<-r.tickDone

		encErr := r.enc.Close()
		r.flush()
		if encErr != nil {
			r.events <- recorderEvent{kind: eventError, err: encErr}
		} else if stopErr != nil {
			r.events <- recorderEvent{kind: eventError, err: stopErr}
		}
		r.events <- recorderEvent{kind: eventStopped}
		close(r.events)
	})
}
