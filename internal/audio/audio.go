package audio

import (
	"context"
	"time"
)

// Constraints are requested when the microphone is opened.
type Constraints struct {
	DeviceID         string
	SampleRate       int
	Channels         int
	FramesPerBuffer  int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints are the fixed capture settings used for every session.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       44100,
		Channels:         1,
		FramesPerBuffer:  1024,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Device opens microphone streams. Errors should be *CaptureError values
// classifying the platform failure.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
	ListDevices() ([]AudioDevice, error)
}

// Stream is an open microphone handle. Read blocks until buf is full.
type Stream interface {
	Start() error
	Read(buf []int16) error
	Stop() error
	Close() error

	// Live is false once the device has been disconnected or closed.
	Live() bool
	// Enabled is false when the input has been muted or revoked.
	Enabled() bool
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// Payload is one finalized recording.
type Payload struct {
	Data     []byte
	MimeType string
	Duration time.Duration
	Started  time.Time
}

func (p Payload) Size() int { return len(p.Data) }
