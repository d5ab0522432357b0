package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavEncoder spools to a temp file because the WAV header needs the final
// sizes, which go-audio/wav patches by seeking back on Close.
type wavEncoder struct {
	out    io.Writer
	file   *os.File
	enc    *wav.Encoder
	format *audio.Format
	frames int
}

func newWAVEncoder(w io.Writer, p Params) (*wavEncoder, error) {
	f, err := os.CreateTemp("", "holdtosend-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create wav spool file: %w", err)
	}
	return &wavEncoder{
		out:    w,
		file:   f,
		enc:    wav.NewEncoder(f, p.SampleRate, 16, p.Channels, 1),
		format: &audio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
	}, nil
}

func (e *wavEncoder) Write(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	e.frames += len(samples)
	return e.enc.Write(&audio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: 16})
}

// Close writes nothing when no samples were encoded.
func (e *wavEncoder) Close() error {
	defer os.Remove(e.file.Name())
	defer e.file.Close()

	if e.frames == 0 {
		return nil
	}
	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	if _, err := e.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(e.out, e.file); err != nil {
		return fmt.Errorf("failed to read wav spool: %w", err)
	}
	return nil
}
