package codec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnsupported is returned when no encoder can produce the requested type.
var ErrUnsupported = errors.New("codec not supported")

// Params describes the PCM input and the target bitrate.
type Params struct {
	SampleRate int
	Channels   int
	Bitrate    int
}

// Encoder consumes interleaved 16-bit PCM and writes an encoded stream.
// Close flushes any trailing container data.
type Encoder interface {
	Write(samples []int16) error
	Close() error
}

type target struct {
	native    bool
	encoder   string // ffmpeg encoder name
	container string // ffmpeg muxer name
}

var targets = map[string]target{
	"audio/webm;codecs=opus":  {encoder: "libopus", container: "webm"},
	"audio/webm":              {encoder: "libopus", container: "webm"},
	"audio/ogg;codecs=opus":   {encoder: "libopus", container: "ogg"},
	"audio/ogg;codecs=vorbis": {encoder: "libvorbis", container: "ogg"},
	"audio/ogg":               {encoder: "libvorbis", container: "ogg"},
	"audio/mpeg":              {encoder: "libmp3lame", container: "mp3"},
	"audio/mp3":               {encoder: "libmp3lame", container: "mp3"},
	"audio/wav":               {native: true},
	"audio/wave":              {native: true},
}

const defaultProbeTTL = 10 * time.Second

// Registry answers which MIME types can be recorded on this machine and
// builds encoders for them. WAV is always available; compressed formats need
// an ffmpeg binary with the matching encoder.
type Registry struct {
	Binary   string
	ProbeTTL time.Duration
	Log      zerolog.Logger

	lookPath     func(string) (string, error)
	listEncoders func(ctx context.Context, bin string) (io.Reader, error)

	mu       sync.Mutex
	probedAt time.Time
	path     string
	encoders map[string]bool
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		Binary:       "ffmpeg",
		ProbeTTL:     defaultProbeTTL,
		Log:          log,
		lookPath:     exec.LookPath,
		listEncoders: runListEncoders,
	}
}

// IsTypeSupported implements format.Runtime.
func (r *Registry) IsTypeSupported(mime string) bool {
	t, ok := targets[mime]
	if !ok {
		return false
	}
	if t.native {
		return true
	}
	_, encoders := r.probe()
	return encoders[t.encoder]
}

// FFmpegAvailable reports the resolved ffmpeg path, if any.
func (r *Registry) FFmpegAvailable() (string, bool) {
	path, _ := r.probe()
	return path, path != ""
}

// NewEncoder creates an encoder for mime that writes to w.
func (r *Registry) NewEncoder(mime string, w io.Writer, p Params) (Encoder, error) {
	t, ok := targets[mime]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}
	if t.native {
		return newWAVEncoder(w, p)
	}
	path, encoders := r.probe()
	if path == "" || !encoders[t.encoder] {
		return nil, fmt.Errorf("%w: %s needs ffmpeg with %s", ErrUnsupported, mime, t.encoder)
	}
	return newFFmpegEncoder(path, t, w, p, r.Log)
}

func (r *Registry) probe() (string, map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ttl := r.ProbeTTL
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	if r.encoders != nil && time.Since(r.probedAt) < ttl {
		return r.path, r.encoders
	}

	r.probedAt = time.Now()
	r.path = ""
	r.encoders = map[string]bool{}

	path, err := r.lookPath(r.Binary)
	if err != nil {
		r.Log.Debug().Err(err).Str("binary", r.Binary).Msg("ffmpeg not found, only WAV available")
		return r.path, r.encoders
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := r.listEncoders(ctx, path)
	if err != nil {
		r.Log.Warn().Err(err).Str("ffmpeg", path).Msg("Failed to list ffmpeg encoders")
		return r.path, r.encoders
	}

	r.path = path
	r.encoders = parseEncoders(out)
	return r.path, r.encoders
}

func runListEncoders(ctx context.Context, bin string) (io.Reader, error) {
	out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, err
	}
	return strings.NewReader(string(out)), nil
}

// parseEncoders reads `ffmpeg -encoders` output and keeps audio encoders.
// Lines look like " A....D libopus              libopus Opus".
func parseEncoders(r io.Reader) map[string]bool {
	found := map[string]bool{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'A' {
			continue
		}
		found[fields[1]] = true
	}
	return found
}
