package format

import (
	"fmt"
	"strings"
)

// AudioFormat is a user-facing recording format.
type AudioFormat string

const (
	WebM AudioFormat = "webm"
	MP3  AudioFormat = "mp3"
	WAV  AudioFormat = "wav"
	Ogg  AudioFormat = "ogg"
)

// Priority is the order used by RecommendedFormat.
var Priority = []AudioFormat{WebM, Ogg, MP3, WAV}

const (
	compressedBitrate = 128000
	wavBitrate        = 1411200
)

// candidates lists codec strings per format, highest priority first.
var candidates = map[AudioFormat][]string{
	WebM: {"audio/webm;codecs=opus", "audio/webm"},
	Ogg:  {"audio/ogg;codecs=opus", "audio/ogg;codecs=vorbis", "audio/ogg"},
	MP3:  {"audio/mpeg", "audio/mp3"},
	WAV:  {"audio/wav", "audio/wave"},
}

// Parse converts a config or CLI string into an AudioFormat.
func Parse(s string) (AudioFormat, error) {
	f := AudioFormat(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := candidates[f]; !ok {
		return "", fmt.Errorf("unknown audio format %q (want webm, ogg, mp3 or wav)", s)
	}
	return f, nil
}

// Valid reports whether f is one of the known formats.
func (f AudioFormat) Valid() bool {
	_, ok := candidates[f]
	return ok
}

// Candidates returns a copy of the codec strings for f in priority order.
func (f AudioFormat) Candidates() []string {
	return append([]string(nil), candidates[f]...)
}

// Extension is the file extension used for uploads, without the dot.
func (f AudioFormat) Extension() string {
	if !f.Valid() {
		return "bin"
	}
	return string(f)
}

// NominalBitrate returns the target bitrate in bits per second.
func NominalBitrate(f AudioFormat) int {
	if f == WAV {
		return wavBitrate
	}
	return compressedBitrate
}

// BaseMIME strips codec parameters: "audio/webm;codecs=opus" -> "audio/webm".
func BaseMIME(codec string) string {
	if i := strings.IndexByte(codec, ';'); i >= 0 {
		codec = codec[:i]
	}
	return strings.TrimSpace(codec)
}
