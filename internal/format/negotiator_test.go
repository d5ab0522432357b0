package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime map[string]bool

func (f fakeRuntime) IsTypeSupported(codec string) bool { return f[codec] }

func TestResolveEncodingPrefersFirstSupported(t *testing.T) {
	n := NewNegotiator(fakeRuntime{"audio/webm;codecs=opus": true, "audio/webm": true})
	assert.Equal(t, "audio/webm;codecs=opus", n.ResolveEncoding(WebM))

	n = NewNegotiator(fakeRuntime{"audio/webm": true})
	assert.Equal(t, "audio/webm", n.ResolveEncoding(WebM))
}

func TestResolveEncodingFallsBackToLowestPriority(t *testing.T) {
	n := NewNegotiator(fakeRuntime{})
	assert.Equal(t, "audio/ogg", n.ResolveEncoding(Ogg))
	assert.Equal(t, "audio/mp3", n.ResolveEncoding(MP3))
	assert.Equal(t, "", n.ResolveEncoding(AudioFormat("flac")))
}

func TestIsFormatSupported(t *testing.T) {
	n := NewNegotiator(fakeRuntime{"audio/ogg;codecs=vorbis": true})
	assert.True(t, n.IsFormatSupported(Ogg))
	assert.False(t, n.IsFormatSupported(WebM))
}

func TestRecommendedFormat(t *testing.T) {
	tests := []struct {
		name string
		rt   fakeRuntime
		want AudioFormat
	}{
		{"everything", fakeRuntime{"audio/webm": true, "audio/ogg": true, "audio/mpeg": true, "audio/wav": true}, WebM},
		{"ogg beats mp3", fakeRuntime{"audio/ogg;codecs=opus": true, "audio/mpeg": true}, Ogg},
		{"only wav", fakeRuntime{"audio/wave": true}, WAV},
		{"nothing", fakeRuntime{}, WebM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewNegotiator(tt.rt).RecommendedFormat())
		})
	}
}

func TestNominalBitrate(t *testing.T) {
	assert.Equal(t, NominalBitrate(WebM), NominalBitrate(Ogg))
	assert.Equal(t, NominalBitrate(WebM), NominalBitrate(MP3))
	assert.Greater(t, NominalBitrate(WAV), 8*NominalBitrate(WebM))
}

func TestSupportMatrix(t *testing.T) {
	m := NewNegotiator(fakeRuntime{"audio/wav": true}).SupportMatrix()
	require.Len(t, m, 4)
	assert.Equal(t, WebM, m[0].Format)
	assert.False(t, m[0].Supported)
	assert.Equal(t, "audio/webm", m[0].Resolved)

	wav := m[3]
	assert.Equal(t, WAV, wav.Format)
	assert.True(t, wav.Supported)
	assert.Equal(t, "audio/wav", wav.Resolved)
	require.Len(t, wav.Candidates, 2)
	assert.False(t, wav.Candidates[1].Supported)
}

func TestParse(t *testing.T) {
	f, err := Parse(" WebM ")
	require.NoError(t, err)
	assert.Equal(t, WebM, f)

	_, err = Parse("flac")
	assert.Error(t, err)
}

func TestBaseMIME(t *testing.T) {
	assert.Equal(t, "audio/webm", BaseMIME("audio/webm;codecs=opus"))
	assert.Equal(t, "audio/mpeg", BaseMIME("audio/mpeg"))
}
