package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ffmpegEncoder pipes raw PCM into an ffmpeg process and copies the muxed
// output to the destination writer as it is produced.
type ffmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	copied chan error
	stderr bytes.Buffer
	buf    []byte
	wrote  bool
	log    zerolog.Logger
}

func ffmpegArgs(t target, p Params) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-i", "pipe:0",
		"-c:a", t.encoder,
	}
	if p.Bitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(p.Bitrate))
	}
	return append(args, "-f", t.container, "pipe:1")
}

func newFFmpegEncoder(path string, t target, w io.Writer, p Params, log zerolog.Logger) (*ffmpegEncoder, error) {
	e := &ffmpegEncoder{copied: make(chan error, 1), log: log}
	e.cmd = exec.Command(path, ffmpegArgs(t, p)...)
	e.cmd.Stderr = &e.stderr

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	if err := e.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	e.stdin = stdin

	go func() {
		_, err := io.Copy(w, stdout)
		e.copied <- err
	}()

	log.Debug().Str("encoder", t.encoder).Str("container", t.container).Msg("ffmpeg encoder started")
	return e, nil
}

func (e *ffmpegEncoder) Write(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	need := len(samples) * 2
	if cap(e.buf) < need {
		e.buf = make([]byte, need)
	}
	buf := e.buf[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	e.wrote = true
	if _, err := e.stdin.Write(buf); err != nil {
		return fmt.Errorf("ffmpeg write: %w", err)
	}
	return nil
}

func (e *ffmpegEncoder) Close() error {
	e.stdin.Close()
	copyErr := <-e.copied
	waitErr := e.cmd.Wait()

	// ffmpeg exits non-zero when it never received input; that's an empty
	// recording, not an encoder failure.
	if waitErr != nil && e.wrote {
		return fmt.Errorf("ffmpeg failed: %w: %s", waitErr, strings.TrimSpace(e.stderr.String()))
	}
	if copyErr != nil {
		return fmt.Errorf("ffmpeg output: %w", copyErr)
	}
	return nil
}
