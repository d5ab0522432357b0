package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/petems/holdtosend/internal/format"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds the whole request, including reading the body.
	DefaultTimeout = 30 * time.Second

	acceptHeader  = "application/json, text/plain, */*"
	maxMessageLen = 500
	successText   = "Audio transmitted successfully."
)

// Payload is the audio to upload.
type Payload struct {
	Data     []byte
	MimeType string
}

type Options struct {
	DestinationURL string
	Format         format.AudioFormat
	Filename       string
	ExtraFields    map[string]string
}

// Request is built fresh for every Send.
type Request struct {
	Payload     []byte
	Format      format.AudioFormat
	Filename    string
	Timestamp   string
	SizeBytes   int
	MimeType    string
	ExtraFields map[string]string
}

// Result is the outcome of one upload.
type Result struct {
	Success      bool   `json:"success"`
	HTTPStatus   int    `json:"httpStatus"`
	Message      string `json:"message"`
	ResponseBody any    `json:"responseBody,omitempty"`
}

// Err returns a *StatusError for non-success HTTP results.
func (r Result) Err() error {
	if r.Success || r.HTTPStatus == 0 {
		return nil
	}
	return &StatusError{Status: r.HTTPStatus, Class: classOf(r.HTTPStatus), Message: r.Message}
}

type Config struct {
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client uploads recordings with exactly one POST per Send. It never retries.
type Client struct {
	http    *resty.Client
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc := resty.New().
		SetRetryCount(0).
		SetLogger(restyLogger{log: cfg.Logger})
	return &Client{
		http:    rc,
		timeout: timeout,
		log:     cfg.Logger,
		now:     time.Now,
	}
}

// Send uploads p to opts.DestinationURL as multipart/form-data. Transport
// failures return a *Error alongside a failed Result; HTTP failures return
// a failed Result and a nil error (see Result.Err).
func (c *Client) Send(ctx context.Context, p Payload, opts Options) (Result, error) {
	if strings.TrimSpace(opts.DestinationURL) == "" {
		return failed(ErrMissingDestination), ErrMissingDestination
	}
	if len(p.Data) == 0 {
		return failed(ErrEmptyPayload), ErrEmptyPayload
	}

	req := c.buildRequest(p, opts)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", acceptHeader).
		SetMultipartField("audio", req.Filename, req.MimeType, bytes.NewReader(req.Payload)).
		SetMultipartFormData(req.fields()).
		Post(opts.DestinationURL)
	elapsed := time.Since(start)

	if err != nil {
		e := &Error{Kind: NetworkError, Err: err}
		if isTimeout(ctx, err) {
			e.Kind = Timeout
		}
		c.log.Error().Err(err).Str("kind", string(e.Kind)).Dur("elapsed", elapsed).Msg("Upload failed")
		return failed(e), e
	}

	result := interpret(resp.StatusCode(), resp.Status(), resp.Header().Get("Content-Type"), resp.Body())
	c.log.Info().
		Int("status", result.HTTPStatus).
		Bool("success", result.Success).
		Int("bytes", req.SizeBytes).
		Dur("elapsed", elapsed).
		Msg("Upload finished")
	return result, nil
}

func (c *Client) buildRequest(p Payload, opts Options) Request {
	now := c.now().UTC()
	ts := now.Format("2006-01-02T15:04:05.000Z07:00")

	name := opts.Filename
	if name == "" {
		name = DefaultFilename(now, opts.Format)
	}
	mime := p.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}

	extra := make(map[string]string, len(opts.ExtraFields))
	for k, v := range opts.ExtraFields {
		extra[k] = v
	}

	return Request{
		Payload:     p.Data,
		Format:      opts.Format,
		Filename:    name,
		Timestamp:   ts,
		SizeBytes:   len(p.Data),
		MimeType:    mime,
		ExtraFields: extra,
	}
}

// fields are the non-file form fields. Extra fields cannot replace the
// standard ones.
func (r Request) fields() map[string]string {
	out := make(map[string]string, len(r.ExtraFields)+4)
	for k, v := range r.ExtraFields {
		out[k] = v
	}
	out["format"] = string(r.Format)
	out["timestamp"] = r.Timestamp
	out["size"] = strconv.Itoa(r.SizeBytes)
	out["type"] = r.MimeType
	return out
}

var filenameReplacer = strings.NewReplacer(":", "-", ".", "-")

// DefaultFilename is audio_<ISO 8601 with ':' and '.' replaced>.<ext>.
func DefaultFilename(t time.Time, f format.AudioFormat) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	return "audio_" + filenameReplacer.Replace(ts) + "." + f.Extension()
}

func failed(err *Error) Result {
	return Result{Success: false, Message: err.Error()}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// interpret classifies a response. Body parsing never fails the result.
func interpret(status int, statusLine, contentType string, body []byte) Result {
	parsed, serverMessage := parseBody(contentType, body, statusLine)

	r := Result{
		Success:      status >= 200 && status <= 299,
		HTTPStatus:   status,
		ResponseBody: parsed,
	}
	if r.Success {
		r.Message = serverMessage
		if r.Message == "" {
			r.Message = successText
		}
		return r
	}
	r.Message = explain(status, serverMessage, statusLine)
	return r
}

func parseBody(contentType string, body []byte, statusLine string) (any, string) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ""
	}
	if strings.Contains(strings.ToLower(contentType), "json") {
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return string(body), statusLine
		}
		return v, messageField(v)
	}
	text := strings.TrimSpace(string(body))
	return text, truncate(text)
}

func messageField(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"message", "error"} {
		if s, ok := m[key].(string); ok && s != "" {
			return truncate(s)
		}
	}
	return ""
}

// truncate shortens s to at most maxMessageLen bytes without splitting a
// UTF-8 sequence.
func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// restyLogger routes resty's internal logging through zerolog.
type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(msg string, v ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(msg), v...)
}

func (l restyLogger) Warnf(msg string, v ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(msg), v...)
}

func (l restyLogger) Debugf(msg string, v ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(msg), v...)
}
