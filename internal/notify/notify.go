package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
	"github.com/petems/holdtosend/internal/app"
	"github.com/petems/holdtosend/internal/transmit"
	"github.com/rs/zerolog"
)

const title = "holdtosend"

// ErrNoResponse is returned by CopyResponse when there is nothing to copy.
var ErrNoResponse = errors.New("no response to copy")

type Config struct {
	Logger zerolog.Logger
	// Enabled turns desktop notifications on. Clipboard copy always works.
	Enabled bool
}

// Notifier shows desktop notifications for controller events and copies
// endpoint responses to the clipboard.
type Notifier struct {
	log     zerolog.Logger
	enabled atomic.Bool

	alert     func(title, message, icon string) error
	writeClip func(text string) error
}

func New(cfg Config) *Notifier {
	n := &Notifier{
		log:       cfg.Logger,
		alert:     desktopAlert,
		writeClip: clipboard.WriteAll,
	}
	n.enabled.Store(cfg.Enabled)
	return n
}

// SetEnabled turns desktop notifications on or off while running.
func (n *Notifier) SetEnabled(v bool) { n.enabled.Store(v) }

func desktopAlert(title, message, icon string) error {
	return beeep.Notify(title, message, icon)
}

// Run notifies on errors and completed uploads until events is closed or
// ctx is done.
func (n *Notifier) Run(ctx context.Context, events <-chan app.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.handle(ev)
		}
	}
}

func (n *Notifier) handle(ev app.Event) {
	if !n.enabled.Load() {
		return
	}
	var msg string
	switch ev.Type {
	case app.EventRecordingError:
		msg = ev.Message
	case app.EventTransmissionComplete:
		if ev.Result == nil || !ev.Result.Success {
			// the recording-error that follows carries the message
			return
		}
		msg = ev.Result.Message
	default:
		return
	}
	if err := n.alert(title, msg, ""); err != nil {
		n.log.Debug().Err(err).Msg("Desktop notification failed")
	}
}

// CopyResponse puts the endpoint's response on the clipboard. JSON bodies
// are pretty-printed; other bodies are copied as text.
func (n *Notifier) CopyResponse(r transmit.Result) error {
	text, err := responseText(r)
	if err != nil {
		return err
	}
	if err := n.writeClip(text); err != nil {
		return err
	}
	n.log.Info().Int("bytes", len(text)).Msg("Copied response to clipboard")
	return nil
}

func responseText(r transmit.Result) (string, error) {
	switch body := r.ResponseBody.(type) {
	case nil:
		if r.Message == "" {
			return "", ErrNoResponse
		}
		return r.Message, nil
	case string:
		return body, nil
	default:
		data, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
