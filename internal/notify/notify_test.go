package notify

import (
	"context"
	"testing"
	"time"

	"github.com/petems/holdtosend/internal/app"
	"github.com/petems/holdtosend/internal/transmit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	alerts []string
	clip   string
}

func newTestNotifier(enabled bool) (*Notifier, *captured) {
	c := &captured{}
	n := New(Config{Logger: zerolog.Nop(), Enabled: enabled})
	n.alert = func(title, message, icon string) error {
		c.alerts = append(c.alerts, message)
		return nil
	}
	n.writeClip = func(text string) error {
		c.clip = text
		return nil
	}
	return n, c
}

func TestRunNotifiesErrorsAndSuccess(t *testing.T) {
	n, c := newTestNotifier(true)
	events := make(chan app.Event, 5)
	events <- app.Event{Type: app.EventStartRecording}
	events <- app.Event{Type: app.EventRecordingError, Message: "The microphone is in use by another application."}
	events <- app.Event{Type: app.EventTransmissionComplete, Result: &transmit.Result{Success: false, Message: "Server error"}}
	events <- app.Event{Type: app.EventTransmissionComplete, Result: &transmit.Result{Success: true, Message: "stored"}}
	close(events)

	n.Run(context.Background(), events)

	assert.Equal(t, []string{"The microphone is in use by another application.", "stored"}, c.alerts)
}

func TestRunDisabledStaysQuiet(t *testing.T) {
	n, c := newTestNotifier(false)
	events := make(chan app.Event, 1)
	events <- app.Event{Type: app.EventRecordingError, Message: "boom"}
	close(events)

	n.Run(context.Background(), events)
	assert.Empty(t, c.alerts)

	n.SetEnabled(true)
	events = make(chan app.Event, 1)
	events <- app.Event{Type: app.EventRecordingError, Message: "boom"}
	close(events)
	n.Run(context.Background(), events)
	assert.Equal(t, []string{"boom"}, c.alerts)
}

func TestRunStopsOnContext(t *testing.T) {
	n, _ := newTestNotifier(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx, make(chan app.Event))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestCopyResponse(t *testing.T) {
	n, c := newTestNotifier(false)

	require.NoError(t, n.CopyResponse(transmit.Result{ResponseBody: map[string]any{"id": 7}}))
	assert.Equal(t, "{\n  \"id\": 7\n}", c.clip)

	require.NoError(t, n.CopyResponse(transmit.Result{ResponseBody: "queued"}))
	assert.Equal(t, "queued", c.clip)

	require.NoError(t, n.CopyResponse(transmit.Result{Message: "Audio transmitted successfully."}))
	assert.Equal(t, "Audio transmitted successfully.", c.clip)

	assert.ErrorIs(t, n.CopyResponse(transmit.Result{}), ErrNoResponse)
}
