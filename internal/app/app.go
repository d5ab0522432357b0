package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petems/holdtosend/internal/audio"
	"github.com/petems/holdtosend/internal/config"
	"github.com/petems/holdtosend/internal/format"
	"github.com/petems/holdtosend/internal/transmit"
	"github.com/rs/zerolog"
)

type Mode int

const (
	PushToTalk Mode = iota
	Toggle
)

// ParseMode maps the config value onto a Mode. Anything but "Toggle" is
// push-to-talk.
func ParseMode(s string) Mode {
	if s == config.ModeToggle {
		return Toggle
	}
	return PushToTalk
}

type Status string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusTransmitting Status = "transmitting"
	StatusSuccess      Status = "success"
	StatusError        Status = "error"
)

const (
	DefaultSuccessWindow  = 2 * time.Second
	DefaultErrorWindow    = 5 * time.Second
	DefaultHealthInterval = 5 * time.Second
)

const (
	msgNoDestination      = "No destination URL is configured. Set one before recording."
	msgDestinationRemoved = "The destination URL was removed while recording. The recording was discarded."
)

// Capture is the microphone session the controller drives.
type Capture interface {
	Initialize(ctx context.Context) error
	IsReady() bool
	IsMicrophoneActive() bool
	Start(f format.AudioFormat) error
	Stop() (audio.Payload, error)
	Cleanup()
}

// Transmitter uploads finished recordings.
type Transmitter interface {
	Send(ctx context.Context, p transmit.Payload, opts transmit.Options) (transmit.Result, error)
}

// Settings is read at every start attempt so changes apply on the next press.
type Settings interface {
	Recording() config.Recording
	Mode() string
}

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetTransmitting()
	SetSuccess()
	SetError(message string)
}

type Config struct {
	Capture       Capture
	Transmitter   Transmitter
	Settings      Settings
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil

	// Client identifies this installation in uploads. Defaults to
	// Fingerprint("dev").
	Client string

	SuccessWindow  time.Duration
	ErrorWindow    time.Duration
	HealthInterval time.Duration
}

// Snapshot is the status surface shown to UI collaborators.
type Snapshot struct {
	Status       Status `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	CanRecord    bool   `json:"canRecord"`
	IsActive     bool   `json:"isActive"`
}

// Controller is the push-to-talk state machine. Its mutex is never held
// across device acquisition or the network send.
type Controller struct {
	capture  Capture
	tx       Transmitter
	settings Settings
	log      zerolog.Logger
	status   StatusUpdater
	client   string

	successWindow  time.Duration
	errorWindow    time.Duration
	healthInterval time.Duration

	newID func() string

	mu            sync.Mutex
	state         Status
	errMsg        string
	deviceErr     error
	acquired      bool
	starting      bool
	startGen      uint64
	stopRequested bool
	closed        bool
	epoch         uint64
	cycle         config.Recording
	timer         *time.Timer
	cancelSend    context.CancelFunc
	lastResult    *transmit.Result
	events        broadcaster
}

func New(cfg Config) *Controller {
	c := &Controller{
		capture:        cfg.Capture,
		tx:             cfg.Transmitter,
		settings:       cfg.Settings,
		log:            cfg.Logger,
		status:         cfg.StatusUpdater,
		client:         cfg.Client,
		successWindow:  cfg.SuccessWindow,
		errorWindow:    cfg.ErrorWindow,
		healthInterval: cfg.HealthInterval,
		newID:          func() string { return uuid.NewString() },
		state:          StatusIdle,
	}
	if c.client == "" {
		c.client = Fingerprint("dev")
	}
	if c.successWindow <= 0 {
		c.successWindow = DefaultSuccessWindow
	}
	if c.errorWindow <= 0 {
		c.errorWindow = DefaultErrorWindow
	}
	if c.healthInterval <= 0 {
		c.healthInterval = DefaultHealthInterval
	}
	return c
}

// Start begins a recording and blocks until the microphone is capturing
// or the attempt has failed.
func (c *Controller) Start(ctx context.Context) {
	if gen, ok := c.beginStart(); ok {
		c.finishStart(ctx, gen)
	}
}

// Stop finalizes the current recording and blocks until it has been sent.
func (c *Controller) Stop(ctx context.Context) {
	if ep, ok := c.beginStop(); ok {
		c.finishStop(ctx, ep)
	}
}

// Press and Release are the non-blocking forms used by hotkeys and the
// control API. The guards run synchronously so a release that follows a
// press is never lost.
func (c *Controller) Press() {
	if gen, ok := c.beginStart(); ok {
		go c.finishStart(context.Background(), gen)
	}
}

func (c *Controller) Release() {
	if ep, ok := c.beginStop(); ok {
		go c.finishStop(context.Background(), ep)
	}
}

func (c *Controller) OnHotkey(pressed bool) {
	switch ParseMode(c.settings.Mode()) {
	case PushToTalk:
		if pressed {
			c.Press()
		} else {
			c.Release()
		}
	case Toggle:
		if !pressed {
			return
		}
		if c.isRecordingOrStarting() {
			c.Release()
		} else {
			c.Press()
		}
	}
}

func (c *Controller) isRecordingOrStarting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StatusRecording || c.starting
}

// beginStart claims a start attempt. The returned generation identifies it
// so an attempt aborted by Reset never completes a later one.
func (c *Controller) beginStart() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, false
	}
	if c.starting || c.state == StatusRecording || c.state == StatusTransmitting {
		c.log.Debug().Str("status", string(c.state)).Bool("starting", c.starting).Msg("Start ignored")
		return 0, false
	}
	if c.settings.Recording().DestinationURL == "" {
		c.log.Warn().Msg("Start refused: no destination configured")
		c.setErrorLocked(msgNoDestination)
		return 0, false
	}
	c.startGen++
	c.starting = true
	c.stopRequested = false
	return c.startGen, true
}

func (c *Controller) finishStart(ctx context.Context, gen uint64) {
	var initErr error
	if !c.capture.IsMicrophoneActive() {
		// A stale or muted stream is released so the device is reopened.
		c.capture.Cleanup()
		initErr = c.capture.Initialize(ctx)
	}

	c.mu.Lock()
	if c.closed || c.startGen != gen || !c.starting {
		// Aborted by Reset, OnConfigChange or Shutdown. A newer attempt
		// owns the device now and must keep it.
		release := c.closed || c.startGen == gen
		c.mu.Unlock()
		if release {
			c.capture.Cleanup()
		}
		return
	}
	c.starting = false
	if initErr != nil {
		c.deviceErr = initErr
		c.acquired = false
		c.logCaptureError(initErr, "Microphone unavailable")
		c.failLocked(initErr)
		c.mu.Unlock()
		return
	}
	c.deviceErr = nil
	c.acquired = true

	// Configuration may have changed while the device was being acquired.
	rec := c.settings.Recording()
	if rec.DestinationURL == "" {
		c.setErrorLocked(msgNoDestination)
		c.mu.Unlock()
		return
	}
	if err := c.capture.Start(rec.Format); err != nil {
		c.logCaptureError(err, "Failed to start recording")
		c.failLocked(err)
		c.mu.Unlock()
		return
	}

	c.cycle = rec
	c.log.Info().Str("format", string(rec.Format)).Msg("Recording started")
	c.setStateLocked(StatusRecording, "")
	c.emitLocked(Event{Type: EventStartRecording})
	ep := c.epoch
	stop := c.stopRequested
	c.stopRequested = false
	c.mu.Unlock()

	if stop {
		c.log.Debug().Msg("Applying release received during start")
		c.finishStop(ctx, ep)
	}
}

// beginStop moves recording to transmitting. A stop that arrives while a
// start is still acquiring the device is remembered.
func (c *Controller) beginStop() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatusRecording {
		if c.starting {
			c.stopRequested = true
		}
		return 0, false
	}
	c.setStateLocked(StatusTransmitting, "")
	c.emitLocked(Event{Type: EventStopRecording})
	return c.epoch, true
}

func (c *Controller) finishStop(ctx context.Context, ep uint64) {
	c.mu.Lock()
	if c.epoch != ep {
		c.mu.Unlock()
		return
	}
	if c.state == StatusRecording {
		c.setStateLocked(StatusTransmitting, "")
		c.emitLocked(Event{Type: EventStopRecording})
		ep = c.epoch
	}
	rec := c.cycle
	sendCtx, cancel := context.WithCancel(ctx)
	c.cancelSend = cancel
	c.mu.Unlock()
	defer cancel()

	payload, err := c.capture.Stop()
	if err != nil {
		c.mu.Lock()
		if c.epoch == ep {
			c.logCaptureError(err, "Failed to finalize recording")
			c.failLocked(err)
		}
		c.mu.Unlock()
		return
	}

	fields := make(map[string]string, len(rec.ExtraFields)+3)
	for k, v := range rec.ExtraFields {
		fields[k] = v
	}
	fields["duration_ms"] = strconv.FormatInt(payload.Duration.Milliseconds(), 10)
	fields["client"] = c.client
	fields["recording_id"] = c.newID()

	c.log.Info().
		Int("bytes", payload.Size()).
		Dur("duration", payload.Duration).
		Str("type", payload.MimeType).
		Msg("Recording finished, sending")

	res, err := c.tx.Send(sendCtx, transmit.Payload{Data: payload.Data, MimeType: payload.MimeType}, transmit.Options{
		DestinationURL: rec.DestinationURL,
		Format:         rec.Format,
		ExtraFields:    fields,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != ep {
		c.log.Debug().Msg("Discarding result of superseded upload")
		return
	}
	c.cancelSend = nil
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		c.log.Warn().Err(err).Int("status", res.HTTPStatus).Msg("Transmission failed")
		if res.HTTPStatus != 0 {
			c.emitLocked(Event{Type: EventTransmissionComplete, Result: &res})
			c.lastResult = &res
		}
		c.failLocked(err)
		return
	}

	c.lastResult = &res
	c.setStateLocked(StatusSuccess, "")
	c.emitLocked(Event{Type: EventTransmissionComplete, Result: &res})
	c.scheduleLocked(c.successWindow, func() {
		c.setStateLocked(StatusIdle, "")
	})
}

// OnConfigChange aborts an active cycle when the destination is removed.
func (c *Controller) OnConfigChange(rec config.Recording) {
	c.mu.Lock()
	active := c.starting || c.state == StatusRecording || c.state == StatusTransmitting
	if rec.DestinationURL != "" || !active {
		// canRecord may have changed
		c.emitLocked(Event{Type: EventStatusChanged})
		c.mu.Unlock()
		return
	}
	c.log.Warn().Msg("Destination removed during an active recording, aborting")
	if c.cancelSend != nil {
		c.cancelSend()
		c.cancelSend = nil
	}
	c.starting = false
	c.stopRequested = false
	c.acquired = false
	c.setErrorLocked(msgDestinationRemoved)
	c.mu.Unlock()

	c.capture.Cleanup()
}

// Reset releases the microphone and returns to idle, or to error when the
// device is known to have failed.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.cancelSend != nil {
		c.cancelSend()
		c.cancelSend = nil
	}
	c.stopTimerLocked()
	c.epoch++
	c.starting = false
	c.stopRequested = false
	c.acquired = false
	c.mu.Unlock()

	c.capture.Cleanup()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceErr != nil {
		c.setStateLocked(StatusError, messageFor(c.deviceErr))
		return
	}
	c.setStateLocked(StatusIdle, "")
	c.log.Info().Msg("Reset")
}

// Prime requests microphone access ahead of the first press.
func (c *Controller) Prime(ctx context.Context) error {
	if c.capture.IsReady() {
		return nil
	}
	err := c.capture.Initialize(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.deviceErr = err
		c.logCaptureError(err, "Microphone unavailable")
		if !c.starting && c.state != StatusRecording && c.state != StatusTransmitting {
			c.failLocked(err)
		}
		return err
	}
	c.deviceErr = nil
	c.acquired = true
	c.emitLocked(Event{Type: EventStatusChanged})
	return nil
}

// RunHealthCheck probes the microphone until ctx is done.
func (c *Controller) RunHealthCheck(ctx context.Context) {
	t := time.NewTicker(c.healthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.CheckHealth()
		}
	}
}

// CheckHealth demotes to error when a previously acquired microphone has
// gone away between recordings.
func (c *Controller) CheckHealth() {
	c.mu.Lock()
	if !c.acquired || c.deviceErr != nil || c.closed || c.starting ||
		c.state == StatusRecording || c.state == StatusTransmitting {
		c.mu.Unlock()
		return
	}
	ep := c.epoch
	c.mu.Unlock()

	ready := c.capture.IsReady()
	active := ready && c.capture.IsMicrophoneActive()
	if ready && active {
		return
	}

	c.mu.Lock()
	if c.epoch != ep || !c.acquired {
		c.mu.Unlock()
		return
	}
	c.log.Warn().Bool("ready", ready).Bool("active", active).Msg("Microphone lost")
	c.deviceErr = errMicrophoneLost
	c.acquired = false
	c.setErrorLocked(messageFor(errMicrophoneLost))
	c.mu.Unlock()

	c.capture.Cleanup()
}

var errMicrophoneLost = audio.NewError(audio.DeviceNotFound, errors.New("microphone disconnected or disabled"))

// OnVisibilityChange treats the process being hidden as a release.
func (c *Controller) OnVisibilityChange(hidden bool) {
	if !hidden {
		return
	}
	c.mu.Lock()
	recording := c.state == StatusRecording || c.starting
	c.mu.Unlock()
	if recording {
		c.log.Info().Msg("Hidden while recording, stopping")
		c.Release()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Status:       c.state,
		ErrorMessage: c.errMsg,
		CanRecord:    c.settings.Recording().DestinationURL != "" && c.deviceErr == nil,
		IsActive:     c.state == StatusRecording || c.state == StatusTransmitting,
	}
}

// LastResult returns the most recent response from the destination.
func (c *Controller) LastResult() (transmit.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastResult == nil {
		return transmit.Result{}, false
	}
	return *c.lastResult, true
}

// Subscribe returns a channel of controller events and a function that
// ends the subscription.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, id := c.events.subscribe(c.closed)
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events.unsubscribe(id)
	}
}

// Shutdown discards any active recording and releases the microphone.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	if c.cancelSend != nil {
		c.cancelSend()
		c.cancelSend = nil
	}
	c.epoch++
	c.events.close()
	c.mu.Unlock()

	c.capture.Cleanup()
	return nil
}

func (c *Controller) failLocked(err error) {
	msg := messageFor(err)
	c.setErrorLocked(msg)
	c.emitLocked(Event{Type: EventRecordingError, Message: msg, Err: err})
}

// setErrorLocked enters error and schedules the auto-clear. The error stays
// when the microphone has failed and is not ready.
func (c *Controller) setErrorLocked(msg string) {
	c.setStateLocked(StatusError, msg)
	ep := c.epoch
	c.timer = time.AfterFunc(c.errorWindow, func() {
		ready := c.capture.IsReady()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch != ep || c.closed {
			return
		}
		if c.deviceErr == nil || ready {
			c.setStateLocked(StatusIdle, "")
		}
	})
}

func (c *Controller) setStateLocked(s Status, msg string) {
	c.stopTimerLocked()
	c.epoch++
	c.state = s
	c.errMsg = msg
	c.notifyStatusLocked()
	c.emitLocked(Event{Type: EventStatusChanged})
}

// scheduleLocked runs fn after d unless another transition happens first.
func (c *Controller) scheduleLocked(d time.Duration, fn func()) {
	ep := c.epoch
	c.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch != ep || c.closed {
			return
		}
		fn()
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) notifyStatusLocked() {
	if c.status == nil {
		return
	}
	switch c.state {
	case StatusIdle:
		c.status.SetIdle()
	case StatusRecording:
		c.status.SetRecording()
	case StatusTransmitting:
		c.status.SetTransmitting()
	case StatusSuccess:
		c.status.SetSuccess()
	case StatusError:
		c.status.SetError(c.errMsg)
	}
}

func (c *Controller) emitLocked(ev Event) {
	ev.Snapshot = c.snapshotLocked()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.events.publish(ev, c.log)
}

func (c *Controller) logCaptureError(err error, msg string) {
	e := c.log.Warn()
	var ce *audio.CaptureError
	if errors.As(err, &ce) {
		e = e.Str("kind", string(ce.Kind)).Str("detail", ce.Detail())
	} else {
		e = e.Err(err)
	}
	e.Msg(msg)
}

// messageFor is the user-facing text for err.
func messageFor(err error) string {
	var se *transmit.StatusError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
