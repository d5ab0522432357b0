package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/petems/holdtosend/internal/app"
	"github.com/petems/holdtosend/internal/audio"
	"github.com/petems/holdtosend/internal/audio/mic"
	"github.com/petems/holdtosend/internal/codec"
	"github.com/petems/holdtosend/internal/config"
	"github.com/petems/holdtosend/internal/format"
	"github.com/petems/holdtosend/internal/hotkey"
	"github.com/petems/holdtosend/internal/notify"
	"github.com/petems/holdtosend/internal/permissions"
	"github.com/petems/holdtosend/internal/server"
	"github.com/petems/holdtosend/internal/transmit"
	"github.com/rs/zerolog"
)

// stack is the running application: microphone, encoder registry,
// transmission client and the controller that ties them together.
type stack struct {
	store *config.Store
	log   zerolog.Logger

	device     *mic.Device
	registry   *codec.Registry
	negotiator *format.Negotiator
	session    *audio.Session
	client     *transmit.Client
	notifier   *notify.Notifier
	ctrl       *app.Controller

	hotkeys  hotkey.Manager
	hkMu     sync.Mutex
	hotkeyID string
}

func newStack(store *config.Store, log zerolog.Logger) (*stack, error) {
	cfg := store.Current()

	// macOS requires explicit microphone + accessibility approval before capture or hotkeys work
	if err := permissions.EnsurePermissions(); err != nil {
		return nil, fmt.Errorf("required permissions not granted: %w", err)
	}

	device, err := mic.New(log)
	if err != nil {
		return nil, err
	}

	registry := codec.NewRegistry(log)
	if path, ok := registry.FFmpegAvailable(); ok {
		log.Debug().Str("ffmpeg", path).Msg("Compressed formats available")
	} else {
		log.Warn().Msg("ffmpeg not found, only wav can be recorded")
	}
	negotiator := format.NewNegotiator(registry)

	session := audio.NewSession(audio.SessionConfig{
		Device:      device,
		Negotiator:  negotiator,
		Encoders:    registry,
		Constraints: constraintsFor(cfg.Audio),
		Logger:      log,
	})

	return &stack{
		store:      store,
		log:        log,
		device:     device,
		registry:   registry,
		negotiator: negotiator,
		session:    session,
		client:     transmit.New(transmit.Config{Timeout: cfg.Transmit.Timeout, Logger: log}),
		notifier:   notify.New(notify.Config{Logger: log, Enabled: cfg.Notifications}),
	}, nil
}

func constraintsFor(a config.AudioConfig) audio.Constraints {
	c := audio.DefaultConstraints()
	c.DeviceID = a.DeviceID
	if a.SampleRate > 0 {
		c.SampleRate = a.SampleRate
	}
	if a.Channels > 0 {
		c.Channels = a.Channels
	}
	c.EchoCancellation = a.EchoCancellation
	c.NoiseSuppression = a.NoiseSuppression
	c.AutoGainControl = a.AutoGainControl
	return c
}

// attach builds the controller. status may be nil when running headless.
func (st *stack) attach(status app.StatusUpdater) {
	st.ctrl = app.New(app.Config{
		Capture:       st.session,
		Transmitter:   st.client,
		Settings:      st.store,
		Logger:        st.log,
		StatusUpdater: status,
		Client:        app.Fingerprint(Version),
	})
}

type startOptions struct {
	// requireHotkey fails start when the global hotkey cannot be bound.
	requireHotkey bool
	// listen forces the control API on at this address.
	listen string
}

// start launches the background work of a running application. It returns
// once everything is wired; the goroutines stop when ctx is done.
func (st *stack) start(ctx context.Context, opts startOptions) error {
	cfg := st.store.Current()

	logEvents, _ := st.ctrl.Subscribe()
	go app.LogEvents(ctx, st.log, logEvents)
	notes, _ := st.ctrl.Subscribe()
	go st.notifier.Run(ctx, notes)

	go st.ctrl.RunHealthCheck(ctx)
	go watchVisibility(ctx, st.ctrl, st.log)

	if err := st.bindHotkey(cfg.PlatformHotkey()); err != nil {
		if opts.requireHotkey {
			return err
		}
		st.log.Warn().Err(err).Msg("Global hotkey unavailable, use the control API")
	}

	if err := st.store.Watch(ctx, st.apply); err != nil {
		st.log.Warn().Err(err).Msg("Config changes will not be applied until restart")
	}

	if cfg.Permission == config.PermissionEager {
		go func() {
			if err := st.ctrl.Prime(ctx); err != nil {
				st.log.Warn().Err(err).Msg("Microphone not primed")
			}
		}()
	}

	listen := opts.listen
	if listen == "" && cfg.Server.Enabled {
		listen = cfg.Server.Listen
	}
	if listen != "" {
		srv := server.New(server.Config{
			Listen:     listen,
			Controller: st.ctrl,
			Formats:    st.negotiator,
			Logger:     st.log,
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				st.log.Error().Err(err).Str("listen", listen).Msg("Control API stopped")
			}
		}()
	}
	return nil
}

func (st *stack) bindHotkey(accel string) error {
	st.hkMu.Lock()
	defer st.hkMu.Unlock()

	if accel == st.hotkeyID {
		return nil
	}
	if st.hotkeys == nil {
		hk, err := hotkey.New()
		if err != nil {
			return fmt.Errorf("failed to initialize hotkeys: %w", err)
		}
		st.hotkeys = hk
	}
	if err := st.hotkeys.Register(accel, st.ctrl.OnHotkey); err != nil {
		return fmt.Errorf("failed to register hotkey %s: %w", accel, err)
	}
	if st.hotkeyID != "" {
		if err := st.hotkeys.Unregister(st.hotkeyID); err != nil {
			st.log.Debug().Err(err).Str("hotkey", st.hotkeyID).Msg("Unregister hotkey")
		}
	}
	st.hotkeyID = accel
	st.log.Info().Str("hotkey", accel).Msg("Hotkey registered")
	return nil
}

// apply pushes a reloaded configuration into the running components.
func (st *stack) apply(cfg config.Config) {
	st.ctrl.OnConfigChange(cfg.Recording())
	st.notifier.SetEnabled(cfg.Notifications)

	if st.session.SetConstraints(constraintsFor(cfg.Audio)) {
		if st.ctrl.Snapshot().IsActive {
			st.log.Info().Msg("Microphone settings apply after the current recording is reset")
		} else {
			// next press reopens the stream with the new settings
			st.ctrl.Reset()
		}
	}

	if err := st.bindHotkey(cfg.PlatformHotkey()); err != nil {
		st.log.Error().Err(err).Msg("Keeping previous hotkey")
	}
}

// close releases the microphone and hotkeys.
func (st *stack) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if st.ctrl != nil {
		if err := st.ctrl.Shutdown(ctx); err != nil {
			st.log.Error().Err(err).Msg("Shutdown error")
		}
	}
	st.hkMu.Lock()
	if st.hotkeys != nil {
		st.hotkeys.Close()
	}
	st.hkMu.Unlock()
	if err := st.device.Close(); err != nil {
		st.log.Debug().Err(err).Msg("PortAudio terminate")
	}
}
