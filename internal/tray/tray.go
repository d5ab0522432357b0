package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/getlantern/systray"
	"github.com/petems/holdtosend/internal/app"
	"github.com/petems/holdtosend/internal/audio"
	"github.com/petems/holdtosend/internal/config"
	"github.com/petems/holdtosend/internal/format"
	"github.com/petems/holdtosend/internal/logging"
	"github.com/petems/holdtosend/internal/notify"
	"github.com/rs/zerolog"
)

// DeviceLister lists microphones for the device menu.
type DeviceLister interface {
	ListDevices() ([]audio.AudioDevice, error)
}

type Config struct {
	Store      *config.Store
	Negotiator *format.Negotiator
	Devices    DeviceLister
	Notifier   *notify.Notifier
	Logger     zerolog.Logger
	Version    string
	Commit     string
}

type UI struct {
	ctrl     *app.Controller
	store    *config.Store
	neg      *format.Negotiator
	devices  DeviceLister
	notifier *notify.Notifier
	version  string
	commit   string
	log      zerolog.Logger

	ready chan struct{}

	// Menu items
	mStatus   *systray.MenuItem
	mRecord   *systray.MenuItem
	mMode     *systray.MenuItem
	mFormats  *systray.MenuItem
	mDevices  *systray.MenuItem
	mReset    *systray.MenuItem
	mCopyLast *systray.MenuItem
}

func New(cfg Config) *UI {
	return &UI{
		store:    cfg.Store,
		neg:      cfg.Negotiator,
		devices:  cfg.Devices,
		notifier: cfg.Notifier,
		version:  cfg.Version,
		commit:   cfg.Commit,
		log:      cfg.Logger,
		ready:    make(chan struct{}),
	}
}

// SetController attaches the controller. It must be called before Run; the
// controller is built after the tray because it reports status through it.
func (u *UI) SetController(c *app.Controller) {
	u.ctrl = c
}

// Status update methods for the controller to call

func (u *UI) SetIdle() {
	u.updateStatus(app.StatusIdle, "")
}

func (u *UI) SetRecording() {
	u.updateStatus(app.StatusRecording, "")
}

func (u *UI) SetTransmitting() {
	u.updateStatus(app.StatusTransmitting, "")
}

func (u *UI) SetSuccess() {
	u.updateStatus(app.StatusSuccess, "")
}

func (u *UI) SetError(message string) {
	u.updateStatus(app.StatusError, message)
}

// Run blocks until the tray exits. onExit runs on the way out.
func (u *UI) Run(ctx context.Context, onExit func()) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, onExit)
	return nil
}

func (u *UI) onReady() {
	systray.SetTooltip("Hold the hotkey to record, release to send")

	// Build menu
	u.mStatus = systray.AddMenuItem(statusLine(app.StatusIdle, ""), "Current status")
	u.mStatus.Disable()
	u.mRecord = systray.AddMenuItem("Start Recording", "Start or stop a recording")
	systray.AddSeparator()

	cfg := u.store.Current()
	u.mMode = systray.AddMenuItem(modeLabel(cfg.Mode), "Toggle between modes")

	u.mFormats = systray.AddMenuItem("Format", "Select the upload format")
	u.buildFormatMenu(cfg.Format)

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu(cfg.Audio.DeviceID)

	systray.AddSeparator()
	u.mReset = systray.AddMenuItem("Reset", "Release the microphone and clear errors")
	u.mCopyLast = systray.AddMenuItem("Copy Last Response", "Copy the endpoint's last response")

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About holdtosend")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	close(u.ready)
	u.applyStatus(u.ctrl.Snapshot())

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mRecord.ClickedCh:
			u.toggleRecording()
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mReset.ClickedCh:
			u.ctrl.Reset()
		case <-u.mCopyLast.ClickedCh:
			u.copyLastResponse()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// toggleRecording lets the menu drive a recording, since a menu item
// cannot be held down.
func (u *UI) toggleRecording() {
	if u.ctrl.Snapshot().Status == app.StatusRecording {
		u.ctrl.Release()
		return
	}
	u.ctrl.Press()
}

func (u *UI) buildFormatMenu(current string) {
	formatItems := make(map[format.AudioFormat]*systray.MenuItem)

	for _, s := range u.neg.SupportMatrix() {
		item := u.mFormats.AddSubMenuItem(formatLabel(s), s.Resolved)
		if string(s.Format) == current {
			item.Check()
		}
		if !s.Supported {
			item.Disable()
		}
		formatItems[s.Format] = item

		go func(f format.AudioFormat, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.store.Update(func(c *config.Config) { c.Format = string(f) }); err != nil {
					u.log.Error().Err(err).Msg("Failed to save format")
					continue
				}
				// Uncheck all other items
				for other, itm := range formatItems {
					if other != f {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("format", string(f)).Msg("Changed format")
			}
		}(s.Format, item)
	}
}

func (u *UI) buildDeviceMenu(current string) {
	devices, err := u.devices.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == current || (current == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if u.ctrl.Snapshot().IsActive {
					u.log.Warn().Msg("Cannot change microphone while recording")
					continue
				}
				if err := u.store.Update(func(c *config.Config) { c.Audio.DeviceID = deviceID }); err != nil {
					u.log.Error().Err(err).Msg("Failed to save device")
					continue
				}
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
				// next press reopens the stream on the new device
				u.ctrl.Reset()
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) toggleMode() {
	oldMode := u.store.Current().Mode
	newMode := config.ModeToggle
	if oldMode == config.ModeToggle {
		newMode = config.ModePushToTalk
	}
	if err := u.store.Update(func(c *config.Config) { c.Mode = newMode }); err != nil {
		u.log.Error().Err(err).Msg("Failed to save mode")
		return
	}
	u.mMode.SetTitle(modeLabel(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) copyLastResponse() {
	res, ok := u.ctrl.LastResult()
	if !ok {
		u.log.Info().Msg("No response to copy yet")
		return
	}
	if err := u.notifier.CopyResponse(res); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy response")
	}
}

func (u *UI) openLogs() {
	path := logging.Path()
	cmd := openCommand(runtime.GOOS, path)
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
		return
	}
	go cmd.Wait()
}

func openCommand(goos, path string) *exec.Cmd {
	switch goos {
	case "darwin":
		return exec.Command("open", path)
	case "windows":
		return exec.Command("cmd", "/c", "start", "", path)
	default:
		return exec.Command("xdg-open", path)
	}
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Str("config", u.store.Path()).Msg("holdtosend")
	systray.SetTooltip(fmt.Sprintf("holdtosend %s (%s)", u.version, u.commit))
}

func (u *UI) applyStatus(s app.Snapshot) {
	u.updateStatus(s.Status, s.ErrorMessage)
}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status app.Status, message string) {
	select {
	case <-u.ready:
	default:
		return
	}
	systray.SetTitle(fmt.Sprintf("🎤 %s", emojiForStatus(status)))
	u.mStatus.SetTitle(statusLine(status, message))
	if status == app.StatusRecording {
		u.mRecord.SetTitle("Stop & Send")
	} else {
		u.mRecord.SetTitle("Start Recording")
	}
	if status == app.StatusError && message != "" {
		systray.SetTooltip(message)
	} else {
		systray.SetTooltip("Hold the hotkey to record, release to send")
	}
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status app.Status) string {
	switch status {
	case app.StatusRecording:
		return "🔴" // Red - recording
	case app.StatusTransmitting:
		return "🟡" // Yellow - uploading
	case app.StatusSuccess:
		return "✅"
	case app.StatusIdle:
		return "🟢" // Green - ready/idle
	case app.StatusError:
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

func statusLine(status app.Status, message string) string {
	var s string
	switch status {
	case app.StatusRecording:
		s = "Recording…"
	case app.StatusTransmitting:
		s = "Sending…"
	case app.StatusSuccess:
		s = "Sent"
	case app.StatusError:
		s = "Error"
		if message != "" {
			s += ": " + message
		}
	default:
		s = "Ready"
	}
	return s
}

func modeLabel(mode string) string {
	if mode == config.ModeToggle {
		return "Mode: Toggle"
	}
	return "Mode: Push-to-Talk"
}

func formatLabel(s format.Support) string {
	label := fmt.Sprintf("%s (%d kbps)", s.Format, s.Bitrate/1000)
	if !s.Supported {
		label += " - unavailable"
	}
	return label
}
