package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/petems/holdtosend/internal/format"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	ModePushToTalk = "PushToTalk"
	ModeToggle     = "Toggle"

	PermissionDeferred = "deferred"
	PermissionEager    = "eager"
)

type Config struct {
	DestinationURL string         `mapstructure:"destination_url" yaml:"destination_url" validate:"omitempty,http_url"`
	Format         string         `mapstructure:"format" yaml:"format" validate:"oneof=webm ogg mp3 wav"`
	Mode           string         `mapstructure:"mode" yaml:"mode" validate:"oneof=PushToTalk Toggle"`
	Hotkey         string         `mapstructure:"hotkey" yaml:"hotkey" validate:"required"`
	HotkeyDarwin   string         `mapstructure:"hotkey_darwin" yaml:"hotkey_darwin"`
	Permission     string         `mapstructure:"permission" yaml:"permission" validate:"oneof=deferred eager"`
	Audio          AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Transmit       TransmitConfig `mapstructure:"transmit" yaml:"transmit"`
	LogLevel       string         `mapstructure:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error"`
	Notifications  bool           `mapstructure:"notifications" yaml:"notifications"`
	Server         ServerConfig   `mapstructure:"server" yaml:"server"`
}

type AudioConfig struct {
	DeviceID         string `mapstructure:"device_id" yaml:"device_id"`
	SampleRate       int    `mapstructure:"sample_rate" yaml:"sample_rate" validate:"min=8000,max=192000"`
	Channels         int    `mapstructure:"channels" yaml:"channels" validate:"min=1,max=2"`
	EchoCancellation bool   `mapstructure:"echo_cancellation" yaml:"echo_cancellation"`
	NoiseSuppression bool   `mapstructure:"noise_suppression" yaml:"noise_suppression"`
	AutoGainControl  bool   `mapstructure:"auto_gain_control" yaml:"auto_gain_control"`
}

type TransmitConfig struct {
	Timeout     time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	ExtraFields map[string]string `mapstructure:"extra_fields" yaml:"extra_fields,omitempty"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// Recording is the part of the configuration read at every start attempt.
type Recording struct {
	DestinationURL string
	Format         format.AudioFormat
	ExtraFields    map[string]string
}

// Recording extracts the settings a single recording cycle needs.
func (c Config) Recording() Recording {
	f, err := format.Parse(c.Format)
	if err != nil {
		f = format.WebM
	}
	extra := make(map[string]string, len(c.Transmit.ExtraFields))
	for k, v := range c.Transmit.ExtraFields {
		extra[k] = v
	}
	return Recording{
		DestinationURL: strings.TrimSpace(c.DestinationURL),
		Format:         f,
		ExtraFields:    extra,
	}
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("destination_url", "")
	v.SetDefault("format", string(format.WebM))
	v.SetDefault("mode", ModePushToTalk)
	v.SetDefault("hotkey", "Alt+Space")
	v.SetDefault("hotkey_darwin", "Alt+Space") // Option+Space
	v.SetDefault("permission", PermissionDeferred)
	v.SetDefault("audio.device_id", "")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.echo_cancellation", true)
	v.SetDefault("audio.noise_suppression", true)
	v.SetDefault("audio.auto_gain_control", true)
	v.SetDefault("transmit.timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("notifications", true)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:7531")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a configuration before it is used or written.
func Validate(c Config) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config value for %s: %q fails %q", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return err
	}
	return nil
}

// Store holds the live configuration backed by a YAML file.
type Store struct {
	path string
	log  zerolog.Logger

	// viper is not safe for concurrent use; every access holds vmu.
	vmu sync.Mutex
	v   *viper.Viper

	// serializes Update so concurrent edits are not lost
	writeMu sync.Mutex

	mu  sync.RWMutex
	cfg Config
}

// Open reads the config at path, or the platform default when path is
// empty. A missing file yields the defaults.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HOLDTOSEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	s := &Store{v: v, path: path, log: log}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	s.vmu.Lock()
	defer s.vmu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		if err := s.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", s.path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat config %s: %w", s.path, err)
	}

	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Current returns a copy of the live configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.cfg
	if c.Transmit.ExtraFields != nil {
		extra := make(map[string]string, len(c.Transmit.ExtraFields))
		for k, v := range c.Transmit.ExtraFields {
			extra[k] = v
		}
		c.Transmit.ExtraFields = extra
	}
	return c
}

func (s *Store) Recording() Recording { return s.Current().Recording() }

func (s *Store) Mode() string { return s.Current().Mode }

func (s *Store) Path() string { return s.path }

// Update applies fn to a copy of the configuration, validates the result
// and writes it to disk. The live configuration is left untouched on error.
func (s *Store) Update(fn func(*Config)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	c := s.Current()
	fn(&c)
	if err := Validate(c); err != nil {
		return err
	}
	if err := Save(s.path, c); err != nil {
		return err
	}
	return s.reload()
}

// Watch calls fn with every valid configuration written to the file until
// ctx is done. Invalid edits are logged and ignored.
func (s *Store) Watch(ctx context.Context, fn func(Config)) error {
	// the directory is watched so a file that is created or replaced is seen
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(e.Name) != target || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.log.Warn().Err(err).Str("path", e.Name).Msg("Ignoring invalid config change")
					continue
				}
				s.log.Info().Str("path", e.Name).Msg("Config reloaded")
				fn(s.Current())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Msg("Config watch error")
			}
		}
	}()
	return nil
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes c to path as YAML. The file is replaced by rename so a
// watcher never reads a half-written config.
func Save(path string, c Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := Marshal(c)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DefaultPath returns the platform-specific config file path
func DefaultPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "holdtosend", "config.yaml")
}
