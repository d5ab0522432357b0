package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/holdtosend/internal/config"
	"github.com/petems/holdtosend/internal/logging"
	"github.com/petems/holdtosend/internal/tray"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	cfgFile  string
	logLevel string

	store *config.Store
	log   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "holdtosend",
	Short: "Hold a hotkey to record, release to send",
	Long: `holdtosend records the microphone while the hotkey is held and uploads
the recording to the configured endpoint as a single multipart POST when
it is released.

Without a subcommand it runs as a system tray application.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// logging before the config exists goes to the console at info
		log = logging.New()

		var err error
		store, err = config.Open(cfgFile, log)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := store.Current().LogLevel
		if logLevel != "" {
			level = logLevel
		}
		log = logging.NewWithLevel(level)
		return nil
	},
	RunE: runTray,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(formatsCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "holdtosend %s (%s)\n", Version, Commit)
	},
}

func runTray(cmd *cobra.Command, args []string) error {
	st, err := newStack(store, log)
	if err != nil {
		return err
	}

	// The tray exists first since the controller reports status through it.
	trayUI := tray.New(tray.Config{
		Store:      store,
		Negotiator: st.negotiator,
		Devices:    st.session,
		Notifier:   st.notifier,
		Logger:     log,
		Version:    Version,
		Commit:     Commit,
	})
	st.attach(trayUI)
	trayUI.SetController(st.ctrl)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := st.start(ctx, startOptions{requireHotkey: true}); err != nil {
		st.close()
		return err
	}

	log.Info().Str("version", Version).Str("config", store.Path()).Msg("holdtosend starting...")

	// systray must run on the main thread
	err = trayUI.Run(ctx, func() { log.Info().Msg("Shutting down...") })
	cancel()
	st.close()
	return err
}
