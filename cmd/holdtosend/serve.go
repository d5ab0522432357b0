package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run without a tray: global hotkey plus the local control API",
	Long: `Run headless. The global hotkey drives recordings when one can be bound;
the control API accepts POST /api/press and /api/release and streams
events on /api/events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStack(store, log)
		if err != nil {
			return err
		}
		st.attach(nil)

		listen := serveListen
		if listen == "" {
			listen = store.Current().Server.Listen
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := st.start(ctx, startOptions{listen: listen}); err != nil {
			st.close()
			return err
		}
		log.Info().Str("version", Version).Str("listen", listen).Msg("holdtosend serving")

		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		st.close()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "control API address (default from config)")
}
