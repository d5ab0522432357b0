//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// visibilityController receives hide and show notifications.
type visibilityController interface {
	OnVisibilityChange(hidden bool)
}

// watchVisibility treats suspending the process from the terminal (Ctrl+Z)
// as the app being hidden. The recording is stopped first, then the process
// suspends itself with the default SIGTSTP action.
func watchVisibility(ctx context.Context, c visibilityController, log zerolog.Logger) {
	tstp := make(chan os.Signal, 1)
	cont := make(chan os.Signal, 1)
	signal.Notify(tstp, syscall.SIGTSTP)
	signal.Notify(cont, syscall.SIGCONT)
	defer signal.Stop(tstp)
	defer signal.Stop(cont)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tstp:
			log.Debug().Msg("Suspended")
			c.OnVisibilityChange(true)
			signal.Reset(syscall.SIGTSTP)
			if err := syscall.Kill(os.Getpid(), syscall.SIGTSTP); err != nil {
				log.Warn().Err(err).Msg("Failed to suspend")
			}
		case <-cont:
			log.Debug().Msg("Resumed")
			signal.Notify(tstp, syscall.SIGTSTP)
			c.OnVisibilityChange(false)
		}
	}
}
