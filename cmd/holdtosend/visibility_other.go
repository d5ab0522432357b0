//go:build windows

package main

import (
	"context"

	"github.com/rs/zerolog"
)

type visibilityController interface {
	OnVisibilityChange(hidden bool)
}

// watchVisibility does nothing on Windows, which has no terminal suspend.
func watchVisibility(ctx context.Context, c visibilityController, log zerolog.Logger) {
	<-ctx.Done()
}
