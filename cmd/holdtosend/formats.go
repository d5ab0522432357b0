package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/petems/holdtosend/internal/codec"
	"github.com/petems/holdtosend/internal/format"
	"github.com/spf13/cobra"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "Show which recording formats this machine can encode",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := codec.NewRegistry(log)
		neg := format.NewNegotiator(registry)

		out := cmd.OutOrStdout()
		if path, ok := registry.FFmpegAvailable(); ok {
			fmt.Fprintf(out, "ffmpeg: %s\n\n", path)
		} else {
			fmt.Fprintf(out, "ffmpeg: not found (only wav is available)\n\n")
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FORMAT\tSUPPORTED\tENCODING\tBITRATE")
		for _, s := range neg.SupportMatrix() {
			resolved := s.Resolved
			if resolved == "" {
				resolved = "-"
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%d kbps\n", s.Format, s.Supported, resolved, s.Bitrate/1000)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nrecommended: %s\n", neg.RecommendedFormat())
		return nil
	},
}
