package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/petems/holdtosend/internal/format"
	"github.com/petems/holdtosend/internal/transmit"
	"github.com/spf13/cobra"
)

var (
	sendURL    string
	sendFormat string
	sendFields map[string]string
	sendJSON   bool
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Upload an existing audio file to the endpoint",
	Long: `Upload a recorded file exactly as a released hotkey would: one multipart
POST with the "audio" file part, "format" and the configured extra fields.
The format is taken from the file extension unless --format is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		cfg := store.Current()

		f, err := fileFormat(path, sendFormat)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		dest := cfg.DestinationURL
		if sendURL != "" {
			dest = sendURL
		}
		extra := make(map[string]string, len(cfg.Transmit.ExtraFields)+len(sendFields))
		for k, v := range cfg.Transmit.ExtraFields {
			extra[k] = v
		}
		for k, v := range sendFields {
			extra[k] = v
		}

		client := transmit.New(transmit.Config{Timeout: cfg.Transmit.Timeout, Logger: log})
		res, err := client.Send(context.Background(), transmit.Payload{
			Data:     data,
			MimeType: format.BaseMIME(f.Candidates()[0]),
		}, transmit.Options{
			DestinationURL: dest,
			Format:         f,
			Filename:       filepath.Base(path),
			ExtraFields:    extra,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if sendJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "%d %s\n", res.HTTPStatus, res.Message)
		}
		return res.Err()
	},
}

// fileFormat picks the upload format from an explicit flag or the file
// extension.
func fileFormat(path, flag string) (format.AudioFormat, error) {
	if flag != "" {
		return format.Parse(flag)
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch strings.ToLower(ext) {
	case "weba":
		return format.WebM, nil
	case "oga", "opus":
		return format.Ogg, nil
	case "wave":
		return format.WAV, nil
	}
	f, err := format.Parse(ext)
	if err != nil {
		return "", fmt.Errorf("cannot infer format of %s, pass --format: %w", filepath.Base(path), err)
	}
	return f, nil
}

func init() {
	sendCmd.Flags().StringVar(&sendURL, "url", "", "destination URL (overrides config)")
	sendCmd.Flags().StringVarP(&sendFormat, "format", "f", "", "format field: webm, ogg, mp3 or wav")
	sendCmd.Flags().StringToStringVarP(&sendFields, "field", "F", nil, "extra form field key=value, repeatable")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "print the full result as JSON")
}
