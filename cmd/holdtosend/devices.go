package main

import (
	"fmt"

	"github.com/petems/holdtosend/internal/audio/mic"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones",
	Long:  `List input devices. Use an ID as audio.device_id in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		device, err := mic.New(log)
		if err != nil {
			return err
		}
		defer device.Close()

		devices, err := device.ListDevices()
		if err != nil {
			return err
		}

		current := store.Current().Audio.DeviceID
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d input devices:\n", len(devices))
		for _, d := range devices {
			marker := " "
			if d.ID == current || (current == "" && d.Default) {
				marker = "*"
			}
			fmt.Fprintf(out, " %s %s  (id: %s)\n", marker, d.Name, d.ID)
		}
		return nil
	},
}
