package main

import (
	"fmt"

	"github.com/petems/holdtosend/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View the holdtosend configuration and where it is stored.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.Marshal(store.Current())
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), store.Path())
	},
}

var configSetDestinationCmd = &cobra.Command{
	Use:   "set-destination <url>",
	Short: "Set the endpoint recordings are uploaded to",
	Long:  `Set destination_url. An empty string removes it and disables recording.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]
		if err := store.Update(func(c *config.Config) { c.DestinationURL = url }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "destination_url written to %s\n", store.Path())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetDestinationCmd)
}
