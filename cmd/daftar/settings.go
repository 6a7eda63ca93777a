package main

import (
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and override runtime settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the effective merged settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		settings, err := a.settings.Load()
		if err != nil {
			return err
		}
		return printJSON(settings)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a database override for a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.SetSettingOverride(args[0], args[1]); err != nil {
			return err
		}
		return printJSON(map[string]string{"status": "ok", "key": args[0]})
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
