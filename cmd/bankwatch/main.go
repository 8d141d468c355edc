package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bankwatch",
	Short: "Token bank storage and balance watcher",
	Long:  "Decodes lock records from contract storage, serves cached wallet and bank balances and reconstructs balances from bank events",
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the config file, if empty string defaults will be used")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
