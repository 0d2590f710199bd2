package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tanq16/hoard/internal"
	"github.com/tanq16/hoard/utils"
)

var clearCmd = &cobra.Command{
	Use:   "clear [url or id]",
	Short: "Delete the persisted chunks and metadata for a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		manager, err := internal.NewManager(internal.Config{StorePath: resolveStorePath()})
		if err != nil {
			printError(fmt.Sprintf("Failed to open store: %v", err))
			os.Exit(1)
		}
		defer manager.Close()

		id := args[0]
		if strings.Contains(id, "://") {
			id = utils.DeriveTransferID(id)
		}
		if err := manager.ClearByID(id); err != nil {
			printError(fmt.Sprintf("Failed to clear %s: %v", id, err))
			os.Exit(1)
		}
		printSuccess(fmt.Sprintf("Cleared stored data for %s", id))
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
