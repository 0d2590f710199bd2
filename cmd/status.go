package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/hoard/internal"
	"github.com/tanq16/hoard/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show incomplete downloads persisted in the store",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		manager, err := internal.NewManager(internal.Config{StorePath: resolveStorePath()})
		if err != nil {
			printError(fmt.Sprintf("Failed to open store: %v", err))
			os.Exit(1)
		}
		defer manager.Close()

		existing, err := manager.CheckForExistingDownload()
		if err != nil {
			printError(fmt.Sprintf("Failed to scan store: %v", err))
			os.Exit(1)
		}
		if existing == nil {
			printInfo("No incomplete downloads")
			return
		}
		meta := existing.Meta
		done := int64(len(meta.CompletedStarts))
		printInfo(fmt.Sprintf("Download: %s", meta.FileName))
		fmt.Printf("  id:       %s\n", existing.ID)
		fmt.Printf("  url:      %s\n", meta.URL)
		fmt.Printf("  status:   %s\n", meta.Status)
		if meta.TotalBytes > 0 {
			received := done * meta.ChunkSize
			if received > meta.TotalBytes {
				received = meta.TotalBytes
			}
			fmt.Printf("  progress: %s of %s\n",
				utils.FormatBytes(uint64(received)), utils.FormatBytes(uint64(meta.TotalBytes)))
		} else {
			fmt.Printf("  progress: %d chunk(s) stored, total size unknown\n", done)
		}
		fmt.Printf("  updated:  %s\n", meta.UpdatedAt.Format("2006-01-02 15:04:05"))
		if existing.FromOtherPage {
			printWarning("Owned by another active session; resume will be refused until it releases the download")
		} else {
			printPending(fmt.Sprintf("Run \"hoard resume %s\" to continue", existing.ID))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
