package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tanq16/hoard/internal"
	"github.com/tanq16/hoard/utils"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [url or id]",
	Short: "Resume an interrupted download from its persisted chunks",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		manager, err := internal.NewManager(internal.Config{
			StorePath:    resolveStorePath(),
			UserAgent:    userAgent,
			ProxyURL:     proxyURL,
			FetchTimeout: timeout,
		})
		if err != nil {
			printError(fmt.Sprintf("Failed to initialize engine: %v", err))
			os.Exit(1)
		}
		defer manager.Close()

		opts := internal.ResumeOptions{Concurrency: connections, ChunkSize: chunkSize}
		if len(args) == 1 {
			if strings.Contains(args[0], "://") {
				opts.URL = args[0]
			} else {
				opts.ID = args[0]
			}
		} else {
			existing, err := manager.CheckForExistingDownload()
			if err != nil {
				printError(fmt.Sprintf("Failed to scan for existing downloads: %v", err))
				os.Exit(1)
			}
			if existing == nil {
				printInfo("Nothing to resume")
				return
			}
			if existing.FromOtherPage {
				printWarning("The only incomplete download belongs to another active session")
				os.Exit(1)
			}
			opts.ID = existing.ID
		}

		render := &renderer{}
		opts.Notify = render.notify
		tr, err := manager.Resume(opts)
		if err != nil {
			printError(fmt.Sprintf("Cannot resume: %v", err))
			os.Exit(1)
		}
		printPending(fmt.Sprintf("Resuming %s", tr.FileName()))
		if err := tr.Resume(); err != nil {
			printError(fmt.Sprintf("%s: %v", tr.FileName(), err))
			os.Exit(1)
		}
		complete := render.result()
		if complete == nil {
			printError("Download did not complete")
			os.Exit(1)
		}
		outPath := filepath.Join(outputDir, complete.FileName)
		if err := os.WriteFile(outPath, complete.Data, 0644); err != nil {
			printError(fmt.Sprintf("Writing output file: %v", err))
			os.Exit(1)
		}
		printSuccess(fmt.Sprintf("Saved %s (%s)", outPath, utils.FormatBytes(uint64(complete.Size))))
		if err := manager.CompleteCleanup(tr.ID); err != nil {
			printWarning(fmt.Sprintf("Session cleanup failed: %v", err))
		}
	},
}

func init() {
	resumeCmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "Directory to write the completed download into")
	resumeCmd.Flags().IntVarP(&connections, "connections", "c", 0, "Number of connections")
	resumeCmd.Flags().Int64VarP(&chunkSize, "chunk-size", "s", 0, "Bytes per chunk")
	resumeCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	resumeCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL")
	rootCmd.AddCommand(resumeCmd)
}
