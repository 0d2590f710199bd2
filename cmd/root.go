package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/hoard/internal"
	"github.com/tanq16/hoard/internal/transfer"
	"github.com/tanq16/hoard/utils"
)

var (
	storePath   string
	outputDir   string
	connections int
	chunkSize   int64
	timeout     time.Duration
	userAgent   string
	proxyURL    string
	urlListFile string
	debug       bool
)

var HoardVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "hoard [url]",
	Short:   "Hoard is a resumable multi-connection download manager",
	Long:    "Hoard downloads files over ranged HTTP with concurrent connections, persisting every completed chunk to an embedded store so interrupted downloads resume where they left off.",
	Version: HoardVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if len(args) == 0 && urlListFile == "" {
			printError("No URL or URL list provided")
			os.Exit(1)
		}
		if urlListFile != "" && len(args) > 0 {
			printError("Cannot specify url argument and --urllist together, choose one")
			os.Exit(1)
		}
		var entries []utils.DownloadEntry
		if urlListFile != "" {
			var err error
			entries, err = utils.ReadDownloadList(urlListFile)
			if err != nil {
				printError("Failed to read URL list file")
				os.Exit(1)
			}
		} else {
			entries = []utils.DownloadEntry{{URL: args[0]}}
		}

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

		failed := 0
		for _, entry := range entries {
			if err := runDownload(manager, entry); err != nil {
				printError(fmt.Sprintf("%s: %v", entry.URL, err))
				failed++
			}
		}
		if failed > 0 {
			printError(fmt.Sprintf("%d download(s) failed", failed))
			os.Exit(1)
		}
	},
}

func runDownload(manager *internal.Manager, entry utils.DownloadEntry) error {
	render := &renderer{}
	tr, err := manager.Start(internal.StartOptions{
		URL:         entry.URL,
		Concurrency: connections,
		ChunkSize:   chunkSize,
		Notify:      render.notify,
	})
	if err != nil {
		return err
	}
	printPending(fmt.Sprintf("Downloading %s", tr.FileName()))
	if err := tr.Start(); err != nil {
		return err
	}
	complete := render.result()
	if complete == nil {
		return fmt.Errorf("download did not complete")
	}
	outPath := entry.OutputPath
	if outPath == "" {
		outPath = filepath.Join(outputDir, complete.FileName)
	}
	if err := os.WriteFile(outPath, complete.Data, 0644); err != nil {
		return fmt.Errorf("writing output file: %v", err)
	}
	printSuccess(fmt.Sprintf("Saved %s (%s)", outPath, utils.FormatBytes(uint64(complete.Size))))
	return manager.CompleteCleanup(tr.ID)
}

// renderer turns the transfer event stream into a single updating
// terminal line.
type renderer struct {
	mu       sync.Mutex
	speed    float64
	complete *transfer.CompleteEvent
}

func (r *renderer) notify(ev transfer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev := ev.(type) {
	case transfer.SpeedEvent:
		r.speed = ev.BytesPerSec
	case transfer.ProgressEvent:
		fmt.Printf("\r%s %s / %s  %s/s   ",
			progressBar(ev.Percent, 30),
			utils.FormatBytes(uint64(ev.ReceivedBytes)),
			utils.FormatBytes(uint64(ev.TotalBytes)),
			utils.FormatBytes(uint64(r.speed)))
	case transfer.StatusEvent:
		if ev.Status == transfer.StatusAssembling {
			fmt.Println()
			printInfo("Assembling file from chunks")
		}
	case transfer.ErrorEvent:
		fmt.Println()
		printWarning(fmt.Sprintf("Transfer error at %.1f%%: %v", ev.Percent, ev.Err))
	case transfer.CompleteEvent:
		r.complete = &ev
	}
}

func (r *renderer) result() *transfer.CompleteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complete
}

func resolveStorePath() string {
	if storePath != "" {
		return storePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hoard.db"
	}
	dir := filepath.Join(home, ".hoard")
	os.MkdirAll(dir, 0755)
	return filepath.Join(dir, "hoard.db")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Path to the chunk store database (default ~/.hoard/hoard.db)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "Directory to write completed downloads into")
	rootCmd.Flags().StringVarP(&urlListFile, "urllist", "l", "", "Path to YAML file containing URLs and output paths")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 0, "Number of connections per download")
	rootCmd.Flags().Int64VarP(&chunkSize, "chunk-size", "s", 0, "Bytes per chunk")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 2*time.Minute, "Per-chunk fetch timeout (eg. 30s, 5m)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
}
