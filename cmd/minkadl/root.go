package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"minkadl/pkg/config"
	"minkadl/pkg/logger"
	"minkadl/pkg/scraper"
	"minkadl/pkg/taxalist"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Flags
	configFile string
	logLevel   string
	concurrent int
	rateLimit  int
	maxRetries int
	timeoutSec int
	baseURL    string
)

// errTaxaFailed marks runs where some taxa could not be fully queried
var errTaxaFailed = errors.New("one or more taxa failed")

// rootCmd is the only command: download all MINKA pictures for a list of taxa
var rootCmd = &cobra.Command{
	Use:   "minkadl <taxa-list-file> <output-directory>",
	Short: "Download all MINKA pictures for a list of taxa",
	Long: `minkadl downloads every photograph attached to MINKA observations of the
given taxa into per-taxon folders.

The taxa list file contains one taxon name per line (blank lines and lines
starting with '#' are ignored). Each taxon gets a subfolder of the output
directory, named after the taxon, holding one file per observation photo:

    <output-directory>/<taxon>/<observation-id>_<photo-index>.<ext>

Already downloaded pictures are skipped, so an interrupted run can simply
be restarted. The exit code is non-zero when any taxon's query failed,
even if the other taxa completed.`,
	Example: `  # Download pictures for the taxa listed in species.txt
  minkadl species.txt ./pictures

  # Slower, politer run
  minkadl species.txt ./pictures --concurrent 2 --rate-limit 30`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDownload,
}

// Execute runs the root command and maps failures to exit codes
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errTaxaFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.minkadl.yaml)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	rootCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "API requests per minute")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry attempts per API request")
	rootCmd.Flags().IntVar(&timeoutSec, "timeout", 0, "HTTP timeout in seconds")
	rootCmd.Flags().StringVar(&baseURL, "base-url", "", "override the MINKA API base URL")

	rootCmd.SetVersionTemplate(`minkadl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func runDownload(cmd *cobra.Command, args []string) error {
	listPath, outputDir := args[0], args[1]

	flags := make(map[string]interface{})
	if concurrent > 0 {
		flags["concurrent"] = concurrent
	}
	if rateLimit > 0 {
		flags["rate-limit"] = rateLimit
	}
	if maxRetries > 0 {
		flags["max-retries"] = maxRetries
	}
	if timeoutSec > 0 {
		flags["timeout"] = time.Duration(timeoutSec) * time.Second
	}
	if baseURL != "" {
		flags["base-url"] = baseURL
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	// The taxa list must be readable before any network activity
	taxa, err := taxalist.Load(listPath)
	if err != nil {
		return err
	}
	if len(taxa) == 0 {
		return fmt.Errorf("taxa list %s contains no taxa", listPath)
	}

	log.InfoWithFields("starting download", map[string]interface{}{
		"version": version,
		"taxa":    len(taxa),
		"list":    listPath,
		"output":  outputDir,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scraper.New(cfg, log)
	summary, runErr := s.Run(ctx, taxa, outputDir)
	if runErr != nil {
		log.WithError(runErr).Error("run aborted")
		return runErr
	}

	if summary.AnyTaxonFailed() {
		return errTaxaFailed
	}
	return nil
}
