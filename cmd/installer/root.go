// Package installer holds the command line surface. Each command wires the
// engine packages together from the loaded configuration.
package installer

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/monika-after-story/installer/internal/config"
	"github.com/monika-after-story/installer/internal/download"
	"github.com/monika-after-story/installer/internal/manifest"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mas-installer",
	Short: "Installer for the Monika After Story mod",
	Long: "Downloads, verifies and installs Monika After Story into an " +
		"existing DDLC directory. Run without a subcommand to start an " +
		"installation.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("manifest-url"); v != "" {
			loaded.ManifestURL = v
		}
		if v, _ := cmd.Flags().GetBool("quiet"); v {
			loaded.Quiet = true
		}
		config.SetupLogger(loaded)
		cfg = loaded
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().String("manifest-url", "", "Override the release manifest URL")
	rootCmd.PersistentFlags().Bool("quiet", false, "Disable the ambient soundtrack")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(packagesCmd)
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newFetcher() *manifest.Fetcher {
	f := manifest.NewFetcher(&http.Client{Timeout: cfg.FetchTimeout}, slog.Default())
	f.SetRetries(cfg.Retries)
	f.SetBackoff(cfg.Backoff)
	return f
}

func newDownloadManager() *download.Manager {
	return download.NewManager(download.Config{
		Concurrency:    cfg.Concurrency,
		Retries:        cfg.Retries,
		Backoff:        cfg.Backoff,
		RequestTimeout: cfg.RequestTimeout,
	}, slog.Default())
}
