package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/monika-after-story/installer/internal/audio"
	"github.com/monika-after-story/installer/internal/gamedir"
	"github.com/monika-after-story/installer/internal/state"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download and install the mod",
	Long: "Fetches the latest release manifest, downloads the selected " +
		"packages and installs them into the game directory. Interrupted " +
		"installations resume where they left off.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd)
	},
}

func init() {
	installCmd.Flags().StringP("target", "t", "", "Game directory to install into (auto-detected when omitted)")
	installCmd.Flags().StringSliceP("packages", "p", nil, "Package IDs to install (defaults to the deluxe edition)")

	// The root command runs an install too, so it shares the flags
	rootCmd.Flags().StringP("target", "t", "", "Game directory to install into (auto-detected when omitted)")
	rootCmd.Flags().StringSliceP("packages", "p", nil, "Package IDs to install (defaults to the deluxe edition)")
}

func runInstall(cmd *cobra.Command) error {
	target, _ := cmd.Flags().GetString("target")
	packages, _ := cmd.Flags().GetStringSlice("packages")
	if target == "" {
		target = cfg.TargetDir
	}

	var sink audio.Sink = audio.NewSpeaker(cfg.Quiet, slog.Default())

	machine := state.New(state.Config{
		ManifestURL: cfg.ManifestURL,
		DownloadDir: filepath.Join(cfg.TempDir, "mas-installer"),
		StateFile:   cfg.StateFile,
		Track:       audio.AmbientTrack(),
		VolumeDB:    cfg.VolumeDB,
	}, state.Deps{
		Fetcher:   newFetcher(),
		Downloads: newDownloadManager(),
		Detect: func() (string, bool) {
			return gamedir.Detect()
		},
		Sink:   sink,
		Logger: slog.Default(),
	})

	if target != "" {
		if !gamedir.IsGameDir(target) {
			return fmt.Errorf("%s does not look like a DDLC directory", target)
		}
		machine.SetTarget(target)
	}
	if len(packages) > 0 {
		if err := machine.SetSelection(packages...); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		machine.Cancel()
	}()

	stopRender := make(chan struct{})
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		renderReports(machine.Reports(), stopRender)
	}()

	phase, err := machine.Run(ctx)
	close(stopRender)
	<-rendered

	switch phase {
	case state.PhaseCompleted:
		fmt.Printf("\nInstalled into %s\n", machine.Target().Dir)
		for _, id := range machine.Warnings() {
			fmt.Printf("Skipped optional package: %s\n", id)
		}
		return nil
	case state.PhaseCancelled:
		fmt.Println("\nInstallation cancelled. Run again to resume.")
		return nil
	default:
		if f := machine.Failure(); f != nil && f.Retryable {
			return fmt.Errorf("%w\nRun again to retry from the failed step", err)
		}
		return err
	}
}

func renderReports(reports <-chan state.Report, stop <-chan struct{}) {
	var lastStatus string
	for {
		select {
		case r := <-reports:
			if r.Status != lastStatus {
				fmt.Printf("[%5.1f%%] %s\n", r.Overall, r.Status)
				lastStatus = r.Status
			}
			if r.Phase.Terminal() {
				return
			}
		case <-stop:
			// Drain whatever is already buffered, then quit
			for {
				select {
				case r := <-reports:
					if r.Status != lastStatus {
						fmt.Printf("[%5.1f%%] %s\n", r.Overall, r.Status)
						lastStatus = r.Status
					}
				default:
					return
				}
			}
		}
	}
}
