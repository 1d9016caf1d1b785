package state

import "fmt"

// Phase is the installation state machine's current state
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetchingManifest
	PhaseSelectingPackages
	PhaseResolvingDownloads
	PhaseDownloading
	PhaseVerifying
	PhaseExtracting
	PhaseCompleted
	PhaseFailed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetchingManifest:
		return "fetching_manifest"
	case PhaseSelectingPackages:
		return "selecting_packages"
	case PhaseResolvingDownloads:
		return "resolving_downloads"
	case PhaseDownloading:
		return "downloading"
	case PhaseVerifying:
		return "verifying"
	case PhaseExtracting:
		return "extracting"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether the machine has reached a final state
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}
