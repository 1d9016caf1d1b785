package state

import (
	"github.com/monika-after-story/installer/internal/download"
)

// Report is an immutable progress snapshot emitted to the shell. A report
// is never mutated after emission; the next emission supersedes it.
type Report struct {
	Phase    Phase
	Overall  float64 // 0..100
	Tasks    []download.Snapshot
	Status   string
	Warnings []string
}

// Phase share of the overall progress bar. Download dominates wall time,
// extraction comes second.
const (
	progressManifestDone = 5.0
	progressResolveDone  = 10.0
	progressDownloadSpan = 70.0
	progressExtractStart = 80.0
	progressExtractSpan  = 20.0
)

func overallPercent(phase Phase, downloadFrac, extractFrac float64) float64 {
	switch phase {
	case PhaseIdle:
		return 0
	case PhaseFetchingManifest:
		return 0
	case PhaseSelectingPackages:
		return progressManifestDone
	case PhaseResolvingDownloads:
		return progressManifestDone
	case PhaseDownloading, PhaseVerifying:
		return progressResolveDone + progressDownloadSpan*clamp01(downloadFrac)
	case PhaseExtracting:
		return progressExtractStart + progressExtractSpan*clamp01(extractFrac)
	case PhaseCompleted:
		return 100
	default:
		return 0
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// downloadFraction aggregates per-task progress into a single 0..1 value
func downloadFraction(tasks []download.Snapshot) float64 {
	var done, total int64
	for _, t := range tasks {
		if t.Size > 0 {
			total += t.Size
			if t.Status == download.StatusVerified {
				done += t.Size
				continue
			}
			done += min64(t.BytesDone, t.Size)
		}
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
