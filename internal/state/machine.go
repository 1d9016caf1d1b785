// Package state sequences the installation pipeline: manifest fetch,
// package resolution, downloads, verification and extraction. The machine
// is the sole owner of the installation target and package selection; every
// other component receives them as read-only inputs per call.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/monika-after-story/installer/internal/audio"
	"github.com/monika-after-story/installer/internal/download"
	"github.com/monika-after-story/installer/internal/extract"
	"github.com/monika-after-story/installer/internal/manifest"
	"github.com/monika-after-story/installer/internal/resolve"
)

// SpritepackDir is the target subdirectory spritepack archives unpack into
const SpritepackDir = "spritepacks"

var (
	// ErrNothingSelected means the machine was asked to advance to
	// download with an empty package selection.
	ErrNothingSelected = errors.New("no installable package selected")

	// ErrSelectionLocked means the selection can no longer change because
	// downloads were already planned from it.
	ErrSelectionLocked = errors.New("package selection is locked while installing")

	// ErrNotRetryable means Retry was called for a failure that retrying
	// cannot fix.
	ErrNotRetryable = errors.New("failure is not retryable")

	// ErrNotFailed means Retry was called outside the Failed state
	ErrNotFailed = errors.New("machine is not in the failed state")
)

// Target is the resolved installation directory
type Target struct {
	Dir          string `json:"dir"`
	AutoDetected bool   `json:"auto_detected"`
}

// Failure captures why the machine entered the Failed state, with enough
// context for the shell to render an actionable message.
type Failure struct {
	Phase     Phase
	PackageID string
	Err       error
	Retryable bool
}

func (f *Failure) Error() string {
	if f.PackageID != "" {
		return fmt.Sprintf("%s failed for package %s: %v", f.Phase, f.PackageID, f.Err)
	}
	return fmt.Sprintf("%s failed: %v", f.Phase, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ManifestFetcher retrieves the remote manifest
type ManifestFetcher interface {
	Fetch(ctx context.Context, endpoint string) (*manifest.Manifest, error)
}

// Downloader runs the resolved download plan
type Downloader interface {
	Run(ctx context.Context, specs []resolve.Task, destDir string) (download.Result, error)
	Events() <-chan download.Snapshot
	Snapshots() []download.Snapshot
}

// ExtractFunc unpacks one verified archive into a directory
type ExtractFunc func(ctx context.Context, archivePath, targetDir string, progress extract.ProgressFunc) error

// DetectFunc proposes an installation directory, or reports none
type DetectFunc func() (string, bool)

// Config holds the machine's operating parameters
type Config struct {
	ManifestURL string
	DownloadDir string // staging area for downloaded archives
	StateFile   string // resume record location, empty disables persistence
	Track       []byte // ambient WAV played while installing
	VolumeDB    float64
}

// Deps are the machine's collaborators. Fetcher and Downloads are required;
// Extract defaults to the real extractor, Detect to no suggestion, Sink to
// a no-op sink.
type Deps struct {
	Fetcher   ManifestFetcher
	Downloads Downloader
	Extract   ExtractFunc
	Detect    DetectFunc
	Sink      audio.Sink
	Logger    *slog.Logger
}

// Machine is the installation state machine
type Machine struct {
	cfg  Config
	deps Deps

	reports chan Report

	mu        sync.Mutex
	phase     Phase
	runID     string
	man       *manifest.Manifest
	selection []string
	target    Target
	tasks     []resolve.Task
	failure   *Failure
	warnings  []string
	cancel    context.CancelFunc
}

// New creates an idle machine
func New(cfg Config, deps Deps) *Machine {
	if deps.Extract == nil {
		deps.Extract = extract.Archive
	}
	if deps.Detect == nil {
		deps.Detect = func() (string, bool) { return "", false }
	}
	if deps.Sink == nil {
		deps.Sink = audio.NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Machine{
		cfg:     cfg,
		deps:    deps,
		reports: make(chan Report, 128),
		phase:   PhaseIdle,
		runID:   uuid.NewString(),
	}
}

// Reports returns the progress stream consumed by the shell. Sends never
// block; a slow consumer misses intermediate reports only.
func (m *Machine) Reports() <-chan Report {
	return m.reports
}

// Phase returns the current state
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Failure returns the recorded failure, nil outside the Failed state
func (m *Machine) Failure() *Failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Warnings returns optional packages that failed without failing the run
func (m *Machine) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warnings...)
}

// Target returns the current installation target
func (m *Machine) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Selection returns the current package selection
func (m *Machine) Selection() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.selection...)
}

// SetSelection records the user's package choice. Refused once downloads
// have been planned from the previous selection.
func (m *Machine) SetSelection(ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseIdle, PhaseFetchingManifest, PhaseSelectingPackages, PhaseFailed:
		m.selection = append([]string(nil), ids...)
		return nil
	default:
		return ErrSelectionLocked
	}
}

// SetTarget overrides the installation directory
func (m *Machine) SetTarget(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = Target{Dir: dir, AutoDetected: false}
}

// Cancel requests a cooperative stop of the current run. Safe to call from
// any goroutine; a no-op when nothing is running.
func (m *Machine) Cancel() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the full pipeline from Idle to a terminal phase. A previous
// resume record, when present, restores the selection and target before the
// manifest fetch.
func (m *Machine) Run(ctx context.Context) (Phase, error) {
	m.loadResume()
	return m.runFrom(ctx, PhaseFetchingManifest)
}

// Retry re-enters only the failed phase, per the recorded failure. Earlier
// pipeline results (manifest, resolution, verified downloads) are reused.
func (m *Machine) Retry(ctx context.Context) (Phase, error) {
	m.mu.Lock()
	if m.phase != PhaseFailed || m.failure == nil {
		m.mu.Unlock()
		return m.phase, ErrNotFailed
	}
	if !m.failure.Retryable {
		err := m.failure
		m.mu.Unlock()
		return PhaseFailed, fmt.Errorf("%w: %v", ErrNotRetryable, err)
	}
	from := m.failure.Phase
	m.failure = nil
	m.mu.Unlock()

	m.deps.Logger.Info("retrying failed phase", "phase", from)
	return m.runFrom(ctx, from)
}

func (m *Machine) runFrom(ctx context.Context, from Phase) (Phase, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
	}()

	if from <= PhaseFetchingManifest {
		if done, err := m.stepFetchManifest(ctx); done {
			return m.Phase(), err
		}
	}
	if from <= PhaseSelectingPackages {
		if done, err := m.stepSelectPackages(ctx); done {
			return m.Phase(), err
		}
	}
	if from <= PhaseResolvingDownloads {
		if done, err := m.stepResolve(ctx); done {
			return m.Phase(), err
		}
	}
	// Verification is folded into the download phase: the downloader owns
	// per-task checksum runs, the machine just surfaces the Verifying phase.
	if from <= PhaseVerifying {
		if done, err := m.stepDownload(ctx); done {
			return m.Phase(), err
		}
	}
	if from <= PhaseExtracting {
		if done, err := m.stepExtract(ctx); done {
			return m.Phase(), err
		}
	}

	m.complete()
	return PhaseCompleted, nil
}

func (m *Machine) stepFetchManifest(ctx context.Context) (bool, error) {
	m.setPhase(PhaseFetchingManifest, "Fetching version manifest")

	man, err := m.deps.Fetcher.Fetch(ctx, m.cfg.ManifestURL)
	if err != nil {
		if ctx.Err() != nil {
			return true, m.cancelled()
		}
		retryable := !errors.Is(err, manifest.ErrMalformedManifest)
		return true, m.fail(&Failure{Phase: PhaseFetchingManifest, Err: err, Retryable: retryable})
	}

	m.mu.Lock()
	m.man = man
	m.mu.Unlock()
	return false, nil
}

func (m *Machine) stepSelectPackages(ctx context.Context) (bool, error) {
	m.setPhase(PhaseSelectingPackages, "Choosing packages")

	m.mu.Lock()
	if len(m.selection) == 0 {
		m.selection = defaultSelection(m.man)
	}
	selection := m.selection
	m.mu.Unlock()

	if len(selection) == 0 {
		return true, m.fail(&Failure{Phase: PhaseSelectingPackages, Err: ErrNothingSelected, Retryable: true})
	}

	// Settle the installation target before any download is planned so a
	// resume record can carry it.
	m.mu.Lock()
	if m.target.Dir == "" {
		if dir, ok := m.deps.Detect(); ok {
			m.target = Target{Dir: dir, AutoDetected: true}
		}
	}
	m.mu.Unlock()

	return false, nil
}

func (m *Machine) stepResolve(ctx context.Context) (bool, error) {
	m.setPhase(PhaseResolvingDownloads, "Planning downloads")

	m.mu.Lock()
	man, selection := m.man, m.selection
	m.mu.Unlock()

	tasks, err := resolve.Resolve(man, selection)
	if err != nil {
		var unknown *resolve.UnknownPackageError
		failure := &Failure{Phase: PhaseResolvingDownloads, Err: err, Retryable: false}
		if errors.As(err, &unknown) {
			failure.PackageID = unknown.ID
		}
		return true, m.fail(failure)
	}
	if len(tasks) == 0 {
		return true, m.fail(&Failure{Phase: PhaseResolvingDownloads, Err: ErrNothingSelected, Retryable: true})
	}

	m.mu.Lock()
	m.tasks = tasks
	m.mu.Unlock()

	if err := m.saveResume(); err != nil {
		m.deps.Logger.Warn("failed to persist resume state", "error", err)
	}
	return false, nil
}

func (m *Machine) stepDownload(ctx context.Context) (bool, error) {
	m.setPhase(PhaseDownloading, "Downloading packages")

	m.deps.Sink.SetVolume(m.cfg.VolumeDB)
	if err := m.deps.Sink.Play(m.cfg.Track, true); err != nil {
		m.deps.Logger.Warn("ambient track unavailable", "error", err)
	}

	m.mu.Lock()
	tasks := m.tasks
	m.mu.Unlock()

	pumpDone := make(chan struct{})
	stop := make(chan struct{})
	go m.pumpDownloadEvents(stop, pumpDone)

	res, err := m.deps.Downloads.Run(ctx, tasks, m.cfg.DownloadDir)
	close(stop)
	<-pumpDone

	if err != nil {
		return true, m.fail(&Failure{Phase: PhaseDownloading, Err: err, Retryable: true})
	}

	m.mu.Lock()
	m.warnings = res.Warnings
	m.mu.Unlock()

	switch res.Outcome {
	case download.OutcomeCancelled:
		return true, m.cancelled()
	case download.OutcomePartialFailure:
		failure := &Failure{Phase: PhaseDownloading, Err: downloadFailure(res), Retryable: true}
		if len(res.Failed) > 0 {
			failure.PackageID = res.Failed[0]
		}
		return true, m.fail(failure)
	}

	for _, id := range res.Warnings {
		m.deps.Logger.Warn("optional package skipped", "package", id)
	}
	return false, nil
}

// pumpDownloadEvents forwards downloader snapshots to the shell as reports
// and flips the visible phase to Verifying once no task is still
// transferring.
func (m *Machine) pumpDownloadEvents(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	events := m.deps.Downloads.Events()

	for {
		select {
		case snap, ok := <-events:
			if !ok {
				return
			}
			if snap.Status == download.StatusVerifying && m.Phase() == PhaseDownloading {
				if m.allTransfersSettled() {
					m.setPhase(PhaseVerifying, "Verifying downloads")
					continue
				}
			}
			m.emitDownloadReport(snap)
		case <-stop:
			return
		}
	}
}

func (m *Machine) allTransfersSettled() bool {
	for _, s := range m.deps.Downloads.Snapshots() {
		if s.Status == download.StatusPending || s.Status == download.StatusInProgress {
			return false
		}
	}
	return true
}

func (m *Machine) emitDownloadReport(snap download.Snapshot) {
	tasks := m.deps.Downloads.Snapshots()
	phase := m.Phase()
	status := fmt.Sprintf("Downloading %s", snap.Name)
	if snap.Status == download.StatusVerifying {
		status = fmt.Sprintf("Verifying %s", snap.Name)
	}
	m.emit(Report{
		Phase:   phase,
		Overall: overallPercent(phase, downloadFraction(tasks), 0),
		Tasks:   tasks,
		Status:  status,
	})
}

func (m *Machine) stepExtract(ctx context.Context) (bool, error) {
	m.setPhase(PhaseExtracting, "Installing packages")

	m.mu.Lock()
	tasks := m.tasks
	target := m.target
	warnings := map[string]bool{}
	for _, id := range m.warnings {
		warnings[id] = true
	}
	m.mu.Unlock()

	if target.Dir == "" {
		target = Target{Dir: ".", AutoDetected: false}
		m.mu.Lock()
		m.target = target
		m.mu.Unlock()
	}

	total := len(tasks)
	for i, task := range tasks {
		if warnings[task.PackageID] {
			continue // Optional package that never downloaded
		}

		dest := target.Dir
		switch task.Kind {
		case manifest.KindSpritepack:
			dest = filepath.Join(target.Dir, SpritepackDir)
		case manifest.KindBase, manifest.KindDeluxe, manifest.KindShared:
			// Core content merges into the target root
		}

		archive := download.ArtifactPath(m.cfg.DownloadDir, task.PackageID)
		idx, name := i, task.Name
		progress := func(current, entries int, entry string) {
			frac := (float64(idx) + float64(current)/float64(entries)) / float64(total)
			m.emit(Report{
				Phase:   PhaseExtracting,
				Overall: overallPercent(PhaseExtracting, 1, frac),
				Status:  fmt.Sprintf("Installing %s", name),
			})
		}

		m.deps.Logger.Info("extracting package", "package", task.PackageID, "target", dest)
		if err := m.deps.Extract(ctx, archive, dest, progress); err != nil {
			if ctx.Err() != nil {
				return true, m.cancelled()
			}
			var unsafe *extract.UnsafePathError
			failure := &Failure{
				Phase:     PhaseExtracting,
				PackageID: task.PackageID,
				Err:       err,
				Retryable: !errors.As(err, &unsafe),
			}
			return true, m.fail(failure)
		}
	}
	return false, nil
}

func (m *Machine) complete() {
	m.clearResume()
	m.deps.Sink.Stop()
	m.setPhase(PhaseCompleted, "Installation complete")
	m.deps.Logger.Info("installation completed", "run_id", m.runID)
}

func (m *Machine) cancelled() error {
	m.deps.Sink.Stop()
	// Resume record stays on disk so a future run can pick the work up
	m.setPhase(PhaseCancelled, "Installation cancelled")
	m.deps.Logger.Info("installation cancelled", "run_id", m.runID)
	return context.Canceled
}

func (m *Machine) fail(f *Failure) error {
	m.deps.Sink.Stop()

	m.mu.Lock()
	m.failure = f
	m.mu.Unlock()

	m.setPhase(PhaseFailed, f.Error())
	m.deps.Logger.Error("installation failed",
		"phase", f.Phase,
		"package", f.PackageID,
		"retryable", f.Retryable,
		"error", f.Err,
	)
	return f
}

func (m *Machine) setPhase(p Phase, status string) {
	m.mu.Lock()
	m.phase = p
	warnings := append([]string(nil), m.warnings...)
	m.mu.Unlock()

	m.deps.Logger.Debug("phase transition", "phase", p)
	m.emit(Report{
		Phase:    p,
		Overall:  overallPercent(p, 0, 0),
		Status:   status,
		Warnings: warnings,
	})
}

func (m *Machine) emit(r Report) {
	select {
	case m.reports <- r:
	default:
		// Slow consumer, drop the intermediate report
	}
}

// defaultSelection picks the deluxe edition when the manifest offers one,
// falling back to the default edition. Spritepacks stay opt-in.
func defaultSelection(m *manifest.Manifest) []string {
	if m == nil {
		return nil
	}
	var base string
	for _, p := range m.Packages {
		switch p.Kind {
		case manifest.KindDeluxe:
			return []string{p.ID}
		case manifest.KindBase:
			if base == "" {
				base = p.ID
			}
		}
	}
	if base != "" {
		return []string{base}
	}
	return nil
}

func downloadFailure(res download.Result) error {
	errs := make([]error, 0, len(res.Failed))
	for _, id := range res.Failed {
		if err, ok := res.Errors[id]; ok && err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return fmt.Errorf("download failed for %v", res.Failed)
	}
	return errors.Join(errs...)
}
