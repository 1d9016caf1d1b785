// Package download performs concurrent, resumable, progress-reporting
// downloads of resolved packages. Tasks are owned by the Manager; consumers
// observe copied snapshots only.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/monika-after-story/installer/internal/resolve"
	"github.com/monika-after-story/installer/internal/verify"
)

// Outcome is the terminal result of a Manager run
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomePartialFailure
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePartialFailure:
		return "partial_failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result summarizes a completed run. Failed holds mandatory package ids
// whose download exhausted retries; Warnings holds optional package ids that
// failed, which do not fail the run.
type Result struct {
	Outcome  Outcome
	Failed   []string
	Warnings []string
	Errors   map[string]error
}

// Config tunes the download manager
type Config struct {
	Concurrency    int
	Retries        int
	Backoff        time.Duration
	RequestTimeout time.Duration
}

const (
	defaultConcurrency      = 3
	defaultRetries          = 3
	defaultBackoff          = 500 * time.Millisecond
	defaultRequestTimeout   = 30 * time.Minute
	defaultProgressInterval = 200 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Retries < 0 {
		c.Retries = defaultRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Manager downloads resolved packages with bounded parallelism, retries
// transient failures with backoff, resumes partial files when the server
// honors range requests, and verifies each artifact before marking it done.
type Manager struct {
	cfg    Config
	client *grab.Client
	logger *slog.Logger
	events chan Snapshot

	mu    sync.Mutex
	tasks map[string]*task
	order []string
}

// NewManager creates a download manager
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	client := grab.NewClient()
	client.UserAgent = "mas-installer"
	return &Manager{
		cfg:    cfg.withDefaults(),
		client: client,
		logger: logger,
		events: make(chan Snapshot, 128),
		tasks:  make(map[string]*task),
	}
}

// Events returns the task progress stream. Sends never block: a slow
// consumer misses intermediate snapshots, never terminal ones observed via
// Snapshots or the Result.
func (m *Manager) Events() <-chan Snapshot {
	return m.events
}

// Snapshots returns a point-in-time copy of every task's progress, in
// scheduling order.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tasks[id].snapshot())
	}
	return out
}

// Run downloads every task into destDir and blocks until all tasks reach a
// terminal status or ctx is cancelled. Mandatory tasks are scheduled before
// optional ones; completion order among running tasks is unordered. On
// cancellation partial files stay on disk for a later resume.
func (m *Manager) Run(ctx context.Context, specs []resolve.Task, destDir string) (Result, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create download directory: %w", err)
	}

	m.mu.Lock()
	m.tasks = make(map[string]*task, len(specs))
	m.order = m.order[:0]
	for _, spec := range specs {
		t := &task{
			id:     uuid.NewString(),
			spec:   spec,
			dest:   ArtifactPath(destDir, spec.PackageID),
			status: StatusPending,
			size:   spec.Size,
		}
		m.tasks[spec.PackageID] = t
		m.order = append(m.order, spec.PackageID)
	}
	m.mu.Unlock()

	for _, s := range m.Snapshots() {
		m.emit(s)
	}

	sem := semaphore.NewWeighted(int64(m.cfg.Concurrency))
	var wg sync.WaitGroup

	for _, id := range m.order {
		t := m.tasks[id]
		// Acquiring in plan order keeps mandatory packages ahead of
		// spritepacks on a saturated pool.
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			defer sem.Release(1)
			m.runTask(ctx, t)
		}(t)
	}
	wg.Wait()

	m.mu.Lock()
	for _, t := range m.tasks {
		if !t.status.Terminal() {
			t.status = StatusCancelled
			m.emitLocked(t)
		}
	}
	m.mu.Unlock()

	return m.result(ctx), nil
}

func (m *Manager) result(ctx context.Context) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := Result{Errors: make(map[string]error)}
	for _, id := range m.order {
		t := m.tasks[id]
		if t.status != StatusFailed {
			continue
		}
		res.Errors[id] = t.err
		if t.spec.Mandatory {
			res.Failed = append(res.Failed, id)
		} else {
			res.Warnings = append(res.Warnings, id)
		}
	}

	switch {
	case ctx.Err() != nil:
		res.Outcome = OutcomeCancelled
	case len(res.Failed) > 0:
		res.Outcome = OutcomePartialFailure
	default:
		res.Outcome = OutcomeCompleted
	}
	return res
}

func (m *Manager) runTask(ctx context.Context, t *task) {
	m.setStatus(t, StatusInProgress)

	err := m.download(ctx, t)
	if err == nil {
		err = m.verifyArtifact(ctx, t)
	}

	switch {
	case err == nil:
		m.setStatus(t, StatusVerified)
		m.logger.Info("package downloaded", "package", t.spec.PackageID, "bytes", t.bytesDone)
	case ctx.Err() != nil:
		m.setStatus(t, StatusCancelled)
		m.logger.Info("download cancelled", "package", t.spec.PackageID)
	default:
		m.mu.Lock()
		t.err = err
		m.mu.Unlock()
		m.setStatus(t, StatusFailed)
		m.logger.Error("download failed", "package", t.spec.PackageID, "error", err)
	}
}

// download runs the retry loop around single transfers, rotating across
// mirror URLs between attempts.
func (m *Manager) download(ctx context.Context, t *task) error {
	backoff := m.cfg.Backoff
	var lastErr error

	for attempt := 0; attempt <= m.cfg.Retries; attempt++ {
		if attempt > 0 {
			m.logger.Debug("retrying download",
				"package", t.spec.PackageID,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		m.mu.Lock()
		t.attempts++
		m.mu.Unlock()

		url := t.spec.URLs[attempt%len(t.spec.URLs)]
		err := m.transfer(ctx, t, url)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = classify(t.spec.PackageID, err)
	}

	return lastErr
}

// transfer performs one grab request, polling progress into the task until
// the response completes. Partial destination files are resumed via range
// requests; when the server ignores the range, grab restarts from zero.
func (m *Manager) transfer(ctx context.Context, t *task, url string) error {
	req, err := grab.NewRequest(t.dest, url)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	reqCtx := ctx
	if m.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}
	req = req.WithContext(reqCtx)

	resp := m.client.Do(req)

	ticker := time.NewTicker(defaultProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.updateProgress(t, resp)
		case <-resp.Done:
			m.updateProgress(t, resp)
			if err := resp.Err(); err != nil {
				if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode >= 400 {
					return fmt.Errorf("server returned HTTP %d: %w", resp.HTTPResponse.StatusCode, err)
				}
				return err
			}
			return nil
		}
	}
}

func (m *Manager) updateProgress(t *task, resp *grab.Response) {
	m.mu.Lock()
	t.bytesDone = resp.BytesComplete()
	if size := resp.Size(); size > 0 {
		t.size = size
	}
	m.emitLocked(t)
	m.mu.Unlock()
}

// verifyArtifact checksums the downloaded archive. A mismatch triggers
// exactly one automatic re-download; a second mismatch is terminal.
func (m *Manager) verifyArtifact(ctx context.Context, t *task) error {
	m.setStatus(t, StatusVerifying)

	err := verify.File(t.dest, t.spec.SHA256)
	if err == nil {
		return nil
	}
	var mismatch *verify.MismatchError
	if !errors.As(err, &mismatch) {
		return classify(t.spec.PackageID, err)
	}

	m.logger.Warn("checksum mismatch, re-downloading",
		"package", t.spec.PackageID,
		"want", mismatch.Want,
		"got", mismatch.Got,
	)
	if err := os.Remove(t.dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard corrupt artifact: %w", err)
	}

	m.mu.Lock()
	t.bytesDone = 0
	m.mu.Unlock()
	m.setStatus(t, StatusInProgress)
	if err := m.download(ctx, t); err != nil {
		return err
	}

	m.setStatus(t, StatusVerifying)
	if err := verify.File(t.dest, t.spec.SHA256); err != nil {
		return &Error{Kind: KindChecksumMismatch, PackageID: t.spec.PackageID, Err: err}
	}
	return nil
}

func (m *Manager) setStatus(t *task, s Status) {
	m.mu.Lock()
	t.status = s
	m.emitLocked(t)
	m.mu.Unlock()
}

func (m *Manager) emitLocked(t *task) {
	m.emit(t.snapshot())
}

func (m *Manager) emit(s Snapshot) {
	select {
	case m.events <- s:
	default:
		// Slow consumer, drop the intermediate snapshot
	}
}

func classify(packageID string, err error) *Error {
	kind := KindTransport

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNRESET):
		kind = KindConnectionReset
	case isServerRejected(err):
		kind = KindServerRejected
	}

	return &Error{Kind: kind, PackageID: packageID, Err: err}
}

func isServerRejected(err error) bool {
	var se grab.StatusCodeError
	if errors.As(err, &se) {
		return int(se) >= http.StatusBadRequest
	}
	return false
}
