package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/monika-after-story/installer/internal/manifest"
	"github.com/monika-after-story/installer/internal/resolve"
	"github.com/monika-after-story/installer/internal/verify"
)

func testConfig() Config {
	return Config{
		Concurrency: 2,
		Retries:     2,
		Backoff:     time.Millisecond,
	}
}

func spec(id, url string, payload []byte, mandatory bool) resolve.Task {
	kind := manifest.KindBase
	if !mandatory {
		kind = manifest.KindSpritepack
	}
	return resolve.Task{
		PackageID: id,
		Name:      id,
		Kind:      kind,
		URLs:      []string{url},
		Size:      int64(len(payload)),
		SHA256:    verify.Sum(payload),
		Mandatory: mandatory,
	}
}

// TestRun_Completed tests a successful multi-package run
func TestRun_Completed(t *testing.T) {
	base := bytes.Repeat([]byte("base-content "), 1024)
	spr := bytes.Repeat([]byte("sprites "), 512)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/base.zip":
			w.Write(base)
		case "/spr.zip":
			w.Write(spr)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	destDir := t.TempDir()
	m := NewManager(testConfig(), nil)

	res, err := m.Run(context.Background(), []resolve.Task{
		spec("base", srv.URL+"/base.zip", base, true),
		spec("spritepack1", srv.URL+"/spr.zip", spr, false),
	}, destDir)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %v, want completed (failed: %v)", res.Outcome, res.Errors)
	}
	if len(res.Failed) != 0 || len(res.Warnings) != 0 {
		t.Errorf("unexpected failures: %v warnings: %v", res.Failed, res.Warnings)
	}

	for _, snap := range m.Snapshots() {
		if snap.Status != StatusVerified {
			t.Errorf("task %s status = %v, want verified", snap.PackageID, snap.Status)
		}
	}

	data, err := os.ReadFile(ArtifactPath(destDir, "base"))
	if err != nil {
		t.Fatalf("failed to read downloaded artifact: %v", err)
	}
	if !bytes.Equal(data, base) {
		t.Error("downloaded artifact differs from served payload")
	}
}

// TestRun_RetriesTransientFailure tests retry with backoff on 5xx
func TestRun_RetriesTransientFailure(t *testing.T) {
	payload := []byte("eventually consistent")
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	m := NewManager(testConfig(), nil)
	res, err := m.Run(context.Background(), []resolve.Task{
		spec("base", srv.URL+"/base.zip", payload, true),
	}, t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %v, want completed after retries (%v)", res.Outcome, res.Errors)
	}

	snaps := m.Snapshots()
	if snaps[0].Attempts < 2 {
		t.Errorf("Attempts = %d, want >= 2", snaps[0].Attempts)
	}
}

// TestRun_MandatoryFailure tests PartialFailure when a mandatory task
// exhausts retries
func TestRun_MandatoryFailure(t *testing.T) {
	good := []byte("good payload")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(good)
	}))
	defer srv.Close()

	m := NewManager(testConfig(), nil)
	res, err := m.Run(context.Background(), []resolve.Task{
		spec("core", srv.URL+"/core.zip", good, true),
		spec("broken-core", srv.URL+"/broken.zip", []byte("never served"), true),
	}, t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomePartialFailure {
		t.Fatalf("Outcome = %v, want partial_failure", res.Outcome)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "broken-core" {
		t.Errorf("Failed = %v, want [broken-core]", res.Failed)
	}

	// The classified failure should be a server rejection
	var derr *Error
	if !errors.As(res.Errors["broken-core"], &derr) {
		t.Fatalf("error for broken-core = %v, want *download.Error", res.Errors["broken-core"])
	}
	if derr.Kind != KindServerRejected {
		t.Errorf("error kind = %v, want server_rejected", derr.Kind)
	}

	// Sibling task is unaffected
	for _, snap := range m.Snapshots() {
		if snap.PackageID == "core" && snap.Status != StatusVerified {
			t.Errorf("core status = %v, want verified", snap.Status)
		}
	}
}

// TestRun_OptionalFailureIsWarning tests that spritepack failures do not
// fail the run
func TestRun_OptionalFailureIsWarning(t *testing.T) {
	base := []byte("the actual game")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/spr") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(base)
	}))
	defer srv.Close()

	m := NewManager(testConfig(), nil)
	res, err := m.Run(context.Background(), []resolve.Task{
		spec("base", srv.URL+"/base.zip", base, true),
		spec("spritepack1", srv.URL+"/spr.zip", []byte("sprites"), false),
	}, t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %v, want completed (optional failure downgrades to warning)", res.Outcome)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "spritepack1" {
		t.Errorf("Warnings = %v, want [spritepack1]", res.Warnings)
	}
	if len(res.Failed) != 0 {
		t.Errorf("Failed = %v, want empty", res.Failed)
	}
}

// TestRun_ResumesPartialFile tests resume from an existing byte offset
func TestRun_ResumesPartialFile(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64 KiB

	var mu sync.Mutex
	var rangeHeaders []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "" {
			mu.Lock()
			rangeHeaders = append(rangeHeaders, rng)
			mu.Unlock()
		}
		http.ServeContent(w, r, "base.zip", time.Now(), bytes.NewReader(payload))
	}))
	defer srv.Close()

	destDir := t.TempDir()
	partial := 1000
	if err := os.WriteFile(ArtifactPath(destDir, "base"), payload[:partial], 0644); err != nil {
		t.Fatalf("failed to seed partial file: %v", err)
	}

	m := NewManager(testConfig(), nil)
	res, err := m.Run(context.Background(), []resolve.Task{
		spec("base", srv.URL+"/base.zip", payload, true),
	}, destDir)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %v, want completed (%v)", res.Outcome, res.Errors)
	}

	data, err := os.ReadFile(ArtifactPath(destDir, "base"))
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("resumed artifact differs from payload")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, rng := range rangeHeaders {
		if strings.HasPrefix(rng, fmt.Sprintf("bytes=%d-", partial)) {
			found = true
		}
	}
	if !found {
		t.Errorf("no ranged request from offset %d observed, got %v", partial, rangeHeaders)
	}
}

// TestRun_Cancellation tests cooperative cancel mid-download
func TestRun_Cancellation(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.WriteHeader(http.StatusOK)
		w.Write(bytes.Repeat([]byte("x"), 4096))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		once.Do(func() { close(started) })
		select {
		case <-r.Context().Done():
		case <-time.After(30 * time.Second):
		}
	}))
	defer srv.Close()

	destDir := t.TempDir()
	m := NewManager(testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, _ := m.Run(ctx, []resolve.Task{
			{PackageID: "big", Name: "big", URLs: []string{srv.URL + "/big.zip"},
				SHA256: strings.Repeat("a", 64), Mandatory: true},
			{PackageID: "queued", Name: "queued", URLs: []string{srv.URL + "/queued.zip"},
				SHA256: strings.Repeat("b", 64), Mandatory: true},
		}, destDir)
		done <- res
	}()

	<-started
	cancel()

	select {
	case res := <-done:
		if res.Outcome != OutcomeCancelled {
			t.Fatalf("Outcome = %v, want cancelled", res.Outcome)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	for _, snap := range m.Snapshots() {
		if !snap.Status.Terminal() {
			t.Errorf("task %s left in non-terminal status %v", snap.PackageID, snap.Status)
		}
		if snap.Status == StatusInProgress {
			t.Errorf("task %s left in_progress after cancel", snap.PackageID)
		}
	}

	// Partial file stays on disk for a later resume
	if _, err := os.Stat(ArtifactPath(destDir, "big")); err != nil {
		t.Errorf("partial file removed on cancel: %v", err)
	}
}

// TestRun_ChecksumMismatch_SingleRedownload tests that a corrupt artifact is
// re-downloaded exactly once before failing
func TestRun_ChecksumMismatch_SingleRedownload(t *testing.T) {
	corrupt := []byte("tampered mirror content")
	var gets atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Write(corrupt)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Retries = 0 // Isolate the verifier's re-download from transport retries
	m := NewManager(cfg, nil)

	res, err := m.Run(context.Background(), []resolve.Task{
		spec("base", srv.URL+"/base.zip", []byte("what the manifest promised"), true),
	}, t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomePartialFailure {
		t.Fatalf("Outcome = %v, want partial_failure", res.Outcome)
	}

	var derr *Error
	if !errors.As(res.Errors["base"], &derr) {
		t.Fatalf("error = %v, want *download.Error", res.Errors["base"])
	}
	if derr.Kind != KindChecksumMismatch {
		t.Errorf("error kind = %v, want checksum_mismatch", derr.Kind)
	}

	if got := gets.Load(); got != 2 {
		t.Errorf("server saw %d GET requests, want 2 (download + single re-download)", got)
	}
}

// TestRun_EmitsProgressEvents tests the event stream carries task progress
func TestRun_EmitsProgressEvents(t *testing.T) {
	payload := bytes.Repeat([]byte("event"), 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	m := NewManager(testConfig(), nil)

	seen := make(map[Status]bool)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for snap := range m.Events() {
			seen[snap.Status] = true
		}
	}()

	if _, err := m.Run(context.Background(), []resolve.Task{
		spec("base", srv.URL+"/base.zip", payload, true),
	}, t.TempDir()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	close(m.events)
	wg.Wait()

	for _, want := range []Status{StatusPending, StatusInProgress, StatusVerifying, StatusVerified} {
		if !seen[want] {
			t.Errorf("event stream never carried status %v", want)
		}
	}
}
