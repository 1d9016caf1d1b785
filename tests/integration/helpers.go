// Package integration exercises the full installation pipeline against a
// local release server: manifest fetch, resolution, download, checksum
// verification and extraction, with no component faked except audio.
package integration

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/monika-after-story/installer/internal/audio"
	"github.com/monika-after-story/installer/internal/download"
	"github.com/monika-after-story/installer/internal/manifest"
	"github.com/monika-after-story/installer/internal/state"
	testutil "github.com/monika-after-story/installer/testing"
)

// TestEnvironment is a complete installation setup against a mock release
// server.
type TestEnvironment struct {
	T           *testing.T
	Server      *testutil.MockReleaseServer
	TargetDir   string
	DownloadDir string
	StateFile   string
}

// SetupTestEnvironment creates the server and working directories
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	return &TestEnvironment{
		T:           t,
		Server:      testutil.NewMockReleaseServer(t),
		TargetDir:   testutil.GameDir(t),
		DownloadDir: t.TempDir(),
		StateFile:   filepath.Join(t.TempDir(), "state.json"),
	}
}

// PublishPackage builds a zip from files, hosts it on the server and
// returns the manifest entry describing it.
func (e *TestEnvironment) PublishPackage(id, kind string, optional bool, files map[string]string) testutil.PackageSpec {
	e.T.Helper()

	archive := testutil.ZipArchive(e.T, files)
	url := e.Server.AddArchive(id, archive.Data)
	return testutil.PackageSpec{
		ID:       id,
		Kind:     kind,
		URL:      url,
		Size:     int64(len(archive.Data)),
		SHA256:   archive.SHA256,
		Optional: optional,
	}
}

// Publish hosts a manifest for the given packages
func (e *TestEnvironment) Publish(version string, packages ...testutil.PackageSpec) {
	e.T.Helper()
	e.Server.SetManifest(testutil.ManifestJSON(e.T, version, packages...))
}

// NewMachine builds a machine wired to the environment with real
// components. Audio stays silent.
func (e *TestEnvironment) NewMachine() *state.Machine {
	e.T.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	fetcher := manifest.NewFetcher(nil, logger)
	fetcher.SetRetries(2)
	fetcher.SetBackoff(time.Millisecond)

	downloads := download.NewManager(download.Config{
		Concurrency: 2,
		Retries:     2,
		Backoff:     time.Millisecond,
	}, logger)

	m := state.New(state.Config{
		ManifestURL: e.Server.ManifestURL(),
		DownloadDir: e.DownloadDir,
		StateFile:   e.StateFile,
	}, state.Deps{
		Fetcher:   fetcher,
		Downloads: downloads,
		Sink:      audio.NopSink{},
		Logger:    logger,
	})
	m.SetTarget(e.TargetDir)
	return m
}

// TargetPath resolves a path inside the installation directory
func (e *TestEnvironment) TargetPath(parts ...string) string {
	return filepath.Join(append([]string{e.TargetDir}, parts...)...)
}
