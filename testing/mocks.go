package testing

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func serveBytes(w http.ResponseWriter, r *http.Request, data []byte) {
	http.ServeContent(w, r, "archive.zip", time.Unix(0, 0), bytes.NewReader(data))
}

// MockReleaseServer serves a release manifest and package archives the way
// a release mirror would, recording every request it sees.
type MockReleaseServer struct {
	*httptest.Server

	mu       sync.Mutex
	manifest []byte
	archives map[string][]byte
	failures map[string]int // Remaining forced failures per path
	failCode int
	requests []MockRequest
}

// MockRequest records a request made to the mock server
type MockRequest struct {
	Method string
	Path   string
	Range  string
}

// NewMockReleaseServer creates a release server with no content configured
func NewMockReleaseServer(t *testing.T) *MockReleaseServer {
	t.Helper()

	mock := &MockReleaseServer{
		archives: make(map[string][]byte),
		failures: make(map[string]int),
		failCode: http.StatusInternalServerError,
	}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))
	t.Cleanup(mock.Server.Close)
	return mock
}

func (m *MockReleaseServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Range:  r.Header.Get("Range"),
	})
	if n := m.failures[r.URL.Path]; n > 0 {
		m.failures[r.URL.Path] = n - 1
		code := m.failCode
		m.mu.Unlock()
		http.Error(w, http.StatusText(code), code)
		return
	}
	manifest := m.manifest
	archive, ok := m.archives[r.URL.Path]
	m.mu.Unlock()

	switch {
	case r.URL.Path == "/manifest.json":
		if manifest == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(manifest)
	case ok:
		// http.ServeContent handles Range requests, which resumed
		// downloads rely on
		serveBytes(w, r, archive)
	default:
		http.NotFound(w, r)
	}
}

// SetManifest configures the manifest document served at /manifest.json
func (m *MockReleaseServer) SetManifest(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifest = data
}

// AddArchive serves an archive at /packages/<id>.zip and returns its URL
func (m *MockReleaseServer) AddArchive(id string, data []byte) string {
	path := "/packages/" + id + ".zip"
	m.mu.Lock()
	m.archives[path] = data
	m.mu.Unlock()
	return m.URL + path
}

// ManifestURL returns the URL the fetcher should use
func (m *MockReleaseServer) ManifestURL() string {
	return m.URL + "/manifest.json"
}

// FailNext makes the next n requests to a path fail with the given status
func (m *MockReleaseServer) FailNext(path string, n, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = n
	m.failCode = statusCode
}

// RequestCount returns the number of requests made to a path
func (m *MockReleaseServer) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, req := range m.requests {
		if req.Path == path {
			count++
		}
	}
	return count
}

// RangeRequests returns the Range headers seen for a path, empty ones
// excluded
func (m *MockReleaseServer) RangeRequests(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, req := range m.requests {
		if req.Path == path && req.Range != "" {
			out = append(out, req.Range)
		}
	}
	return out
}
