package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

var (
	// ErrUnreachable means the manifest endpoint could not be reached after
	// the configured number of retries.
	ErrUnreachable = errors.New("manifest endpoint unreachable")

	// ErrMalformedManifest means the endpoint answered but the payload failed
	// schema validation. Never retried: the payload will not change.
	ErrMalformedManifest = errors.New("malformed manifest")
)

const (
	defaultRetries        = 3
	defaultBackoff        = 500 * time.Millisecond
	defaultRequestTimeout = 30 * time.Second
	maxManifestSize       = 4 << 20
)

// Fetcher retrieves the remote version manifest
type Fetcher struct {
	client  *http.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// NewFetcher creates a manifest fetcher. A nil client gets a default with a
// bounded timeout.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:  client,
		retries: defaultRetries,
		backoff: defaultBackoff,
		logger:  logger,
	}
}

// SetRetries overrides the retry count (useful for testing)
func (f *Fetcher) SetRetries(n int) {
	f.retries = n
}

// SetBackoff overrides the initial backoff interval (useful for testing)
func (f *Fetcher) SetBackoff(d time.Duration) {
	f.backoff = d
}

// Fetch retrieves and parses the manifest from the endpoint. Transient
// failures (network errors, 5xx responses) are retried with exponential
// backoff before surfacing ErrUnreachable. A payload that parses but fails
// schema validation surfaces ErrMalformedManifest immediately.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string) (*Manifest, error) {
	backoff := f.backoff
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			f.logger.Debug("retrying manifest fetch",
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		m, err := f.fetchOnce(ctx, endpoint)
		if err == nil {
			f.logger.Info("fetched manifest",
				"version", m.Version,
				"packages", len(m.Packages),
			)
			return m, nil
		}
		if errors.Is(err, ErrMalformedManifest) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

func (f *Fetcher) fetchOnce(ctx context.Context, endpoint string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{fmt.Errorf("failed to fetch manifest: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, &transientError{fmt.Errorf("manifest fetch: HTTP %d", resp.StatusCode)}
	default:
		return nil, fmt.Errorf("manifest fetch: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, &transientError{fmt.Errorf("failed to read manifest body: %w", err)}
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	return m, nil
}
