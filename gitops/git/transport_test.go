package git_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/tagpromoter/gitops/git"
)

func fastRetry(retries int) git.RetryConfig {
	return git.RetryConfig{
		MaxRetries: retries,
		WaitMin:    time.Millisecond,
		WaitMax:    5 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestNewHTTPClient_retries_transient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)

				return
			}

			w.WriteHeader(http.StatusOK)
		},
	))
	defer srv.Close()

	client := git.NewHTTPClient(fastRetry(5), nil)

	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodGet, srv.URL, nil,
	)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewHTTPClient_gives_up_after_max(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	))
	defer srv.Close()

	client := git.NewHTTPClient(fastRetry(2), nil)

	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodGet, srv.URL, nil,
	)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close() //nolint:errcheck

	// The final response is passed through so the
	// caller can classify it.
	assert.Equal(
		t, http.StatusServiceUnavailable, resp.StatusCode,
	)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewHTTPClient_does_not_retry_client_errors(
	t *testing.T,
) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		},
	))
	defer srv.Close()

	client := git.NewHTTPClient(fastRetry(5), nil)

	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodGet, srv.URL, nil,
	)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}
