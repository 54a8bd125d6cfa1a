package httpbackend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudio/cloudio/internal/backend"
	"github.com/cloudio/cloudio/internal/config"
	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/remote"
	"github.com/cloudio/cloudio/internal/retry"
)

func newTestBackend(t *testing.T, retries int) *Backend {
	t.Helper()
	policy := retry.DefaultPolicy(retries, 0)
	policy.Backoff = retry.Immediate
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(NewClient(config.Default()), policy, logger)
}

func TestValidatorReadsETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("ETag", `"abc"`)
	}))
	defer srv.Close()

	v, err := newTestBackend(t, 0).Validator(context.Background(), remote.MustParse(srv.URL+"/data.txt"))
	require.NoError(t, err)
	assert.Equal(t, remote.NewValidator(`"abc"`), v)
}

func TestValidatorWithoutETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	v, err := newTestBackend(t, 0).Validator(context.Background(), remote.MustParse(srv.URL+"/x"))
	require.NoError(t, err)
	assert.False(t, v.Present())
}

func TestValidatorNonSuccessIsBackendUnavailable(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := newTestBackend(t, 1).Validator(context.Background(), remote.MustParse(srv.URL+"/x"))
		srv.Close()
		require.ErrorIs(t, err, errdefs.ErrBackendUnavailable, "status %d", status)
	}
}

func TestOpenRetriesTransientStatuses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()

	obj, err := newTestBackend(t, 5).Open(context.Background(), remote.MustParse(srv.URL+"/x"))
	require.NoError(t, err)
	defer obj.Body.Close()

	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, int64(7), obj.Size)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestOpenExhaustedIsTransferFailed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	_, err := newTestBackend(t, 2).Open(context.Background(), remote.MustParse(srv.URL+"/x"))
	require.ErrorIs(t, err, errdefs.ErrTransferFailed)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestOpenNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestBackend(t, 0).Open(context.Background(), remote.MustParse(srv.URL+"/x"))
	require.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestWritesAreUnsupported(t *testing.T) {
	b := newTestBackend(t, 0)
	ref := remote.MustParse("https://example.org/x")
	require.ErrorIs(t, b.Put(context.Background(), ref, nil, 0), errdefs.ErrUnsupportedMode)
	require.ErrorIs(t, b.Delete(context.Background(), ref), errdefs.ErrUnsupportedMode)
	_, err := b.List(context.Background(), ref)
	require.ErrorIs(t, err, errdefs.ErrUnsupportedMode)
	require.True(t, backend.IsReadOnly(b))
}

func TestNewClientUsesConfigTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.UpstreamTimeout = config.Duration(45 * time.Second)

	client := NewClient(cfg)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, transport.ResponseHeaderTimeout)
	assert.Zero(t, client.Timeout)
}
