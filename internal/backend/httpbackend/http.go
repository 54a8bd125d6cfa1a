// Package httpbackend implements the read-only HTTP(S) backend: HEAD for
// validators and streaming GET for bodies, both behind the retry policy.
package httpbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cloudio/cloudio/internal/backend"
	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/remote"
	"github.com/cloudio/cloudio/internal/retry"
)

// Backend 只支持读取；写入、删除与列举返回 ErrUnsupportedMode。
type Backend struct {
	client *http.Client
	policy retry.Policy
	logger *logrus.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New constructs an HTTP backend. The policy's OnRetry hook is chained with
// a warning log line per retry.
func New(client *http.Client, policy retry.Policy, logger *logrus.Logger) *Backend {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Backend{client: client, logger: logger}

	next := policy.OnRetry
	policy.OnRetry = func(attempt, status int, err error) {
		b.logger.WithFields(logrus.Fields{
			"action":  "http_retry",
			"attempt": attempt,
			"status":  status,
		}).WithError(err).Warn("upstream_retry")
		if next != nil {
			next(attempt, status, err)
		}
	}
	b.policy = policy
	return b
}

func (b *Backend) Name() string { return "http" }

// ReadOnly 实现 backend.ReadOnly。
func (b *Backend) ReadOnly() bool { return true }

func (b *Backend) Schemes() []remote.Scheme {
	return []remote.Scheme{remote.SchemeHTTP, remote.SchemeHTTPS}
}

func (b *Backend) Validator(ctx context.Context, ref remote.Ref) (remote.Validator, error) {
	resp, err := b.do(ctx, http.MethodHead, ref)
	if err != nil {
		return remote.NoValidator, errdefs.Wrap("head", ref.Location(), fmt.Errorf("%w: %v", errdefs.ErrBackendUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return remote.NoValidator, errdefs.Wrap("head", ref.Location(),
			fmt.Errorf("%w: HEAD request failed with status code %d", errdefs.ErrBackendUnavailable, resp.StatusCode))
	}

	if values, ok := resp.Header["Etag"]; ok && len(values) > 0 {
		return remote.NewValidator(values[0]), nil
	}
	return remote.NoValidator, nil
}

func (b *Backend) Open(ctx context.Context, ref remote.Ref) (*backend.Object, error) {
	resp, err := b.do(ctx, http.MethodGet, ref)
	if err != nil {
		return nil, errdefs.Wrap("get", ref.Location(), fmt.Errorf("%w: %v", errdefs.ErrTransferFailed, err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, errdefs.Wrap("get", ref.Location(), errdefs.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, errdefs.Wrap("get", ref.Location(),
			fmt.Errorf("%w: GET request failed with status code %d", errdefs.ErrTransferFailed, resp.StatusCode))
	}

	return &backend.Object{Body: resp.Body, Size: resp.ContentLength}, nil
}

func (b *Backend) Put(_ context.Context, ref remote.Ref, _ io.ReadSeeker, _ int64) error {
	return errdefs.Wrap("put", ref.Location(), fmt.Errorf("%w: uploading over http is not supported", errdefs.ErrUnsupportedMode))
}

func (b *Backend) Delete(_ context.Context, ref remote.Ref) error {
	return errdefs.Wrap("delete", ref.Location(), fmt.Errorf("%w: removing over http is not supported", errdefs.ErrUnsupportedMode))
}

func (b *Backend) List(_ context.Context, ref remote.Ref) ([]string, error) {
	return nil, errdefs.Wrap("list", ref.Location(), fmt.Errorf("%w: listing over http is not supported", errdefs.ErrUnsupportedMode))
}

func (b *Backend) do(ctx context.Context, method string, ref remote.Ref) (*http.Response, error) {
	resp, err := b.policy.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, ref.Location(), http.NoBody)
		if err != nil {
			return nil, err
		}
		return b.client.Do(req)
	})
	if err != nil && errors.Is(err, retry.ErrExhausted) {
		b.logger.WithFields(logrus.Fields{
			"action":   "http_" + strings.ToLower(method),
			"location": ref.Location(),
		}).WithError(err).Error("upstream_retries_exhausted")
	}
	return resp, err
}
