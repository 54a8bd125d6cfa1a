package cloudio

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudio/cloudio/internal/backend"
	"github.com/cloudio/cloudio/internal/backend/httpbackend"
	"github.com/cloudio/cloudio/internal/config"
	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/metrics"
	"github.com/cloudio/cloudio/internal/remote"
	"github.com/cloudio/cloudio/internal/retry"
)

// objectStore 是内存中的对象存储后端，记录每次调用。
type objectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   []string
	putErr  error
	// onPut 在 Put 读取正文之前调用，用于观察暂存目录。
	onPut func(ref remote.Ref)
}

func newObjectStore() *objectStore {
	return &objectStore{objects: make(map[string][]byte)}
}

func (s *objectStore) record(op string, ref remote.Ref) {
	s.mu.Lock()
	s.calls = append(s.calls, op+" "+ref.Location())
	s.mu.Unlock()
}

func (s *objectStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *objectStore) Object(loc string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[loc]
	return data, ok
}

func (s *objectStore) Name() string             { return "s3" }
func (s *objectStore) Schemes() []remote.Scheme { return []remote.Scheme{remote.SchemeS3} }

func (s *objectStore) Validator(_ context.Context, ref remote.Ref) (remote.Validator, error) {
	if _, _, err := remote.SplitObjectLocation(ref); err != nil {
		return remote.NoValidator, err
	}
	s.record("head", ref)
	data, ok := s.Object(ref.Location())
	if !ok {
		return remote.NoValidator, errdefs.ErrNotFound
	}
	sum := md5.Sum(data)
	return remote.NewValidator(hex.EncodeToString(sum[:])), nil
}

func (s *objectStore) Open(_ context.Context, ref remote.Ref) (*backend.Object, error) {
	if _, _, err := remote.SplitObjectLocation(ref); err != nil {
		return nil, err
	}
	s.record("get", ref)
	data, ok := s.Object(ref.Location())
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	return &backend.Object{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (s *objectStore) Put(_ context.Context, ref remote.Ref, body io.ReadSeeker, size int64) error {
	if _, _, err := remote.SplitObjectLocation(ref); err != nil {
		return err
	}
	s.record("put", ref)
	if s.onPut != nil {
		s.onPut(ref)
	}
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	s.mu.Lock()
	s.objects[ref.Location()] = data
	s.mu.Unlock()
	return nil
}

func (s *objectStore) CheckLocation(ref remote.Ref) error {
	_, _, err := remote.SplitObjectLocation(ref)
	return err
}

func (s *objectStore) Delete(ctx context.Context, ref remote.Ref) error {
	_, target, err := remote.SplitObjectLocation(ref)
	if err != nil {
		return err
	}
	listed, err := s.List(ctx, ref)
	if err != nil {
		return err
	}
	var keys []string
	for _, k := range listed {
		if backend.Covers(target, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return errdefs.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, "s3://"+ref.Host()+"/"+k)
	}
	return nil
}

func (s *objectStore) List(_ context.Context, ref remote.Ref) ([]string, error) {
	bucket, prefix, err := remote.SplitObjectLocation(ref)
	if err != nil {
		return nil, err
	}
	s.record("list", ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	root := "s3://" + bucket + "/"
	var keys []string
	for loc := range s.objects {
		if strings.HasPrefix(loc, root+prefix) {
			keys = append(keys, strings.TrimPrefix(loc, root))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// origin 是带 ETag 的 HTTP 测试源站。
type origin struct {
	*httptest.Server
	heads atomic.Int32
	gets  atomic.Int32

	mu   sync.Mutex
	etag string
	body string
	// beforeBody 在 GET 写正文前调用。
	beforeBody func()
}

func newOrigin(t *testing.T, etag, body string) *origin {
	t.Helper()
	o := &origin{etag: etag, body: body}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		etag, body, before := o.etag, o.body, o.beforeBody
		o.mu.Unlock()

		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		switch r.Method {
		case http.MethodHead:
			o.heads.Add(1)
		case http.MethodGet:
			o.gets.Add(1)
			if before != nil {
				before()
			}
			w.Header().Set("Content-Length", fmt.Sprint(len(body)))
			io.WriteString(w, body)
		}
	}))
	t.Cleanup(o.Server.Close)
	return o
}

func (o *origin) set(etag, body string) {
	o.mu.Lock()
	o.etag, o.body = etag, body
	o.mu.Unlock()
}

type fixture struct {
	client  *Client
	cfg     config.Config
	store   *objectStore
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, httpClient *http.Client) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	cfg.UploadTmpDir = t.TempDir()

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	policy := retry.DefaultPolicy(2, 0)
	policy.Backoff = retry.Immediate

	store := newObjectStore()
	m := metrics.New()
	client := New(config.NewRuntime(cfg),
		WithBackends(httpbackend.New(httpClient, policy, nil), store),
		WithMetrics(m),
	)
	return &fixture{client: client, cfg: cfg, store: store, metrics: m}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}
