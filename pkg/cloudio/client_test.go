package cloudio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudio/cloudio/internal/cache"
	"github.com/cloudio/cloudio/internal/config"
	"github.com/cloudio/cloudio/internal/remote"
)

func TestReadTwiceUsesCache(t *testing.T) {
	o := newOrigin(t, `"abc"`, "hello")
	f := newFixture(t, o.Client())
	ctx := context.Background()
	url := o.URL + "/data.txt"

	first, err := f.client.CachedPath(ctx, url)
	require.NoError(t, err)
	assert.EqualValues(t, 1, o.heads.Load())
	assert.EqualValues(t, 1, o.gets.Load())

	second, err := f.client.CachedPath(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 2, o.heads.Load())
	assert.EqualValues(t, 1, o.gets.Load())

	assert.Equal(t, filepath.Join(f.cfg.CacheDir, cache.DeriveKey(url, remote.NewValidator(`"abc"`))), first)
	body, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	raw, err := os.ReadFile(first + ".json")
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, url, meta["url"])
	assert.Equal(t, `"abc"`, meta["etag"])
}

func TestChangedValidatorCreatesNewEntry(t *testing.T) {
	o := newOrigin(t, `"v1"`, "one")
	f := newFixture(t, o.Client())
	ctx := context.Background()
	url := o.URL + "/data.txt"

	p1, err := f.client.CachedPath(ctx, url)
	require.NoError(t, err)
	o.set(`"v2"`, "two")
	p2, err := f.client.CachedPath(ctx, url)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	for path, etag := range map[string]string{p1: `"v1"`, p2: `"v2"`} {
		origin, err := f.client.ResolveOrigin(ctx, filepath.Base(path))
		require.NoError(t, err)
		assert.Equal(t, url, origin.URL)
		assert.Equal(t, etag, origin.ETag.Value())
	}

	body, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(body))
}

func TestMissingValidatorStillCaches(t *testing.T) {
	o := newOrigin(t, "", "plain")
	f := newFixture(t, o.Client())
	url := o.URL + "/plain.txt"

	p, err := f.client.CachedPath(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, cache.DeriveKey(url, remote.NoValidator), filepath.Base(p))

	origin, err := f.client.ResolveOrigin(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, origin.ETag.Present())
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	const readers = 8
	o := newOrigin(t, `"same"`, "shared")
	// GET 等到全部读者都完成 HEAD 后才返回正文。
	allHeaded := make(chan struct{})
	o.beforeBody = func() { <-allHeaded }
	f := newFixture(t, o.Client())
	url := o.URL + "/shared.txt"

	go func() {
		for o.heads.Load() < readers {
			runtime.Gosched()
		}
		close(allHeaded)
	}()

	var wg sync.WaitGroup
	paths := make([]string, readers)
	errs := make([]error, readers)
	for i := range readers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = f.client.CachedPath(context.Background(), url)
		}(i)
	}
	wg.Wait()

	for i := range readers {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
	assert.EqualValues(t, 1, o.gets.Load())
	assert.Equal(t, []string{paths[0], paths[0] + ".json"}, nonHidden(t, f.cfg.CacheDir))
}

func TestCancelledReaderDoesNotFailSharedFetch(t *testing.T) {
	o := newOrigin(t, `"same"`, "shared")
	release := make(chan struct{})
	o.beforeBody = func() { <-release }
	f := newFixture(t, o.Client())
	url := o.URL + "/shared.txt"

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.client.CachedPath(ctx, url)
		first <- err
	}()
	for o.gets.Load() < 1 {
		runtime.Gosched()
	}

	second := make(chan error, 1)
	var path string
	go func() {
		var err error
		path, err = f.client.CachedPath(context.Background(), url)
		second <- err
	}()
	for o.heads.Load() < 2 {
		runtime.Gosched()
	}

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(release)
	require.NoError(t, <-second)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(body))
	assert.EqualValues(t, 1, o.gets.Load())
}

func TestFailedFetchLeavesNoEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"x"`)
		w.Header().Set("Content-Length", "100")
		if r.Method == http.MethodGet {
			// 声明 100 字节但只写出 5 字节后断开。
			io.WriteString(w, "short")
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
		}
	}))
	defer srv.Close()
	f := newFixture(t, srv.Client())

	_, err := f.client.CachedPath(context.Background(), srv.URL+"/data.txt")
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Empty(t, dirEntries(t, f.cfg.CacheDir))

	o := newOrigin(t, `"y"`, "body")
	_, err = f.client.CachedPath(context.Background(), o.URL+"/missing")
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestLocalPaths(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	local := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(local, []byte("local"), 0o644))

	p, err := f.client.CachedPath(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, local, p)

	_, err = f.client.CachedPath(ctx, filepath.Join(dir, "absent.txt"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.client.CachedPath(ctx, "gs://bucket/key")
	require.ErrorIs(t, err, ErrInvalidTarget)
	_, err = f.client.CachedPath(ctx, "")
	require.ErrorIs(t, err, ErrInvalidTarget)

	assert.True(t, f.client.IsURLOrExistingFile(local))
	assert.True(t, f.client.IsURLOrExistingFile("s3://bucket/key"))
	assert.False(t, f.client.IsURLOrExistingFile(filepath.Join(dir, "absent.txt")))
}

func TestObjectStoreReadThrough(t *testing.T) {
	f := newFixture(t, nil)
	f.store.objects["s3://bucket/dir/key.txt"] = []byte("from s3")

	file, err := f.client.Open(context.Background(), "s3://bucket/dir/key.txt")
	require.NoError(t, err)
	defer file.Close()
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "from s3", string(body))

	// 路径清理后折叠的双斜杠会被修复。
	p, err := f.client.CachedPath(context.Background(), "s3:/bucket/dir/key.txt")
	require.NoError(t, err)
	assert.Equal(t, file.Name(), p)

	_, err = f.client.CachedPath(context.Background(), "s3://bucket/dir/nope.txt")
	require.ErrorIs(t, err, ErrNotFound)

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `cloudio_cache_misses_total{backend="s3"} 1`)
	assert.Contains(t, rec.Body.String(), `cloudio_cache_hits_total{backend="s3"} 1`)
	assert.Contains(t, rec.Body.String(), `cloudio_fetched_bytes_total{backend="s3"} 7`)
}

func TestMalformedObjectLocation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.client.CachedPath(context.Background(), "s3:///onlypath")
	require.ErrorIs(t, err, ErrInvalidLocation)
	assert.Empty(t, f.store.Calls())
	assert.Empty(t, dirEntries(t, f.cfg.CacheDir))
}

func TestConfigOverrideRedirectsCache(t *testing.T) {
	f := newFixture(t, nil)
	f.store.objects["s3://bucket/key.txt"] = []byte("x")
	ctx := context.Background()
	other := t.TempDir()

	err := f.client.Runtime().With(map[string]any{"cache_dir": other}, func(_ config.Config) error {
		p, err := f.client.CachedPath(ctx, "s3://bucket/key.txt")
		if err != nil {
			return err
		}
		assert.Equal(t, other, filepath.Dir(p))
		return errors.New("leave scope with an error")
	})
	require.Error(t, err)
	assert.Equal(t, f.cfg.CacheDir, f.client.Runtime().Current().CacheDir)

	p, err := f.client.CachedPath(ctx, "s3://bucket/key.txt")
	require.NoError(t, err)
	assert.Equal(t, f.cfg.CacheDir, filepath.Dir(p))

	require.Error(t, f.client.Runtime().With(map[string]any{"cache_directory": other}, func(config.Config) error {
		t.Fatal("unknown key must be rejected before fn runs")
		return nil
	}))
}

func nonHidden(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	for _, name := range dirEntries(t, dir) {
		if !strings.HasPrefix(name, ".") {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out
}
