// Package cloudio gives uniform local-file access to local paths and remote
// objects. Reads of remote objects go through an on-disk cache keyed by
// location and validator; writes are staged locally and published with a
// single upload when the handle is closed.
package cloudio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/cloudio/cloudio/internal/backend"
	"github.com/cloudio/cloudio/internal/backend/httpbackend"
	"github.com/cloudio/cloudio/internal/backend/s3backend"
	"github.com/cloudio/cloudio/internal/cache"
	"github.com/cloudio/cloudio/internal/config"
	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/fetch"
	"github.com/cloudio/cloudio/internal/logging"
	"github.com/cloudio/cloudio/internal/metrics"
	"github.com/cloudio/cloudio/internal/publish"
	"github.com/cloudio/cloudio/internal/remote"
	"github.com/cloudio/cloudio/internal/retry"
)

// Client 是读写远端对象的统一入口。配置在每次调用开始时从 Runtime 读取，
// 因此 Runtime.With 的临时覆盖对其作用域内的调用立即生效。
type Client struct {
	runtime  *config.Runtime
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	fixed    *backend.Registry
	progress func(remote.Ref) fetch.ProgressFunc

	mu         sync.Mutex
	registries map[string]*backend.Registry

	flights singleflight.Group
}

// Option 定制 Client。
type Option func(*Client)

// WithLogger sets the logger used by the client and its components.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records cache and publish activity into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBackends replaces the default HTTP and S3 backends.
func WithBackends(backends ...backend.Backend) Option {
	return func(c *Client) { c.fixed = backend.NewRegistry(backends...) }
}

// WithProgress overrides how fetch progress is reported.
func WithProgress(fn func(ref remote.Ref) fetch.ProgressFunc) Option {
	return func(c *Client) { c.progress = fn }
}

// New 创建 Client。runtime 为 nil 时使用 config.Default()。
func New(runtime *config.Runtime, opts ...Option) *Client {
	if runtime == nil {
		runtime = config.NewRuntime(config.Default())
	}
	c := &Client{
		runtime:    runtime,
		registries: make(map[string]*backend.Registry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c
}

// Runtime returns the configuration holder shared by all calls.
func (c *Client) Runtime() *config.Runtime {
	return c.runtime
}

// Metrics returns the metrics sink, possibly nil.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Backends 返回当前配置下的后端注册表。
func (c *Client) Backends() *backend.Registry {
	return c.registry(c.runtime.Current())
}

// registry 按配置中与传输相关的字段缓存注册表，覆盖 s3_profile 等键时得到独立的客户端。
func (c *Client) registry(cfg config.Config) *backend.Registry {
	if c.fixed != nil {
		return c.fixed
	}

	fingerprint := fmt.Sprintf("%s|%s|%s|%s|%t|%d|%d|%d",
		cfg.S3Mode(), cfg.S3AccessKeyID, cfg.S3Region, cfg.S3Endpoint, cfg.S3ForcePathStyle,
		cfg.MaxRetries, cfg.InitialBackoff, cfg.UpstreamTimeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	if reg, ok := c.registries[fingerprint]; ok {
		return reg
	}

	policy := retry.DefaultPolicy(cfg.MaxRetries, cfg.InitialBackoff.DurationValue())
	logger := c.logger
	reg := backend.NewRegistry(
		httpbackend.New(httpbackend.NewClient(cfg), policy, logger),
		s3backend.NewLazy(func(ctx context.Context) (s3backend.API, error) {
			return s3backend.NewClient(ctx, cfg, logger)
		}, logger),
	)
	c.registries[fingerprint] = reg
	return reg
}

// env 汇集一次调用所需的组件，全部基于同一份配置快照。
type env struct {
	cfg      config.Config
	backends *backend.Registry
}

func (c *Client) snapshot() env {
	cfg := c.runtime.Current()
	return env{cfg: cfg, backends: c.registry(cfg)}
}

func (c *Client) classify(e env, target string) (remote.Target, error) {
	return remote.Classify(target, e.backends)
}

func (c *Client) publisher(e env) *publish.Publisher {
	return publish.New(e.backends, publish.Options{
		TmpDir: e.cfg.UploadTmpDir,
		Logger: c.logger,
		OnFinish: func(_ remote.Ref, state publish.State) {
			c.metrics.Published(state.String())
		},
	})
}

// IsURLOrExistingFile reports whether target is a supported remote URL or an
// existing local path.
func (c *Client) IsURLOrExistingFile(target string) bool {
	return remote.IsURLOrExistingFile(target, c.snapshot().backends)
}

// CachedPath 返回可读取 target 内容的本地路径。本地路径原样返回（不存在时 ErrNotFound）；
// 远端对象按 location 与 validator 命中缓存，未命中时下载到暂存文件后再提升为缓存条目。
func (c *Client) CachedPath(ctx context.Context, target string) (string, error) {
	e := c.snapshot()
	t, err := c.classify(e, target)
	if err != nil {
		return "", err
	}
	if t.Kind == remote.KindLocal {
		if _, err := os.Stat(t.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", errdefs.Wrap("cached_path", t.Path, errdefs.ErrNotFound)
			}
			return "", err
		}
		return t.Path, nil
	}
	return c.cachedRemote(ctx, e, t.Ref)
}

func (c *Client) cachedRemote(ctx context.Context, e env, ref remote.Ref) (string, error) {
	b, err := e.backends.For(ref)
	if err != nil {
		return "", err
	}

	validator, err := b.Validator(ctx, ref)
	if err != nil {
		return "", err
	}

	store, err := cache.NewStore(e.cfg.CacheDir)
	if err != nil {
		return "", err
	}

	key := cache.DeriveKey(ref.Location(), validator)
	fields := logging.ObjectFields("cached_path", ref.Location(), key)

	entry, err := store.Lookup(ctx, key)
	if err == nil {
		c.metrics.CacheHit(b.Name())
		c.logger.WithFields(fields).Debug("cache_hit")
		return entry.PayloadPath, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return "", err
	}

	c.metrics.CacheMiss(b.Name())
	c.logger.WithFields(fields).Info("cache_miss")

	// 同一进程内对同一条目的并发未命中只下载一次；跨进程的重复下载由 rename 语义兜底。
	// 下载不随任何单个调用方取消，每个调用方只按自己的 ctx 放弃等待。
	flightKey := filepath.Join(store.Dir(), key)
	fill := c.flights.DoChan(flightKey, func() (any, error) {
		return c.populate(context.WithoutCancel(ctx), e, store, b, ref, key, validator)
	})
	select {
	case <-ctx.Done():
		return "", errdefs.Wrap("cached_path", ref.Location(), ctx.Err())
	case res := <-fill:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) populate(ctx context.Context, e env, store cache.Store, b backend.Backend, ref remote.Ref, key string, validator remote.Validator) (string, error) {
	if entry, err := store.Lookup(ctx, key); err == nil {
		return entry.PayloadPath, nil
	}

	fields := logging.ObjectFields("cache_fill", ref.Location(), key)

	staged, err := store.Stage()
	if err != nil {
		return "", errdefs.Wrap("stage", ref.Location(), err)
	}
	stagedPath := staged.Name()
	// promote 成功后暂存文件已被移走，Remove 只清理失败路径上的残留。
	defer os.Remove(stagedPath)

	fetcher := fetch.New(e.backends, fetch.Options{
		ChunkSize: e.cfg.ChunkSize,
		Progress:  c.progress,
		Logger:    c.logger,
	})
	n, err := fetcher.Fetch(ctx, ref, staged)
	if closeErr := staged.Close(); err == nil && closeErr != nil {
		err = errdefs.Wrap("stage", ref.Location(), closeErr)
	}
	if err != nil {
		c.metrics.FetchFailed(b.Name())
		c.logger.WithFields(fields).WithError(err).Warn("fetch_failed")
		return "", err
	}

	if _, err := store.Promote(ctx, key, stagedPath, ref.Location(), validator); err != nil {
		c.metrics.FetchFailed(b.Name())
		return "", errdefs.Wrap("promote", ref.Location(), err)
	}

	entry, err := store.Lookup(ctx, key)
	if err != nil {
		return "", errdefs.Wrap("promote", ref.Location(), fmt.Errorf("%w: entry %s missing after promote: %v", errdefs.ErrCacheInvariant, key, err))
	}

	c.metrics.Fetched(b.Name(), n)
	fields["bytes"] = n
	c.logger.WithFields(fields).Info("cache_filled")
	return entry.PayloadPath, nil
}

// Open 以只读方式打开 target 的本地副本。
func (c *Client) Open(ctx context.Context, target string) (*os.File, error) {
	path, err := c.CachedPath(ctx, target)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Origin 是缓存条目记录的来源。
type Origin struct {
	URL  string
	ETag remote.Validator
}

// ResolveOrigin 根据缓存键（缓存目录下的文件名）返回其来源地址与 validator。
func (c *Client) ResolveOrigin(ctx context.Context, key string) (Origin, error) {
	store, err := cache.NewStore(c.runtime.Current().CacheDir)
	if err != nil {
		return Origin{}, err
	}
	meta, err := store.ResolveOrigin(ctx, filepath.Base(key))
	if err != nil {
		return Origin{}, err
	}
	return Origin{URL: meta.URL, ETag: meta.ETag}, nil
}
