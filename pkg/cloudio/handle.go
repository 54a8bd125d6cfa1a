package cloudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/logging"
	"github.com/cloudio/cloudio/internal/publish"
	"github.com/cloudio/cloudio/internal/remote"
)

// Handle 是 OpenFile 返回的文件句柄。Close 正常结束（远端写入时触发上传），
// Abort 放弃（远端写入时丢弃暂存内容）。
type Handle interface {
	io.Reader
	io.Writer
	io.Closer
	// Name 返回底层本地文件路径。
	Name() string
	// Abort 关闭句柄且不发布任何内容。
	Abort() error
}

// 远端目标不支持的打开标志。
const unsupportedRemoteFlags = os.O_APPEND | os.O_EXCL | os.O_RDWR

const writeFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

// Create 以写入（截断）模式打开 target。
func (c *Client) Create(ctx context.Context, target string) (Handle, error) {
	return c.OpenFile(ctx, target, writeFlags, 0o666)
}

// OpenFile 打开本地路径或远端对象。远端对象读取走缓存；写入先落到暂存文件，
// Close 时上传。远端目标使用 O_APPEND、O_EXCL 或 O_RDWR 时返回 ErrUnsupportedMode。
func (c *Client) OpenFile(ctx context.Context, target string, flag int, perm os.FileMode) (Handle, error) {
	e := c.snapshot()
	t, err := c.classify(e, target)
	if err != nil {
		return nil, err
	}

	if t.Kind == remote.KindLocal {
		f, err := os.OpenFile(t.Path, flag, perm)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errdefs.Wrap("open", t.Path, fmt.Errorf("%w: %w", errdefs.ErrNotFound, err))
			}
			return nil, err
		}
		return fileHandle{f}, nil
	}

	if flag&unsupportedRemoteFlags != 0 {
		return nil, errdefs.Wrap("open", t.Ref.Location(),
			fmt.Errorf("%w: flag %#o on a remote object", errdefs.ErrUnsupportedMode, flag))
	}

	if flag&writeFlags == 0 {
		path, err := c.cachedRemote(ctx, e, t.Ref)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return fileHandle{f}, nil
	}

	staging, err := c.publisher(e).Stage(ctx, t.Ref)
	if err != nil {
		return nil, err
	}
	return &stagedHandle{ctx: ctx, staging: staging}, nil
}

// WithFile 在 fn 期间持有 target 的句柄：fn 返回错误或 panic 时 Abort，否则 Close。
func (c *Client) WithFile(ctx context.Context, target string, flag int, fn func(Handle) error) error {
	h, err := c.OpenFile(ctx, target, flag, 0o666)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			h.Abort()
			panic(r)
		}
	}()

	if err := fn(h); err != nil {
		h.Abort()
		return err
	}
	return h.Close()
}

// Upload 将本地文件或目录上传到远端 target。目录按相对路径平铺上传，
// 仅对象存储支持；本地目标返回 ErrUnsupportedMode。
func (c *Client) Upload(ctx context.Context, target, localPath string) error {
	e := c.snapshot()
	t, err := c.classify(e, target)
	if err != nil {
		return err
	}
	if t.Kind == remote.KindLocal {
		return errdefs.Wrap("upload", target, fmt.Errorf("%w: upload target must be remote", errdefs.ErrUnsupportedMode))
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errdefs.Wrap("upload", localPath, errdefs.ErrNotFound)
		}
		return err
	}

	pub := c.publisher(e)
	if !info.IsDir() {
		return pub.Upload(ctx, t.Ref, localPath)
	}
	if t.Ref.Scheme() != remote.SchemeS3 {
		return errdefs.Wrap("upload", t.Ref.Location(), fmt.Errorf("%w: directory upload requires an object store", errdefs.ErrUnsupportedMode))
	}

	uploaded := 0
	err = filepath.WalkDir(localPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		ref, err := t.Ref.Join(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if err := pub.Upload(ctx, ref, path); err != nil {
			return err
		}
		uploaded++
		return nil
	})

	fields := logging.ObjectFields("upload_dir", t.Ref.Location(), "")
	fields["files"] = uploaded
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("upload_dir_failed")
		return err
	}
	c.logger.WithFields(fields).Info("upload_dir_complete")
	return nil
}

// Remove 删除远端 target 前缀下的全部对象；本地路径与只读后端返回 ErrUnsupportedMode。
func (c *Client) Remove(ctx context.Context, target string) error {
	e := c.snapshot()
	t, err := c.classify(e, target)
	if err != nil {
		return err
	}
	if t.Kind == remote.KindLocal {
		return errdefs.Wrap("remove", t.Path, fmt.Errorf("%w: removing local paths is not supported", errdefs.ErrUnsupportedMode))
	}

	b, err := e.backends.For(t.Ref)
	if err != nil {
		return err
	}
	return b.Delete(ctx, t.Ref)
}

// fileHandle 包装本地文件；Abort 等同于 Close。
type fileHandle struct {
	*os.File
}

func (h fileHandle) Abort() error {
	return h.File.Close()
}

// stagedHandle 是远端写入句柄。io.Closer 不接受 context，因此保存打开时的 ctx 供 Commit 使用。
type stagedHandle struct {
	ctx     context.Context
	staging *publish.Staging
}

func (h *stagedHandle) Read([]byte) (int, error) {
	return 0, errdefs.Wrap("read", h.staging.Target().Location(),
		fmt.Errorf("%w: handle is write-only", errdefs.ErrUnsupportedMode))
}

func (h *stagedHandle) Write(p []byte) (int, error) { return h.staging.Write(p) }
func (h *stagedHandle) Name() string                { return h.staging.Name() }
func (h *stagedHandle) Close() error                { return h.staging.Commit(h.ctx) }
func (h *stagedHandle) Abort() error                { return h.staging.Abort() }
