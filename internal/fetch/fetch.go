// Package fetch streams remote object bodies into staging files. It never
// writes into a final cache slot: the caller hands it a staging sink and
// promotes the result only after Fetch returns without error.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/cloudio/cloudio/internal/backend"
	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/logging"
	"github.com/cloudio/cloudio/internal/remote"
)

// DefaultChunkSize 单次读写的块大小。
const DefaultChunkSize = 32 * 1024

// ProgressFunc 报告已传输字节数；total 未知时为 -1。
type ProgressFunc func(transferred, total int64)

// Options 控制 Fetcher 的可选行为。
type Options struct {
	ChunkSize int
	// Progress 为 nil 时使用按比例输出 debug 日志的默认实现。
	Progress func(ref remote.Ref) ProgressFunc
	Logger   *logrus.Logger
}

// Fetcher 通过 Registry 选择后端并以固定块大小写入 sink。
type Fetcher struct {
	backends  *backend.Registry
	chunkSize int
	progress  func(ref remote.Ref) ProgressFunc
	logger    *logrus.Logger
}

// New 创建 Fetcher。
func New(backends *backend.Registry, opts Options) *Fetcher {
	f := &Fetcher{
		backends:  backends,
		chunkSize: opts.ChunkSize,
		progress:  opts.Progress,
		logger:    opts.Logger,
	}
	if f.chunkSize <= 0 {
		f.chunkSize = DefaultChunkSize
	}
	if f.logger == nil {
		f.logger = logging.Discard()
	}
	if f.progress == nil {
		f.progress = func(ref remote.Ref) ProgressFunc {
			return LogProgress(f.logger, ref.Location())
		}
	}
	return f
}

// Fetch 将 ref 的正文写入 sink，返回写入的字节数。
// 正文长度已知但实际读到的字节数不符时视为传输失败。
func (f *Fetcher) Fetch(ctx context.Context, ref remote.Ref, sink io.Writer) (int64, error) {
	b, err := f.backends.For(ref)
	if err != nil {
		return 0, err
	}

	obj, err := b.Open(ctx, ref)
	if err != nil {
		return 0, err
	}
	defer obj.Body.Close()

	report := f.progress(ref)
	written, err := copyChunks(ctx, sink, obj.Body, f.chunkSize, obj.Size, report)
	if err != nil {
		return written, err
	}
	if obj.Size >= 0 && written != obj.Size {
		return written, errdefs.Wrap("fetch", ref.Location(),
			fmt.Errorf("%w: expected %d bytes, got %d", errdefs.ErrTransferFailed, obj.Size, written))
	}

	fields := logging.ObjectFields("fetch", ref.Location(), "")
	fields["bytes"] = written
	fields["backend"] = b.Name()
	f.logger.WithFields(fields).Debug("fetch_complete")
	return written, nil
}

// sinkError 区分本地写入失败与远端读取失败。
type sinkError struct{ err error }

func (e sinkError) Error() string { return "write staging: " + e.err.Error() }
func (e sinkError) Unwrap() error { return e.err }

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int, total int64, report ProgressFunc) (int64, error) {
	var copied int64
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, sinkError{wErr}
			}
			if w < n {
				return copied, sinkError{io.ErrShortWrite}
			}
			if report != nil {
				report(copied, total)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return copied, err
			}
			return copied, fmt.Errorf("%w: %v", errdefs.ErrTransferFailed, err)
		}
	}
}
