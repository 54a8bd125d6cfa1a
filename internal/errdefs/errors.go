// Package errdefs holds the error taxonomy shared by the cache, backends,
// fetcher and publisher. Backend failures are translated into these sentinels
// at the component boundary so callers can rely on errors.Is regardless of
// which transport produced them.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 本地路径、缓存条目或远端对象不存在。
	ErrNotFound = errors.New("not found")
	// ErrInvalidLocation 对象存储地址缺少 bucket 或 key。
	ErrInvalidLocation = errors.New("invalid location")
	// ErrInvalidTarget 既不是本地路径也不是受支持的远端 URL。
	ErrInvalidTarget = errors.New("invalid target")
	// ErrBackendUnavailable 元数据探测返回非 404 的失败。
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTransferFailed 下载耗尽重试次数或被中断。
	ErrTransferFailed = errors.New("transfer failed")
	// ErrPublishFailed 暂存后上传失败，暂存文件被保留。
	ErrPublishFailed = errors.New("publish failed")
	// ErrUnsupportedMode 远端目标不支持的打开模式或操作。
	ErrUnsupportedMode = errors.New("unsupported mode")
	// ErrCacheInvariant promote 成功但随后的 lookup 仍未命中。
	ErrCacheInvariant = errors.New("cache invariant violation")
)

// OpError records the operation and target that produced an error.
type OpError struct {
	Op     string
	Target string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Wrap 为 err 附加操作与目标信息；err 为 nil 时返回 nil。
func Wrap(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Target: target, Err: err}
}

// PublishError is returned when an upload fails after staging. The staged
// content is left at StagingPath for manual recovery.
type PublishError struct {
	Target      string
	StagingPath string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s failed (staged content kept at %s): %v", e.Target, e.StagingPath, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Is makes every PublishError match ErrPublishFailed.
func (e *PublishError) Is(target error) bool {
	return target == ErrPublishFailed
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
