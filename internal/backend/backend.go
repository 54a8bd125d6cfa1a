// Package backend defines the capability interface every remote transport
// implements, and a registry that dispatches a remote.Ref to the variant
// registered for its scheme. Adding a transport means adding a variant and
// registering it; nothing else branches on scheme strings.
package backend

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/remote"
)

// Object 是一次流式 GET 的结果，Size 未知时为 -1。
type Object struct {
	Body io.ReadCloser
	Size int64
}

// Backend 是远端存储需要提供的全部能力。实现负责把底层错误翻译为 errdefs 中的哨兵错误。
type Backend interface {
	// Name 用于日志与指标标签。
	Name() string
	// Schemes 返回该实现负责的 URL scheme。
	Schemes() []remote.Scheme
	// Validator 在不下载正文的前提下返回对象的新鲜度标识。
	Validator(ctx context.Context, ref remote.Ref) (remote.Validator, error)
	// Open 以流的方式读取对象正文。
	Open(ctx context.Context, ref remote.Ref) (*Object, error)
	// Put 以整体覆盖的方式写入对象。
	Put(ctx context.Context, ref remote.Ref, body io.ReadSeeker, size int64) error
	// Delete 删除 ref 指向的对象及其 "目录" 下的全部对象，见 Covers。
	Delete(ctx context.Context, ref remote.Ref) error
	// List 返回 ref 前缀下的对象键，按字典序排列。
	List(ctx context.Context, ref remote.Ref) ([]string, error)
}

// ReadOnly 由不支持写入的 Backend 实现，调用方据此在暂存之前拒绝写操作。
type ReadOnly interface {
	ReadOnly() bool
}

// IsReadOnly reports whether b declares itself read-only.
func IsReadOnly(b Backend) bool {
	ro, ok := b.(ReadOnly)
	return ok && ro.ReadOnly()
}

// LocationChecker 由对地址格式有要求的 Backend 实现；写入方在暂存之前调用，
// 使格式错误的地址在创建任何本地文件之前以 ErrInvalidLocation 失败。
type LocationChecker interface {
	CheckLocation(ref remote.Ref) error
}

// CheckLocation validates ref against b when b implements LocationChecker.
func CheckLocation(b Backend, ref remote.Ref) error {
	if lc, ok := b.(LocationChecker); ok {
		return lc.CheckLocation(ref)
	}
	return nil
}

// Covers reports whether Delete on key removes the object stored at
// candidate: the key itself, or anything below key as a directory. A key
// ending in "/" already names a directory. Plain string prefixes such as
// "data" vs "data2.csv" do not match.
func Covers(key, candidate string) bool {
	if strings.HasSuffix(key, "/") {
		return strings.HasPrefix(candidate, key)
	}
	return candidate == key || strings.HasPrefix(candidate, key+"/")
}

// Registry 按 scheme 分发到具体 Backend。
type Registry struct {
	byScheme map[remote.Scheme]Backend
}

// NewRegistry 注册一组 Backend；同一 scheme 后注册者覆盖先注册者。
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{byScheme: make(map[remote.Scheme]Backend)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register 将 b 绑定到它声明的全部 scheme。
func (r *Registry) Register(b Backend) {
	if b == nil {
		return
	}
	for _, scheme := range b.Schemes() {
		r.byScheme[scheme] = b
	}
}

// For 返回负责 ref 的 Backend。
func (r *Registry) For(ref remote.Ref) (Backend, error) {
	if r != nil {
		if b, ok := r.byScheme[ref.Scheme()]; ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: no backend for scheme %q", errdefs.ErrInvalidTarget, ref.Scheme())
}

// Supports 实现 remote.SchemeSet。
func (r *Registry) Supports(scheme remote.Scheme) bool {
	if r == nil {
		return false
	}
	_, ok := r.byScheme[scheme]
	return ok
}

// Schemes 返回已注册的 scheme 列表，供诊断输出。
func (r *Registry) Schemes() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byScheme))
	for scheme := range r.byScheme {
		out = append(out, string(scheme))
	}
	sort.Strings(out)
	return out
}
