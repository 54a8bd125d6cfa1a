package remote

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cloudio/cloudio/internal/errdefs"
)

// Scheme 远端对象的协议前缀，统一小写。
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeS3    Scheme = "s3"
)

// Ref is a parsed reference to a remote object. Location keeps the exact
// string the caller supplied; it is what cache keys and metadata record.
type Ref struct {
	scheme   Scheme
	location string
	host     string
	path     string
}

// Parse 解析远端 URL；缺少 scheme 或 host 的输入返回 ErrInvalidLocation。
func Parse(raw string) (Ref, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %s: %v", errdefs.ErrInvalidLocation, raw, err)
	}
	if u.Scheme == "" {
		return Ref{}, fmt.Errorf("%w: %s: missing scheme", errdefs.ErrInvalidLocation, raw)
	}
	return Ref{
		scheme:   Scheme(strings.ToLower(u.Scheme)),
		location: raw,
		host:     u.Host,
		path:     u.Path,
	}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) Ref {
	ref, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ref
}

func (r Ref) Scheme() Scheme   { return r.scheme }
func (r Ref) Location() string { return r.location }
func (r Ref) Host() string     { return r.host }
func (r Ref) Path() string     { return r.path }
func (r Ref) String() string   { return r.location }

// IsZero reports whether r was never parsed.
func (r Ref) IsZero() bool { return r.location == "" }

// Base 返回对象路径的最后一段，用作暂存文件名。
func (r Ref) Base() string {
	p := strings.TrimRight(r.path, "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		p = p[idx+1:]
	}
	if p == "" {
		return "object"
	}
	return p
}

// Join appends a slash separated relative path to the reference location.
func (r Ref) Join(rel string) (Ref, error) {
	rel = strings.TrimLeft(rel, "/")
	base := r.location
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return Parse(base + rel)
}

// SplitObjectLocation splits an object-store reference into bucket and key.
// The bucket is the URL authority and the key is the path with its leading
// slash removed; either being empty yields ErrInvalidLocation.
func SplitObjectLocation(r Ref) (bucket, key string, err error) {
	if r.host == "" || r.path == "" {
		return "", "", fmt.Errorf("%w: bad object path %s", errdefs.ErrInvalidLocation, r.location)
	}
	key = strings.TrimPrefix(r.path, "/")
	if key == "" {
		return "", "", fmt.Errorf("%w: bad object path %s", errdefs.ErrInvalidLocation, r.location)
	}
	return r.host, key, nil
}
