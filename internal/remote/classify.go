package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cloudio/cloudio/internal/errdefs"
)

// Kind 区分本地路径与远端对象。
type Kind int

const (
	KindLocal Kind = iota
	KindRemote
)

func (k Kind) String() string {
	if k == KindRemote {
		return "remote"
	}
	return "local"
}

// Target is the classification result for a raw path or URL.
type Target struct {
	Kind Kind
	// Path is the local path after home expansion; empty for remote targets.
	Path string
	Ref  Ref
}

// SchemeSet answers whether a scheme has a registered backend.
type SchemeSet interface {
	Supports(Scheme) bool
}

var (
	schemePattern    = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9+.\-]*):`)
	collapsedPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9+.\-]+):/([^/])`)
)

// Normalize repairs URLs whose double slash was collapsed by path cleaning,
// turning "s3:/bucket/key" back into "s3://bucket/key". Single-letter schemes
// are drive letters and are left alone.
func Normalize(raw string) string {
	return collapsedPattern.ReplaceAllString(raw, "$1://$2")
}

// Classify decides whether raw names a local path or a remote object.
// Existing local paths win; scheme-less paths and Windows drive paths are
// local; registered schemes are remote; anything else is ErrInvalidTarget.
func Classify(raw string, schemes SchemeSet) (Target, error) {
	if strings.TrimSpace(raw) == "" {
		return Target{}, fmt.Errorf("%w: empty path", errdefs.ErrInvalidTarget)
	}
	raw = Normalize(expandHome(raw))

	if _, err := os.Stat(raw); err == nil {
		return Target{Kind: KindLocal, Path: raw}, nil
	}

	scheme := schemeOf(raw)
	if scheme == "" || len(scheme) == 1 {
		return Target{Kind: KindLocal, Path: raw}, nil
	}
	if schemes != nil && schemes.Supports(Scheme(strings.ToLower(scheme))) {
		ref, err := Parse(raw)
		if err != nil {
			return Target{}, err
		}
		return Target{Kind: KindRemote, Ref: ref}, nil
	}
	return Target{}, fmt.Errorf("%w: unable to parse %s as a URL or as a local path", errdefs.ErrInvalidTarget, raw)
}

// IsURLOrExistingFile reports whether raw is a supported remote URL or an
// existing local path.
func IsURLOrExistingFile(raw string, schemes SchemeSet) bool {
	if raw == "" {
		return false
	}
	raw = Normalize(expandHome(raw))
	if scheme := schemeOf(raw); len(scheme) > 1 && schemes != nil && schemes.Supports(Scheme(strings.ToLower(scheme))) {
		return true
	}
	_, err := os.Stat(raw)
	return err == nil
}

func schemeOf(raw string) string {
	m := schemePattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
