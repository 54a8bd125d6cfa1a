package backend

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/remote"
)

type stubBackend struct {
	name    string
	schemes []remote.Scheme
}

func (s stubBackend) Name() string             { return s.name }
func (s stubBackend) Schemes() []remote.Scheme { return s.schemes }
func (stubBackend) Validator(context.Context, remote.Ref) (remote.Validator, error) {
	return remote.NoValidator, nil
}
func (stubBackend) Open(context.Context, remote.Ref) (*Object, error) { return nil, nil }
func (stubBackend) Put(context.Context, remote.Ref, io.ReadSeeker, int64) error {
	return nil
}
func (stubBackend) Delete(context.Context, remote.Ref) error           { return nil }
func (stubBackend) List(context.Context, remote.Ref) ([]string, error) { return nil, nil }

func TestRegistryDispatchesByScheme(t *testing.T) {
	httpB := stubBackend{name: "http", schemes: []remote.Scheme{remote.SchemeHTTP, remote.SchemeHTTPS}}
	s3B := stubBackend{name: "s3", schemes: []remote.Scheme{remote.SchemeS3}}
	reg := NewRegistry(httpB, s3B)

	b, err := reg.For(remote.MustParse("https://example.org/x"))
	require.NoError(t, err)
	assert.Equal(t, "http", b.Name())

	b, err = reg.For(remote.MustParse("s3://bucket/key"))
	require.NoError(t, err)
	assert.Equal(t, "s3", b.Name())

	_, err = reg.For(remote.MustParse("gs://bucket/key"))
	require.ErrorIs(t, err, errdefs.ErrInvalidTarget)

	assert.True(t, reg.Supports(remote.SchemeS3))
	assert.False(t, reg.Supports("gs"))
	assert.Equal(t, []string{"http", "https", "s3"}, reg.Schemes())
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	assert.False(t, reg.Supports(remote.SchemeHTTP))
	_, err := reg.For(remote.MustParse("http://x/y"))
	require.ErrorIs(t, err, errdefs.ErrInvalidTarget)
}

type readOnlyStub struct{ stubBackend }

func (readOnlyStub) ReadOnly() bool { return true }

func TestIsReadOnly(t *testing.T) {
	assert.False(t, IsReadOnly(stubBackend{name: "rw"}))
	assert.True(t, IsReadOnly(readOnlyStub{stubBackend{name: "ro"}}))
}

type checkedStub struct{ stubBackend }

func (checkedStub) CheckLocation(ref remote.Ref) error {
	_, _, err := remote.SplitObjectLocation(ref)
	return err
}

func TestCheckLocation(t *testing.T) {
	bad := remote.MustParse("s3:///onlypath")
	require.NoError(t, CheckLocation(stubBackend{name: "plain"}, bad))
	require.ErrorIs(t, CheckLocation(checkedStub{stubBackend{name: "s3"}}, bad), errdefs.ErrInvalidLocation)
	require.NoError(t, CheckLocation(checkedStub{stubBackend{name: "s3"}}, remote.MustParse("s3://bucket/k")))
}

func TestCovers(t *testing.T) {
	cases := []struct {
		key, candidate string
		want           bool
	}{
		{"data", "data", true},
		{"data", "data/part-0", true},
		{"data", "data2.csv", false},
		{"data", "database/x", false},
		{"dir/", "dir/a", true},
		{"dir/", "dir2/a", false},
		{"dir/sub", "dir/sub/x/y", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Covers(tc.key, tc.candidate), "%s vs %s", tc.key, tc.candidate)
	}
}
