// Package s3backend implements the object-store backend on top of the AWS
// SDK v2 S3 client. Object locations are s3://<bucket>/<key>; the SDK's own
// retryer handles transient failures.
package s3backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/cloudio/cloudio/internal/backend"
	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/remote"
)

// deleteBatchSize 是 DeleteObjects 单次请求允许的最大键数。
const deleteBatchSize = 1000

// API is the subset of *s3.Client the backend uses.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Provider 延迟创建 API 客户端；成功结果会被缓存，失败时下次调用重试。
type Provider func(ctx context.Context) (API, error)

// Backend 实现 backend.Backend。
type Backend struct {
	provider Provider
	logger   *logrus.Logger

	mu  sync.Mutex
	api API
}

var (
	_ backend.Backend         = (*Backend)(nil)
	_ backend.LocationChecker = (*Backend)(nil)
)

// New wraps an S3 API client.
func New(api API, logger *logrus.Logger) *Backend {
	b := NewLazy(nil, logger)
	b.api = api
	return b
}

// NewLazy defers client construction until the first request, so building a
// registry never touches the AWS credential chain for HTTP-only workloads.
func NewLazy(provider Provider, logger *logrus.Logger) *Backend {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Backend{provider: provider, logger: logger}
}

func (b *Backend) client(ctx context.Context) (API, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.api != nil {
		return b.api, nil
	}
	if b.provider == nil {
		return nil, fmt.Errorf("%w: s3 client not configured", errdefs.ErrBackendUnavailable)
	}
	api, err := b.provider(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrBackendUnavailable, err)
	}
	b.api = api
	return api, nil
}

func (b *Backend) Name() string { return "s3" }

func (b *Backend) Schemes() []remote.Scheme {
	return []remote.Scheme{remote.SchemeS3}
}

func (b *Backend) Validator(ctx context.Context, ref remote.Ref) (remote.Validator, error) {
	bucket, key, err := remote.SplitObjectLocation(ref)
	if err != nil {
		return remote.NoValidator, err
	}

	api, err := b.client(ctx)
	if err != nil {
		return remote.NoValidator, err
	}
	out, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return remote.NoValidator, mapS3Error("head", ref, err, errdefs.ErrBackendUnavailable)
	}
	if out.ETag == nil {
		return remote.NoValidator, nil
	}
	return remote.NewValidator(aws.ToString(out.ETag)), nil
}

func (b *Backend) Open(ctx context.Context, ref remote.Ref) (*backend.Object, error) {
	bucket, key, err := remote.SplitObjectLocation(ref)
	if err != nil {
		return nil, err
	}

	api, err := b.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error("get", ref, err, errdefs.ErrTransferFailed)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = aws.ToInt64(out.ContentLength)
	}
	return &backend.Object{Body: out.Body, Size: size}, nil
}

func (b *Backend) Put(ctx context.Context, ref remote.Ref, body io.ReadSeeker, size int64) error {
	bucket, key, err := remote.SplitObjectLocation(ref)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	api, err := b.client(ctx)
	if err != nil {
		return err
	}
	if _, err := api.PutObject(ctx, input); err != nil {
		return mapS3Error("put", ref, err, nil)
	}
	b.logger.WithFields(logrus.Fields{
		"action":   "s3_put",
		"location": ref.Location(),
		"size":     size,
	}).Debug("object_uploaded")
	return nil
}

func (b *Backend) List(ctx context.Context, ref remote.Ref) ([]string, error) {
	bucket, prefix, err := remote.SplitObjectLocation(ref)
	if err != nil {
		return nil, err
	}

	api, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error("list", ref, err, errdefs.ErrBackendUnavailable)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// CheckLocation rejects locations without a bucket or key before any staging.
func (b *Backend) CheckLocation(ref remote.Ref) error {
	_, _, err := remote.SplitObjectLocation(ref)
	return err
}

// Delete 删除 key 本身以及 key/ 之下的对象；"data" 不会误删 "data2.csv"。
func (b *Backend) Delete(ctx context.Context, ref remote.Ref) error {
	bucket, target, err := remote.SplitObjectLocation(ref)
	if err != nil {
		return err
	}

	api, err := b.client(ctx)
	if err != nil {
		return err
	}
	listed, err := b.List(ctx, ref)
	if err != nil {
		return err
	}
	keys := listed[:0]
	for _, key := range listed {
		if backend.Covers(target, key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return errdefs.Wrap("delete", ref.Location(), errdefs.ErrNotFound)
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}

		out, err := api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapS3Error("delete", ref, err, nil)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return errdefs.Wrap("delete", ref.Location(),
				fmt.Errorf("%d objects not deleted, first %s: %s", len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message)))
		}
	}

	b.logger.WithFields(logrus.Fields{
		"action":   "s3_delete",
		"location": ref.Location(),
		"objects":  len(keys),
	}).Info("objects_removed")
	return nil
}

// mapS3Error 将 404 类错误映射为 ErrNotFound，其余错误按 fallback 分类。
func mapS3Error(op string, ref remote.Ref, err error, fallback error) error {
	if isNotFound(err) {
		return errdefs.Wrap(op, ref.Location(), errdefs.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || fallback == nil {
		return errdefs.Wrap(op, ref.Location(), err)
	}
	return errdefs.Wrap(op, ref.Location(), fmt.Errorf("%w: %v", fallback, err))
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &notFound) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
