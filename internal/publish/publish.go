// Package publish implements write-to-temp-then-upload for remote targets.
// Callers write into a private staging file; Commit uploads it and removes
// the staging directory. A failed upload keeps the staged file so its
// content can be recovered.
package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudio/cloudio/internal/backend"
	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/logging"
	"github.com/cloudio/cloudio/internal/remote"
)

// State 描述一次暂存的生命周期。
type State int

const (
	StateStaged State = iota
	StateUploading
	StatePublished
	StatePublishFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateStaged:
		return "staged"
	case StateUploading:
		return "uploading"
	case StatePublished:
		return "published"
	case StatePublishFailed:
		return "publish_failed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options 配置 Publisher。
type Options struct {
	// TmpDir 为暂存根目录，每次暂存在其下创建一个 uuid 子目录。
	TmpDir string
	Logger *logrus.Logger
	// OnFinish 在暂存进入终态时调用，用于指标统计。
	OnFinish func(target remote.Ref, state State)
}

// Publisher 负责暂存与发布。
type Publisher struct {
	backends *backend.Registry
	tmpDir   string
	logger   *logrus.Logger
	onFinish func(remote.Ref, State)
}

// New 创建 Publisher。
func New(backends *backend.Registry, opts Options) *Publisher {
	p := &Publisher{
		backends: backends,
		tmpDir:   opts.TmpDir,
		logger:   opts.Logger,
		onFinish: opts.OnFinish,
	}
	if p.tmpDir == "" {
		p.tmpDir = os.TempDir()
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	return p
}

// Stage 为 target 创建 <tmpDir>/<uuid>/<basename> 暂存文件。
// 只读后端返回 ErrUnsupportedMode，格式错误的地址返回 ErrInvalidLocation，均在创建任何文件之前。
func (p *Publisher) Stage(ctx context.Context, target remote.Ref) (*Staging, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := p.writable(target)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(p.tmpDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errdefs.Wrap("stage", target.Location(), err)
	}
	path := filepath.Join(dir, target.Base())
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		os.RemoveAll(dir)
		return nil, errdefs.Wrap("stage", target.Location(), err)
	}

	p.logger.WithFields(logging.ObjectFields("publish_stage", target.Location(), "")).
		WithField("staging_path", path).Debug("staging_created")

	return &Staging{
		publisher: p,
		backend:   b,
		target:    target,
		dir:       dir,
		path:      path,
		file:      file,
		state:     StateStaged,
	}, nil
}

// Write 是 Stage/Commit 的作用域形式：fn 返回错误或 panic 时放弃暂存，否则提交。
func (p *Publisher) Write(ctx context.Context, target remote.Ref, fn func(w io.Writer) error) error {
	s, err := p.Stage(ctx, target)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			s.Abort()
			panic(r)
		}
	}()

	if err := fn(s); err != nil {
		s.Abort()
		return err
	}
	return s.Commit(ctx)
}

// Upload 直接上传一个已存在的本地文件；本地文件本身充当暂存内容，失败时不会被删除。
func (p *Publisher) Upload(ctx context.Context, target remote.Ref, localPath string) error {
	b, err := p.writable(target)
	if err != nil {
		return err
	}

	if err := p.put(ctx, b, target, localPath); err != nil {
		p.finish(target, StatePublishFailed)
		p.logger.WithFields(logging.ObjectFields("publish_upload", target.Location(), "")).
			WithField("local_path", localPath).WithError(err).Warn("publish_failed")
		return &errdefs.PublishError{Target: target.Location(), StagingPath: localPath, Err: err}
	}

	p.finish(target, StatePublished)
	p.logger.WithFields(logging.ObjectFields("publish_upload", target.Location(), "")).
		WithField("local_path", localPath).Info("publish_complete")
	return nil
}

func (p *Publisher) writable(target remote.Ref) (backend.Backend, error) {
	b, err := p.backends.For(target)
	if err != nil {
		return nil, err
	}
	if backend.IsReadOnly(b) {
		return nil, errdefs.Wrap("stage", target.Location(),
			fmt.Errorf("%w: %s backend does not accept writes", errdefs.ErrUnsupportedMode, b.Name()))
	}
	if err := backend.CheckLocation(b, target); err != nil {
		return nil, errdefs.Wrap("stage", target.Location(), err)
	}
	return b, nil
}

func (p *Publisher) put(ctx context.Context, b backend.Backend, target remote.Ref, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return b.Put(ctx, target, f, info.Size())
}

func (p *Publisher) finish(target remote.Ref, state State) {
	if p.onFinish != nil {
		p.onFinish(target, state)
	}
}

// Staging 是一个待发布的暂存文件。Commit 与 Abort 各自最多生效一次。
type Staging struct {
	publisher *Publisher
	backend   backend.Backend
	target    remote.Ref
	dir       string
	path      string

	mu    sync.Mutex
	file  *os.File
	state State
}

// Write 写入暂存文件。
func (s *Staging) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStaged {
		return 0, errdefs.Wrap("write", s.target.Location(), os.ErrClosed)
	}
	return s.file.Write(p)
}

// Name 返回暂存文件路径。
func (s *Staging) Name() string { return s.path }

// Target 返回发布目标。
func (s *Staging) Target() remote.Ref { return s.target }

// State 返回当前状态。
func (s *Staging) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Commit 关闭暂存文件并上传。成功后删除暂存目录；失败时保留暂存文件并返回 *errdefs.PublishError。
func (s *Staging) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStaged {
		return errdefs.Wrap("commit", s.target.Location(), fmt.Errorf("staging already %s: %w", s.state, os.ErrClosed))
	}

	logger := s.publisher.logger
	fields := logging.ObjectFields("publish_commit", s.target.Location(), "")
	fields["staging_path"] = s.path

	if err := s.file.Close(); err != nil {
		// 本地写入未完整落盘，内容不可信，直接放弃。
		s.discard()
		s.state = StateAborted
		s.publisher.finish(s.target, StateAborted)
		logger.WithFields(fields).WithError(err).Warn("staging_close_failed")
		return errdefs.Wrap("commit", s.target.Location(), err)
	}

	s.state = StateUploading
	if err := s.publisher.put(ctx, s.backend, s.target, s.path); err != nil {
		s.state = StatePublishFailed
		s.publisher.finish(s.target, StatePublishFailed)
		logger.WithFields(fields).WithError(err).Warn("publish_failed")
		return &errdefs.PublishError{Target: s.target.Location(), StagingPath: s.path, Err: err}
	}

	s.discard()
	s.state = StatePublished
	s.publisher.finish(s.target, StatePublished)
	logger.WithFields(fields).Info("publish_complete")
	return nil
}

// Abort 关闭并删除暂存文件，不上传任何内容。终态之后调用为空操作。
func (s *Staging) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStaged {
		return nil
	}
	s.file.Close()
	err := s.discard()
	s.state = StateAborted
	s.publisher.finish(s.target, StateAborted)
	s.publisher.logger.WithFields(logging.ObjectFields("publish_abort", s.target.Location(), "")).
		Debug("staging_aborted")
	return err
}

func (s *Staging) discard() error {
	return os.RemoveAll(s.dir)
}
