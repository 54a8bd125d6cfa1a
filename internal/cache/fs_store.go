package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudio/cloudio/internal/remote"
)

// NewStore 以 dir 为缓存目录构建磁盘缓存，目录不存在时自动创建。
func NewStore(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &fileStore{dir: abs}, nil
}

// fileStore 不持有任何进程内锁：同一 key 的并发 promote 依赖 rename 的原子性。
type fileStore struct {
	dir string
}

func (s *fileStore) Dir() string {
	return s.dir
}

func (s *fileStore) Lookup(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	entry, err := s.entry(key)
	if err != nil {
		return Entry{}, err
	}

	info, err := os.Stat(entry.PayloadPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if !info.Mode().IsRegular() {
		return Entry{}, ErrNotFound
	}

	// 元数据缺失或损坏时视为未命中，孤立正文留给外部清理。
	if _, err := readMetadata(entry.MetadataPath); err != nil {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (s *fileStore) Stage() (*os.File, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	return os.CreateTemp(s.dir, ".fetch-*")
}

func (s *fileStore) Promote(ctx context.Context, key, stagedPath, location string, validator remote.Validator) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	entry, err := s.entry(key)
	if err != nil {
		return Entry{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Entry{}, err
	}

	if err := s.placePayload(ctx, stagedPath, entry.PayloadPath); err != nil {
		return Entry{}, fmt.Errorf("place payload: %w", err)
	}

	// 元数据必须最后写入：此前中断只会留下被 Lookup 忽略的孤立正文。
	meta := Metadata{URL: location, ETag: validator}
	if err := s.writeMetadata(entry.MetadataPath, meta); err != nil {
		return Entry{}, fmt.Errorf("write metadata: %w", err)
	}
	return entry, nil
}

func (s *fileStore) ResolveOrigin(ctx context.Context, key string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	entry, err := s.entry(key)
	if err != nil {
		return Metadata{}, err
	}

	if _, err := os.Stat(entry.PayloadPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, fmt.Errorf("file %s: %w", entry.PayloadPath, ErrNotFound)
		}
		return Metadata{}, err
	}

	meta, err := readMetadata(entry.MetadataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, fmt.Errorf("file %s: %w", entry.MetadataPath, ErrNotFound)
		}
		return Metadata{}, fmt.Errorf("file %s: %w: %v", entry.MetadataPath, ErrNotFound, err)
	}
	return meta, nil
}

// placePayload 优先 rename 暂存文件；跨设备时复制到缓存目录内的临时文件再 rename。
func (s *fileStore) placePayload(ctx context.Context, stagedPath, payloadPath string) error {
	if err := syncFile(stagedPath); err != nil {
		return err
	}
	if err := os.Rename(stagedPath, payloadPath); err == nil {
		return nil
	}

	src, err := os.Open(stagedPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tempFile, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, src)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, payloadPath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) writeMetadata(metaPath string, meta Metadata) error {
	tempFile, err := os.CreateTemp(s.dir, ".meta-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	err = json.NewEncoder(tempFile).Encode(meta)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, metaPath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) entry(key string) (Entry, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return Entry{}, fmt.Errorf("invalid cache key %q", key)
	}
	payload := filepath.Join(s.dir, key)
	return Entry{
		Key:          key,
		PayloadPath:  payload,
		MetadataPath: payload + metadataSuffix,
	}, nil
}

func readMetadata(metaPath string) (Metadata, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, err
	}
	if meta.URL == "" {
		return Metadata{}, errors.New("metadata missing url")
	}
	return meta, nil
}

func syncFile(name string) error {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	err = f.Sync()
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
