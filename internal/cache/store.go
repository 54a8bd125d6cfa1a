package cache

import (
	"context"
	"os"

	"github.com/cloudio/cloudio/internal/errdefs"
	"github.com/cloudio/cloudio/internal/remote"
)

// Store 管理缓存目录。所有实现必须保证读者永远看不到半成品条目。
type Store interface {
	// Lookup 仅在正文与元数据同时存在且元数据可解析时返回命中，否则返回 ErrNotFound。
	Lookup(ctx context.Context, key string) (Entry, error)

	// Stage 在缓存目录内创建私有临时文件，供下载写入；调用方负责在失败时删除。
	Stage() (*os.File, error)

	// Promote 将暂存文件放入 key 对应的正文位置，最后写入元数据。
	Promote(ctx context.Context, key, stagedPath, location string, validator remote.Validator) (Entry, error)

	// ResolveOrigin 读取元数据，返回条目对应的原始地址与 validator。
	ResolveOrigin(ctx context.Context, key string) (Metadata, error)

	// Dir 返回缓存目录的绝对路径。
	Dir() string
}

// Entry 描述一个完整的缓存条目。
type Entry struct {
	Key          string `json:"key"`
	PayloadPath  string `json:"payload_path"`
	MetadataPath string `json:"metadata_path"`
}

// Metadata 是 <key>.json 的内容。
type Metadata struct {
	URL  string           `json:"url"`
	ETag remote.Validator `json:"etag"`
}

// ErrNotFound 表示缓存未命中。
var ErrNotFound = errdefs.ErrNotFound

const metadataSuffix = ".json"
