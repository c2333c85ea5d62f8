// Package storage persists generated images to object storage. The manager
// owns the pipeline (data URI decode, download, transcode, key layout) and
// adapters are plain byte stores, so backends stay interchangeable.
package storage

import "context"

// Result of a store operation. On failure PublicURL carries the original
// image reference and StoragePath is empty.
type Result struct {
	PublicURL   string `json:"publicUrl"`
	StoragePath string `json:"storagePath"`
}

// Adapter is a plain object store for image bytes. Implementations apply a
// one-year public cache policy to uploads.
type Adapter interface {
	// Upload 上传对象，路径已由管理器生成
	Upload(ctx context.Context, path string, data []byte, contentType string) error

	// Delete 删除对象
	Delete(ctx context.Context, path string) error

	// PublicURL 返回对象的公开访问地址
	PublicURL(path string) string
}

// NoOpAdapter satisfies Adapter without storing anything. Used when no
// storage backend is configured.
type NoOpAdapter struct{}

func (NoOpAdapter) Upload(context.Context, string, []byte, string) error { return nil }
func (NoOpAdapter) Delete(context.Context, string) error                 { return nil }
func (NoOpAdapter) PublicURL(string) string                              { return "" }
