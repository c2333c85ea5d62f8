package cache

import (
	"context"
	"time"
)

// Entry is one cached generation. ImageURL and StoragePath are pointers
// because historical rows may lack them.
type Entry struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id" bson:"_id"`
	PromptHash     string     `gorm:"column:prompt_hash;size:64;index:idx_image_cache_hash_provider,priority:1" json:"promptHash" bson:"prompt_hash"`
	PromptText     string     `gorm:"column:prompt_text;type:text" json:"promptText" bson:"prompt_text"`
	Theme          string     `gorm:"size:64;index" json:"theme" bson:"theme"`
	Subject        string     `gorm:"size:128" json:"subject" bson:"subject"`
	Difficulty     string     `gorm:"size:16" json:"difficulty" bson:"difficulty"`
	CustomPrompt   *string    `gorm:"column:custom_prompt;type:text" json:"customPrompt,omitempty" bson:"custom_prompt,omitempty"`
	Provider       string     `gorm:"size:32;index:idx_image_cache_hash_provider,priority:2" json:"provider" bson:"provider"`
	ImageURL       *string    `gorm:"column:image_url;type:text" json:"imageUrl,omitempty" bson:"image_url,omitempty"`
	StoragePath    *string    `gorm:"column:storage_path;type:text" json:"storagePath,omitempty" bson:"storage_path,omitempty"`
	Metadata       string     `gorm:"type:text" json:"metadata" bson:"metadata"`
	AccessCount    int64      `gorm:"column:access_count;default:0" json:"accessCount" bson:"access_count"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"createdAt" bson:"created_at"`
	LastAccessedAt time.Time  `gorm:"column:last_accessed_at;index" json:"lastAccessedAt" bson:"last_accessed_at"`
}

// TableName 指定 GORM 表名
func (Entry) TableName() string { return "image_cache" }

// ThemeCount is one row of the top-themes ranking.
type ThemeCount struct {
	Theme string `json:"theme" bson:"_id"`
	Count int64  `json:"count" bson:"count"`
}

// Stats 缓存统计
type Stats struct {
	TotalEntries int64        `json:"totalEntries"`
	TotalHits    int64        `json:"totalHits"`
	TopThemes    []ThemeCount `json:"topThemes"`
}

// GalleryOrder controls gallery sorting.
type GalleryOrder string

const (
	OrderPopular GalleryOrder = "popular"
	OrderRecent  GalleryOrder = "recent"
)

// GalleryOptions 图库查询选项
type GalleryOptions struct {
	Theme   string
	Limit   int
	Offset  int
	OrderBy GalleryOrder
}

// SimilarQuery describes a fuzzy lookup: same theme and difficulty, subject
// substring match.
type SimilarQuery struct {
	Theme      string
	Subject    string
	Difficulty string
	Limit      int
}

// Adapter is a dumb entry store. It does no normalization or hashing; the
// manager owns that and hands adapters fully prepared values.
type Adapter interface {
	// FindExactMatch 按 (prompt_hash, provider) 查找缓存记录，未命中返回 nil
	FindExactMatch(ctx context.Context, hash, provider string) (*Entry, error)

	// Store 插入一条记录并返回其 ID
	Store(ctx context.Context, entry *Entry) (string, error)

	// FindSimilar 查找相似记录，按访问次数降序
	FindSimilar(ctx context.Context, q SimilarQuery) ([]Entry, error)

	// GalleryImages 返回有图片 URL 的记录用于图库展示
	GalleryImages(ctx context.Context, opts GalleryOptions) ([]Entry, error)

	// IncrementAccessCount 访问计数加一并刷新 last_accessed_at
	IncrementAccessCount(ctx context.Context, id string) error

	// Cleanup deletes entries last accessed before the cutoff AND with an
	// access count at or below minAccessCount. Returns the deleted count.
	Cleanup(ctx context.Context, cutoff time.Time, minAccessCount int64) (int64, error)

	// Stats 返回总量、总命中数和前五热门主题
	Stats(ctx context.Context) (*Stats, error)
}

// NoOpAdapter satisfies Adapter without persisting anything. Used when no
// cache backend is configured.
type NoOpAdapter struct{}

func (NoOpAdapter) FindExactMatch(context.Context, string, string) (*Entry, error) {
	return nil, nil
}
func (NoOpAdapter) Store(context.Context, *Entry) (string, error)        { return "", nil }
func (NoOpAdapter) FindSimilar(context.Context, SimilarQuery) ([]Entry, error) { return nil, nil }
func (NoOpAdapter) GalleryImages(context.Context, GalleryOptions) ([]Entry, error) {
	return nil, nil
}
func (NoOpAdapter) IncrementAccessCount(context.Context, string) error { return nil }
func (NoOpAdapter) Cleanup(context.Context, time.Time, int64) (int64, error) {
	return 0, nil
}
func (NoOpAdapter) Stats(context.Context) (*Stats, error) {
	return &Stats{TopThemes: []ThemeCount{}}, nil
}
