package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// GormAdapter persists entries through GORM, so the same code serves
// postgres, mysql, and sqlite deployments.
type GormAdapter struct {
	db *gorm.DB
}

// NewGormAdapter migrates the image_cache table and returns the adapter.
func NewGormAdapter(db *gorm.DB) (*GormAdapter, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm cache adapter: db is nil")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate image_cache table: %w", err)
	}
	return &GormAdapter{db: db}, nil
}

func (a *GormAdapter) FindExactMatch(ctx context.Context, hash, provider string) (*Entry, error) {
	var entry Entry
	err := a.db.WithContext(ctx).
		Where("prompt_hash = ? AND provider = ?", hash, provider).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (a *GormAdapter) Store(ctx context.Context, entry *Entry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastAccessedAt.IsZero() {
		entry.LastAccessedAt = now
	}
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (a *GormAdapter) FindSimilar(ctx context.Context, q SimilarQuery) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	var entries []Entry
	err := a.db.WithContext(ctx).
		Where("theme = ? AND difficulty = ?", q.Theme, q.Difficulty).
		Where("subject LIKE ?", "%"+q.Subject+"%").
		Order("access_count DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *GormAdapter) GalleryImages(ctx context.Context, opts GalleryOptions) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	query := a.db.WithContext(ctx).Where("image_url IS NOT NULL")
	if opts.Theme != "" && opts.Theme != "all" {
		query = query.Where("theme = ?", opts.Theme)
	}
	if opts.OrderBy == OrderRecent {
		query = query.Order("created_at DESC")
	} else {
		query = query.Order("access_count DESC")
	}

	var entries []Entry
	err := query.Limit(limit).Offset(opts.Offset).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *GormAdapter) IncrementAccessCount(ctx context.Context, id string) error {
	return a.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": time.Now(),
		}).Error
}

func (a *GormAdapter) Cleanup(ctx context.Context, cutoff time.Time, minAccessCount int64) (int64, error) {
	result := a.db.WithContext(ctx).
		Where("last_accessed_at < ? AND access_count <= ?", cutoff, minAccessCount).
		Delete(&Entry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Stats runs the three aggregate queries concurrently.
func (a *GormAdapter) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TopThemes: []ThemeCount{}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.db.WithContext(gctx).Model(&Entry{}).Count(&stats.TotalEntries).Error
	})
	g.Go(func() error {
		// COALESCE so an empty table yields 0 instead of NULL
		return a.db.WithContext(gctx).Model(&Entry{}).
			Select("COALESCE(SUM(access_count), 0)").
			Scan(&stats.TotalHits).Error
	})
	g.Go(func() error {
		return a.db.WithContext(gctx).Model(&Entry{}).
			Select("theme, COUNT(*) AS count").
			Group("theme").
			Order("count DESC").
			Limit(5).
			Scan(&stats.TopThemes).Error
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
