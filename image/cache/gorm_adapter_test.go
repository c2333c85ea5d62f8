package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🧪 GormAdapter 测试（内存 sqlite）
// =============================================================================

func setupGormAdapter(t *testing.T) *GormAdapter {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	adapter, err := NewGormAdapter(db)
	require.NoError(t, err)
	return adapter
}

func strPtr(s string) *string { return &s }

func seedEntry(t *testing.T, a *GormAdapter, theme string, accessCount int64, imageURL *string) *Entry {
	t.Helper()
	entry := &Entry{
		PromptHash:  fmt.Sprintf("hash-%s-%d", theme, accessCount),
		PromptText:  "a prompt",
		Theme:       theme,
		Subject:     "cat",
		Difficulty:  "medium",
		Provider:    "p1",
		ImageURL:    imageURL,
		AccessCount: accessCount,
	}
	_, err := a.Store(context.Background(), entry)
	require.NoError(t, err)
	return entry
}

func TestGormAdapter_StoreAndFindExactMatch(t *testing.T) {
	a := setupGormAdapter(t)
	ctx := context.Background()

	entry := &Entry{
		PromptHash: "abc123",
		PromptText: "a cat sitting in a garden",
		Theme:      "animals",
		Subject:    "cat",
		Difficulty: "medium",
		Provider:   "modelscope",
		ImageURL:   strPtr("http://x/cat.png"),
	}

	id, err := a.Store(ctx, entry)
	require.NoError(t, err)
	assert.NotEmpty(t, id, "Store 应生成 UUID")
	assert.Equal(t, "{}", entry.Metadata)
	assert.False(t, entry.CreatedAt.IsZero())

	got, err := a.FindExactMatch(ctx, "abc123", "modelscope")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "a cat sitting in a garden", got.PromptText)

	// 相同哈希不同提供商不命中
	miss, err := a.FindExactMatch(ctx, "abc123", "openai")
	require.NoError(t, err)
	assert.Nil(t, miss)

	miss, err = a.FindExactMatch(ctx, "nope", "modelscope")
	require.NoError(t, err)
	assert.Nil(t, miss, "未命中返回 nil 而非错误")
}

func TestGormAdapter_FindSimilar(t *testing.T) {
	a := setupGormAdapter(t)
	ctx := context.Background()

	for i, subject := range []string{"black cat", "white cat", "dog"} {
		entry := &Entry{
			PromptHash: fmt.Sprintf("h%d", i),
			Theme:      "animals",
			Subject:    subject,
			Difficulty: "medium",
			Provider:   "p1",
			// 访问次数递增，验证排序
			AccessCount: int64(i),
		}
		_, err := a.Store(ctx, entry)
		require.NoError(t, err)
	}

	got, err := a.FindSimilar(ctx, SimilarQuery{
		Theme:      "animals",
		Subject:    "cat",
		Difficulty: "medium",
	})
	require.NoError(t, err)
	require.Len(t, got, 2, "只匹配 subject 含 cat 的记录")
	assert.Equal(t, "white cat", got[0].Subject, "按访问次数降序")

	// 难度不同不命中
	got, err = a.FindSimilar(ctx, SimilarQuery{Theme: "animals", Subject: "cat", Difficulty: "hard"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGormAdapter_GalleryImages(t *testing.T) {
	a := setupGormAdapter(t)
	ctx := context.Background()

	seedEntry(t, a, "animals", 10, strPtr("http://x/1.png"))
	seedEntry(t, a, "animals", 5, strPtr("http://x/2.png"))
	seedEntry(t, a, "vehicles", 50, strPtr("http://x/3.png"))
	seedEntry(t, a, "animals", 99, nil) // 无图片 URL，不进图库

	all, err := a.GalleryImages(ctx, GalleryOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3, "无 image_url 的记录不应出现在图库")
	assert.EqualValues(t, 50, all[0].AccessCount, "默认按热度降序")

	animals, err := a.GalleryImages(ctx, GalleryOptions{Theme: "animals"})
	require.NoError(t, err)
	assert.Len(t, animals, 2)

	// theme=all 等价于不过滤
	allTheme, err := a.GalleryImages(ctx, GalleryOptions{Theme: "all"})
	require.NoError(t, err)
	assert.Len(t, allTheme, 3)

	paged, err := a.GalleryImages(ctx, GalleryOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.EqualValues(t, 10, paged[0].AccessCount)
}

func TestGormAdapter_IncrementAccessCount(t *testing.T) {
	a := setupGormAdapter(t)
	ctx := context.Background()

	entry := seedEntry(t, a, "animals", 0, strPtr("http://x/1.png"))
	before := entry.LastAccessedAt

	require.NoError(t, a.IncrementAccessCount(ctx, entry.ID))
	require.NoError(t, a.IncrementAccessCount(ctx, entry.ID))

	got, err := a.FindExactMatch(ctx, entry.PromptHash, entry.Provider)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 2, got.AccessCount)
	assert.False(t, got.LastAccessedAt.Before(before))
}

func TestGormAdapter_Cleanup(t *testing.T) {
	a := setupGormAdapter(t)
	ctx := context.Background()

	old := &Entry{
		PromptHash:     "old",
		Theme:          "animals",
		Subject:        "cat",
		Difficulty:     "easy",
		Provider:       "p1",
		AccessCount:    1,
		LastAccessedAt: time.Now().AddDate(0, 0, -60),
	}
	_, err := a.Store(ctx, old)
	require.NoError(t, err)

	oldButPopular := &Entry{
		PromptHash:     "popular",
		Theme:          "animals",
		Subject:        "cat",
		Difficulty:     "easy",
		Provider:       "p1",
		AccessCount:    42,
		LastAccessedAt: time.Now().AddDate(0, 0, -60),
	}
	_, err = a.Store(ctx, oldButPopular)
	require.NoError(t, err)

	fresh := seedEntry(t, a, "animals", 0, nil)

	cutoff := time.Now().AddDate(0, 0, -30)
	deleted, err := a.Cleanup(ctx, cutoff, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted, "条件是 AND：又旧又冷门才删除")

	// 热门旧条目和新条目都保留
	got, err := a.FindExactMatch(ctx, "popular", "p1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = a.FindExactMatch(ctx, fresh.PromptHash, "p1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestGormAdapter_Stats(t *testing.T) {
	a := setupGormAdapter(t)
	ctx := context.Background()

	// 空表
	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.TotalEntries)
	assert.EqualValues(t, 0, stats.TotalHits, "空表 SUM 应为 0 而非 NULL")

	seedEntry(t, a, "animals", 3, strPtr("http://x/1.png"))
	seedEntry(t, a, "animals", 2, strPtr("http://x/2.png"))
	seedEntry(t, a, "vehicles", 5, strPtr("http://x/3.png"))

	stats, err = a.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalEntries)
	assert.EqualValues(t, 10, stats.TotalHits)
	require.NotEmpty(t, stats.TopThemes)
	assert.Equal(t, "animals", stats.TopThemes[0].Theme)
	assert.EqualValues(t, 2, stats.TopThemes[0].Count)
}
