package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/types"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

// failingAdapter 所有操作都返回错误
type failingAdapter struct{}

var errAdapter = errors.New("adapter down")

func (failingAdapter) FindExactMatch(context.Context, string, string) (*Entry, error) {
	return nil, errAdapter
}
func (failingAdapter) Store(context.Context, *Entry) (string, error)        { return "", errAdapter }
func (failingAdapter) FindSimilar(context.Context, SimilarQuery) ([]Entry, error) {
	return nil, errAdapter
}
func (failingAdapter) GalleryImages(context.Context, GalleryOptions) ([]Entry, error) {
	return nil, errAdapter
}
func (failingAdapter) IncrementAccessCount(context.Context, string) error { return errAdapter }
func (failingAdapter) Cleanup(context.Context, time.Time, int64) (int64, error) {
	return 0, errAdapter
}
func (failingAdapter) Stats(context.Context) (*Stats, error) { return nil, errAdapter }

// countingAdapter 统计 FindExactMatch 调用次数
type countingAdapter struct {
	NoOpAdapter
	entry *Entry
	finds int
}

func (c *countingAdapter) FindExactMatch(ctx context.Context, hash, provider string) (*Entry, error) {
	c.finds++
	return c.entry, nil
}

func cacheRequest() types.GenerationRequest {
	return types.GenerationRequest{
		Theme:      "Animals",
		Subject:    "Cat",
		Difficulty: types.DifficultyMedium,
	}
}

func TestManager_DisabledWithoutAdapter(t *testing.T) {
	m := NewManager(nil, nil, zap.NewNop())
	assert.False(t, m.Enabled())

	m = NewManager(NoOpAdapter{}, nil, zap.NewNop())
	assert.False(t, m.Enabled(), "NoOpAdapter 等同于未配置后端")

	m = NewManager(&countingAdapter{}, nil, zap.NewNop())
	assert.True(t, m.Enabled())
}

func TestManager_StoreNormalizes(t *testing.T) {
	adapter := setupGormAdapter(t)
	m := NewManager(adapter, nil, zap.NewNop())
	ctx := context.Background()

	id := m.Store(ctx, cacheRequest(), "prompt text", "p1", "http://x/1.png", "123-cat.jpg")
	require.NotEmpty(t, id)

	// 主题和主体被小写化，查询用指纹命中
	entry := m.FindExactMatch(ctx, cacheRequest(), "p1")
	require.NotNil(t, entry)
	assert.Equal(t, "animals", entry.Theme)
	assert.Equal(t, "cat", entry.Subject)
	require.NotNil(t, entry.ImageURL)
	assert.Equal(t, "http://x/1.png", *entry.ImageURL)
	require.NotNil(t, entry.StoragePath)
	assert.Equal(t, "123-cat.jpg", *entry.StoragePath)

	// 大小写不同的请求产生相同指纹
	loud := cacheRequest()
	loud.Theme = "ANIMALS"
	assert.NotNil(t, m.FindExactMatch(ctx, loud, "p1"))
}

func TestManager_DegradesOnAdapterFailure(t *testing.T) {
	m := NewManager(failingAdapter{}, nil, zap.NewNop())
	ctx := context.Background()

	assert.Nil(t, m.FindExactMatch(ctx, cacheRequest(), "p1"), "查询失败按未命中处理")
	assert.Empty(t, m.Store(ctx, cacheRequest(), "p", "p1", "url", ""), "写入失败返回空 ID")
	assert.Empty(t, m.FindSimilar(ctx, cacheRequest(), 5))
	assert.Empty(t, m.GalleryImages(ctx, GalleryOptions{}))
	assert.Zero(t, m.Cleanup(ctx, 30, 1))

	stats := m.Stats(ctx)
	require.NotNil(t, stats)
	assert.Zero(t, stats.TotalEntries)
	assert.NotPanics(t, func() { m.IncrementAccessCount(ctx, "id") })
}

func TestManager_LookasideServesWithoutAdapter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	lookaside := NewLookaside(client, time.Minute, zap.NewNop())

	url := "http://x/1.png"
	adapter := &countingAdapter{}
	m := NewManager(adapter, lookaside, zap.NewNop())
	ctx := context.Background()

	// 先写入，条目进入 lookaside
	adapterSeed := setupGormAdapter(t)
	seeded := NewManager(adapterSeed, lookaside, zap.NewNop())
	id := seeded.Store(ctx, cacheRequest(), "prompt", "p1", url, "")
	require.NotEmpty(t, id)

	// 读走 lookaside，不触达 adapter
	entry := m.FindExactMatch(ctx, cacheRequest(), "p1")
	require.NotNil(t, entry)
	assert.Equal(t, 0, adapter.finds, "lookaside 命中不应查询持久层")
}

func TestManager_CleanupDefaultsMaxAge(t *testing.T) {
	adapter := setupGormAdapter(t)
	m := NewManager(adapter, nil, zap.NewNop())
	ctx := context.Background()

	old := &Entry{
		PromptHash:     "stale",
		Theme:          "animals",
		Subject:        "cat",
		Difficulty:     "easy",
		Provider:       "p1",
		LastAccessedAt: time.Now().AddDate(0, 0, -45),
	}
	_, err := adapter.Store(ctx, old)
	require.NoError(t, err)

	// maxAgeDays <= 0 使用默认 30 天
	deleted := m.Cleanup(ctx, 0, 1)
	assert.EqualValues(t, 1, deleted)
}
