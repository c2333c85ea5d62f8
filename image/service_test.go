package image

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/image/cache"
	"github.com/kidcanvas/imagesvc/image/storage"
	"github.com/kidcanvas/imagesvc/types"
)

// =============================================================================
// 🧪 Service 测试
// =============================================================================

// recordingAdapter 记录写入的缓存适配器
type recordingAdapter struct {
	cache.NoOpAdapter
	stored  []*cache.Entry
	matches map[string]*cache.Entry // key: provider
}

func (r *recordingAdapter) Store(ctx context.Context, entry *cache.Entry) (string, error) {
	entry.ID = "entry-1"
	r.stored = append(r.stored, entry)
	return entry.ID, nil
}

func (r *recordingAdapter) FindExactMatch(ctx context.Context, hash, provider string) (*cache.Entry, error) {
	if e, ok := r.matches[provider]; ok {
		return e, nil
	}
	return nil, nil
}

func newTestService(t *testing.T, readCache bool, adapter cache.Adapter, providers ...Provider) (*Service, *Orchestrator) {
	t.Helper()
	logger := zap.NewNop()

	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID())
	}
	orch := NewOrchestrator(chainStrategy(ids...), logger, nil)
	orch.RegisterProviders(providers...)

	svc := NewService(
		orch,
		NewPromptBuilderWithSeed(1),
		cache.NewManager(adapter, nil, logger),
		storage.NewManager(nil, nil, logger),
		ServiceConfig{ReadCacheEnabled: readCache},
		logger,
		nil,
	)
	return svc, orch
}

func TestService_GenerateHappyPath(t *testing.T) {
	adapter := &recordingAdapter{}
	p := &fakeProvider{id: "p1", imageURL: "http://img.example.com/cat.png"}
	svc, _ := newTestService(t, false, adapter, p)

	result, err := svc.Generate(context.Background(), types.GenerationRequest{
		Theme:   "animals",
		Subject: "cat",
	}, GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "http://img.example.com/cat.png", result.ImageURL, "无存储后端时直接返回提供商 URL")
	assert.Equal(t, "p1", result.Provider)
	assert.False(t, result.Cached)
	assert.Empty(t, result.StoragePath)

	// 写路径始终开启：结果应沉淀到缓存
	require.Len(t, adapter.stored, 1)
	entry := adapter.stored[0]
	assert.Equal(t, "animals", entry.Theme)
	assert.Equal(t, "cat", entry.Subject)
	assert.Equal(t, "medium", entry.Difficulty, "难度缺省为 medium")
	assert.Equal(t, "p1", entry.Provider)
	assert.NotEmpty(t, entry.PromptHash)
	assert.NotEmpty(t, entry.PromptText)
	assert.Equal(t, "entry-1", result.CacheID)
}

func TestService_GenerateValidation(t *testing.T) {
	svc, _ := newTestService(t, false, nil, &fakeProvider{id: "p1", imageURL: "x"})

	_, err := svc.Generate(context.Background(), types.GenerationRequest{Theme: "animals"}, GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = svc.Generate(context.Background(), types.GenerationRequest{
		Theme: "animals", Subject: "cat", Difficulty: "impossible",
	}, GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestService_SkipCacheSkipsWrite(t *testing.T) {
	adapter := &recordingAdapter{}
	svc, _ := newTestService(t, false, adapter, &fakeProvider{id: "p1", imageURL: "http://x/1.png"})

	result, err := svc.Generate(context.Background(), types.GenerationRequest{
		Theme: "animals", Subject: "cat",
	}, GenerateOptions{SkipCache: true})
	require.NoError(t, err)

	assert.Empty(t, result.CacheID)
	assert.Empty(t, adapter.stored, "SkipCache 不应写缓存")
}

func TestService_ReadCacheHit(t *testing.T) {
	url := "http://cached.example.com/cat.png"
	path := "123-cat.jpg"
	adapter := &recordingAdapter{
		matches: map[string]*cache.Entry{
			"p1": {ID: "hit-1", Provider: "p1", ImageURL: &url, StoragePath: &path},
		},
	}
	p := &fakeProvider{id: "p1", imageURL: "http://fresh/1.png"}
	svc, _ := newTestService(t, true, adapter, p)

	result, err := svc.Generate(context.Background(), types.GenerationRequest{
		Theme: "animals", Subject: "cat",
	}, GenerateOptions{})
	require.NoError(t, err)

	assert.True(t, result.Cached)
	assert.Equal(t, "hit-1", result.CacheID)
	assert.Equal(t, url, result.ImageURL)
	assert.Equal(t, path, result.StoragePath)
	assert.Equal(t, 0, p.calls, "缓存命中不应触发生成")
}

func TestService_ReadCacheDisabledByDefault(t *testing.T) {
	url := "http://cached.example.com/cat.png"
	adapter := &recordingAdapter{
		matches: map[string]*cache.Entry{
			"p1": {ID: "hit-1", Provider: "p1", ImageURL: &url},
		},
	}
	p := &fakeProvider{id: "p1", imageURL: "http://fresh/1.png"}
	svc, _ := newTestService(t, false, adapter, p)

	result, err := svc.Generate(context.Background(), types.GenerationRequest{
		Theme: "animals", Subject: "cat",
	}, GenerateOptions{})
	require.NoError(t, err)

	assert.False(t, result.Cached, "读路径默认关闭，应正常生成")
	assert.Equal(t, 1, p.calls)
}

func TestService_ForceRefreshBypassesRead(t *testing.T) {
	url := "http://cached.example.com/cat.png"
	adapter := &recordingAdapter{
		matches: map[string]*cache.Entry{
			"p1": {ID: "hit-1", Provider: "p1", ImageURL: &url},
		},
	}
	p := &fakeProvider{id: "p1", imageURL: "http://fresh/1.png"}
	svc, _ := newTestService(t, true, adapter, p)

	result, err := svc.Generate(context.Background(), types.GenerationRequest{
		Theme: "animals", Subject: "cat",
	}, GenerateOptions{ForceRefresh: true})
	require.NoError(t, err)

	assert.False(t, result.Cached)
	assert.Equal(t, 1, p.calls)
	assert.Len(t, adapter.stored, 1, "ForceRefresh 仍应写入新结果")
}

func TestService_PinnedProvider(t *testing.T) {
	p1 := &fakeProvider{id: "p1", imageURL: "http://x/1.png"}
	p2 := &fakeProvider{id: "p2", imageURL: "http://x/2.png"}
	svc, _ := newTestService(t, false, nil, p1, p2)

	result, err := svc.Generate(context.Background(), types.GenerationRequest{
		Theme: "animals", Subject: "cat",
	}, GenerateOptions{Provider: "p2"})
	require.NoError(t, err)

	assert.Equal(t, "p2", result.Provider)
	assert.Equal(t, 0, p1.calls)
}

func TestService_FailedProvidersSurface(t *testing.T) {
	p1 := &fakeProvider{id: "p1", err: errors.New("quota")}
	p2 := &fakeProvider{id: "p2", imageURL: "http://x/2.png"}
	svc, _ := newTestService(t, false, nil, p1, p2)

	result, err := svc.Generate(context.Background(), types.GenerationRequest{
		Theme: "animals", Subject: "cat",
	}, GenerateOptions{})
	require.NoError(t, err)

	require.Len(t, result.FailedProviders, 1)
	assert.Equal(t, "p1", result.FailedProviders[0].ProviderID)
}

func TestService_GenerateFromPrompt(t *testing.T) {
	adapter := &recordingAdapter{}
	p := &fakeProvider{id: "p1", imageURL: "http://x/custom.png"}
	svc, _ := newTestService(t, false, adapter, p)

	result, err := svc.GenerateFromPrompt(context.Background(), "a dragon reading a book", GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "http://x/custom.png", result.ImageURL)
	assert.Empty(t, adapter.stored, "自定义提示词不写缓存")

	_, err = svc.GenerateFromPrompt(context.Background(), "", GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestService_CheckCache(t *testing.T) {
	url := "http://cached/1.png"
	adapter := &recordingAdapter{
		matches: map[string]*cache.Entry{
			"p1": {ID: "hit-1", Provider: "p1", ImageURL: &url},
		},
	}
	svc, _ := newTestService(t, false, adapter, &fakeProvider{id: "p1", imageURL: "x"})

	entry := svc.CheckCache(context.Background(), types.GenerationRequest{Theme: "animals", Subject: "cat"}, "p1")
	require.NotNil(t, entry)
	assert.Equal(t, "hit-1", entry.ID)

	assert.Nil(t, svc.CheckCache(context.Background(), types.GenerationRequest{Theme: "animals", Subject: "cat"}, "p2"))
	assert.Nil(t, svc.CheckCache(context.Background(), types.GenerationRequest{}, "p1"), "非法请求返回 nil")
}

func TestService_CacheHitBumpsAccessCount(t *testing.T) {
	// bumpAsync 是异步的，这里只验证命中路径不会阻塞调用方
	url := "http://cached/1.png"
	adapter := &recordingAdapter{
		matches: map[string]*cache.Entry{
			"p1": {ID: "hit-1", Provider: "p1", ImageURL: &url},
		},
	}
	svc, _ := newTestService(t, true, adapter, &fakeProvider{id: "p1", imageURL: "x"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Generate(context.Background(), types.GenerationRequest{Theme: "animals", Subject: "cat"}, GenerateOptions{})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("缓存命中路径不应阻塞")
	}
}
