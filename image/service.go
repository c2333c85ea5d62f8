package image

import (
	"context"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/image/cache"
	"github.com/kidcanvas/imagesvc/image/storage"
	"github.com/kidcanvas/imagesvc/types"
)

var whitespaceRuns = regexp.MustCompile(`\s+`)

// GenerateOptions tunes a single Generate call.
type GenerateOptions struct {
	// Provider 固定使用某个提供商，跳过调度链
	Provider string

	// SkipCache 跳过缓存读写
	SkipCache bool

	// ForceRefresh 忽略已缓存的结果但仍写入新结果
	ForceRefresh bool

	// Timeout 固定提供商时的超时覆盖
	Timeout time.Duration

	// ImageOptions 图像渲染选项，零值字段取默认
	ImageOptions types.ImageOptions
}

// Service wires the prompt builder, the orchestrator, the cache manager,
// and the storage manager into the full generation flow.
type Service struct {
	orchestrator *Orchestrator
	prompts      *PromptBuilder
	cache        *cache.Manager
	storage      *storage.Manager
	logger       *zap.Logger
	metrics      Metrics
	tracer       trace.Tracer

	// readCache gates the cache read path. The write path (gallery
	// population) is always on when a cache backend exists; reads stay off
	// by default until the lookup keying is settled.
	readCache bool
}

// ServiceConfig 服务组装配置
type ServiceConfig struct {
	ReadCacheEnabled bool
}

// NewService builds the service. Cache and storage managers must be non-nil;
// pass managers backed by NoOp adapters to disable them.
func NewService(
	orchestrator *Orchestrator,
	prompts *PromptBuilder,
	cacheMgr *cache.Manager,
	storageMgr *storage.Manager,
	cfg ServiceConfig,
	logger *zap.Logger,
	metrics Metrics,
) *Service {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Service{
		orchestrator: orchestrator,
		prompts:      prompts,
		cache:        cacheMgr,
		storage:      storageMgr,
		logger:       logger.With(zap.String("component", "image_service")),
		metrics:      metrics,
		tracer:       otel.Tracer("imagesvc/image"),
		readCache:    cfg.ReadCacheEnabled,
	}
}

// Generate runs the whole flow: optional cache lookup, prompt build,
// provider scheduling, best-effort storage persist, best-effort cache
// record.
func (s *Service) Generate(ctx context.Context, req types.GenerationRequest, opts GenerateOptions) (*types.GenerationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	opts.ImageOptions.ApplyDefaults()

	ctx, span := s.tracer.Start(ctx, "image.Generate",
		trace.WithAttributes(
			attribute.String("theme", req.Theme),
			attribute.String("difficulty", string(req.Difficulty)),
			attribute.Bool("skip_cache", opts.SkipCache),
		))
	defer span.End()

	if hit := s.lookupCache(ctx, req, opts); hit != nil {
		span.SetAttributes(attribute.Bool("cached", true))
		return hit, nil
	}

	prompt := s.prompts.Build(req)
	gen, err := s.dispatch(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("provider", gen.ProviderID))

	filename := whitespaceRuns.ReplaceAllString(req.Theme+"-"+req.Subject, "-")
	stored := s.persist(ctx, gen.Response.ImageURL, filename)

	result := &types.GenerationResult{
		ImageURL:        stored.PublicURL,
		Provider:        gen.ProviderID,
		StoragePath:     stored.StoragePath,
		FailedProviders: gen.Failed,
	}

	if !opts.SkipCache && s.cache.Enabled() {
		result.CacheID = s.cache.Store(ctx, req, prompt, gen.ProviderID, stored.PublicURL, stored.StoragePath)
	}

	s.logger.Info("image generated",
		zap.String("provider", gen.ProviderID),
		zap.String("theme", req.Theme),
		zap.String("subject", req.Subject),
		zap.Int("failed_attempts", len(gen.Failed)),
		zap.Bool("stored", stored.StoragePath != ""),
	)
	return result, nil
}

// GenerateFromPrompt bypasses the prompt builder and the cache, for custom
// one-off prompts. The image is still persisted.
func (s *Service) GenerateFromPrompt(ctx context.Context, prompt string, opts GenerateOptions) (*types.GenerationResult, error) {
	if prompt == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is required")
	}
	opts.ImageOptions.ApplyDefaults()

	ctx, span := s.tracer.Start(ctx, "image.GenerateFromPrompt")
	defer span.End()

	gen, err := s.dispatch(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}

	filename := "custom-" + time.Now().UTC().Format("20060102150405")
	stored := s.persist(ctx, gen.Response.ImageURL, filename)

	return &types.GenerationResult{
		ImageURL:        stored.PublicURL,
		Provider:        gen.ProviderID,
		StoragePath:     stored.StoragePath,
		FailedProviders: gen.Failed,
	}, nil
}

// CheckCache reports whether a request is already cached for a provider,
// without generating anything.
func (s *Service) CheckCache(ctx context.Context, req types.GenerationRequest, provider string) *cache.Entry {
	if err := req.Validate(); err != nil {
		return nil
	}
	return s.cache.FindExactMatch(ctx, req, provider)
}

// CacheStats 缓存统计透传
func (s *Service) CacheStats(ctx context.Context) *cache.Stats {
	return s.cache.Stats(ctx)
}

// CleanupCache 缓存清理透传
func (s *Service) CleanupCache(ctx context.Context, maxAgeDays int, minAccessCount int64) int64 {
	return s.cache.Cleanup(ctx, maxAgeDays, minAccessCount)
}

// GalleryImages 图库查询透传
func (s *Service) GalleryImages(ctx context.Context, opts cache.GalleryOptions) []cache.Entry {
	return s.cache.GalleryImages(ctx, opts)
}

// IncrementAccessCount 访问计数透传（下载/打印埋点）
func (s *Service) IncrementAccessCount(ctx context.Context, id string) {
	s.cache.IncrementAccessCount(ctx, id)
}

// Orchestrator exposes the underlying orchestrator for registry and
// strategy administration.
func (s *Service) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// lookupCache serves a cached result when the read path is enabled. Pinned
// requests check only that provider; chain requests check enabled providers
// in priority order.
func (s *Service) lookupCache(ctx context.Context, req types.GenerationRequest, opts GenerateOptions) *types.GenerationResult {
	if !s.readCache || !s.cache.Enabled() || opts.SkipCache || opts.ForceRefresh {
		return nil
	}

	providerIDs := []string{opts.Provider}
	if opts.Provider == "" {
		providerIDs = s.orchestrator.EnabledProviderIDs()
	}

	for _, id := range providerIDs {
		entry := s.cache.FindExactMatch(ctx, req, id)
		if entry == nil || entry.ImageURL == nil {
			continue
		}
		s.metrics.RecordCacheLookup(true)

		result := &types.GenerationResult{
			ImageURL: *entry.ImageURL,
			Provider: entry.Provider,
			Cached:   true,
			CacheID:  entry.ID,
		}
		if entry.StoragePath != nil {
			result.StoragePath = *entry.StoragePath
		}
		return result
	}

	s.metrics.RecordCacheLookup(false)
	return nil
}

func (s *Service) dispatch(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	imageReq := types.ImageRequest{Prompt: prompt, Options: opts.ImageOptions}
	if opts.Provider != "" {
		return s.orchestrator.GenerateWithProvider(ctx, opts.Provider, imageReq, opts.Timeout)
	}
	return s.orchestrator.Generate(ctx, imageReq)
}

// persist stores the image best-effort and records the upload outcome.
func (s *Service) persist(ctx context.Context, imageURL, filename string) storage.Result {
	if !s.storage.Enabled() {
		return storage.Result{PublicURL: imageURL}
	}
	start := time.Now()
	stored := s.storage.Store(ctx, imageURL, filename)
	outcome := "success"
	if stored.StoragePath == "" {
		outcome = "fallback"
	}
	s.metrics.RecordStorageUpload(outcome, time.Since(start))
	return stored
}
