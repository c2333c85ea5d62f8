package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/api/handlers"
	"github.com/kidcanvas/imagesvc/config"
	"github.com/kidcanvas/imagesvc/image"
	"github.com/kidcanvas/imagesvc/image/cache"
	"github.com/kidcanvas/imagesvc/image/providers"
	"github.com/kidcanvas/imagesvc/image/storage"
	"github.com/kidcanvas/imagesvc/internal/database"
	"github.com/kidcanvas/imagesvc/internal/metrics"
	"github.com/kidcanvas/imagesvc/internal/server"
	"github.com/kidcanvas/imagesvc/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 imagesvc 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心服务
	service *image.Service

	// Handlers
	imageHandler   *handlers.ImageHandler
	galleryHandler *handlers.GalleryHandler
	adminHandler   *handlers.AdminHandler
	healthHandler  *handlers.HealthHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// 存储依赖
	dbPool      *database.PoolManager
	mongoClient *mongo.Client
	redisClient *redis.Client

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("imagesvc", s.logger)

	// 2. 组装图像服务（缓存、存储、提供商、调度器）
	if err := s.initService(); err != nil {
		return fmt.Errorf("failed to init image service: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("cache_backend", s.cfg.Cache.Backend),
		zap.String("storage_backend", s.cfg.Storage.Backend),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initService 组装缓存、存储、提供商与调度器
func (s *Server) initService() error {
	cacheMgr, err := s.buildCacheManager()
	if err != nil {
		return err
	}

	storageMgr, err := s.buildStorageManager()
	if err != nil {
		return err
	}

	orchestrator := image.NewOrchestrator(s.cfg.Strategy, s.logger, s.metricsCollector)
	s.registerProviders(orchestrator)

	s.service = image.NewService(
		orchestrator,
		image.NewPromptBuilder(),
		cacheMgr,
		storageMgr,
		image.ServiceConfig{ReadCacheEnabled: s.cfg.Cache.ReadEnabled},
		s.logger,
		s.metricsCollector,
	)

	return nil
}

// buildCacheManager 按配置选择缓存后端
func (s *Server) buildCacheManager() (*cache.Manager, error) {
	var adapter cache.Adapter

	switch s.cfg.Cache.Backend {
	case "gorm":
		db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("open cache database: %w", err)
		}
		pool, err := database.NewPoolManager(db, database.PoolConfig{
			MaxIdleConns:        s.cfg.Database.MaxIdleConns,
			MaxOpenConns:        s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
			HealthCheckInterval: database.DefaultPoolConfig().HealthCheckInterval,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("init database pool: %w", err)
		}
		s.dbPool = pool

		gormAdapter, err := cache.NewGormAdapter(db)
		if err != nil {
			return nil, fmt.Errorf("init gorm cache adapter: %w", err)
		}
		adapter = gormAdapter

	case "mongo":
		client, err := mongo.Connect(mongooptions.Client().ApplyURI(s.cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		s.mongoClient = client

		mongoAdapter, err := cache.NewMongoAdapter(
			context.Background(),
			client.Database(s.cfg.Mongo.Database),
			s.cfg.Mongo.Collection,
		)
		if err != nil {
			return nil, fmt.Errorf("init mongo cache adapter: %w", err)
		}
		adapter = mongoAdapter

	case "none", "":
		s.logger.Info("cache backend disabled")
	}

	var lookaside *cache.Lookaside
	if s.cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
		})
		lookaside = cache.NewLookaside(s.redisClient, s.cfg.Redis.TTL, s.logger)
		s.logger.Info("redis look-aside cache enabled", zap.String("addr", s.cfg.Redis.Addr))
	}

	return cache.NewManager(adapter, lookaside, s.logger), nil
}

// buildStorageManager 按配置选择存储后端
func (s *Server) buildStorageManager() (*storage.Manager, error) {
	var adapter storage.Adapter

	switch s.cfg.Storage.Backend {
	case "supabase":
		supabase, err := storage.NewSupabaseAdapter(s.cfg.Storage.Supabase)
		if err != nil {
			return nil, fmt.Errorf("init supabase storage adapter: %w", err)
		}
		adapter = supabase

	case "gcs":
		gcs, err := storage.NewGCSAdapter(context.Background(), s.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage adapter: %w", err)
		}
		adapter = gcs

	case "none", "":
		s.logger.Info("storage backend disabled, images served from provider urls")
	}

	transcoder := storage.NewTranscoder(s.cfg.Storage.Transcoder, s.cfg.Storage.Quality)

	return storage.NewManager(adapter, transcoder, s.logger), nil
}

// registerProviders 注册所有配置了凭据的提供商。
// 未配置 API Key 的提供商跳过注册，调度时按未注册处理。
func (s *Server) registerProviders(orch *image.Orchestrator) {
	if s.cfg.Providers.ModelScope.APIKey != "" {
		p, err := providers.NewModelScopeProvider(s.cfg.Providers.ModelScope, s.logger)
		if err != nil {
			s.logger.Warn("modelscope provider disabled", zap.Error(err))
		} else {
			orch.RegisterProvider(p)
		}
	}

	if s.cfg.Providers.LabNana.APIKey != "" {
		p, err := providers.NewLabNanaProvider(s.cfg.Providers.LabNana)
		if err != nil {
			s.logger.Warn("labnana provider disabled", zap.Error(err))
		} else {
			orch.RegisterProvider(p)
		}
	}

	if s.cfg.Providers.Gemini.APIKey != "" {
		p, err := providers.NewGeminiProvider(s.cfg.Providers.Gemini)
		if err != nil {
			s.logger.Warn("gemini provider disabled", zap.Error(err))
		} else {
			orch.RegisterProvider(p)
		}
	}

	if s.cfg.Providers.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAIProvider(s.cfg.Providers.OpenAI)
		if err != nil {
			s.logger.Warn("openai provider disabled", zap.Error(err))
		} else {
			orch.RegisterProvider(p)
		}
	}

	if s.cfg.Providers.Antigravity.APIKey != "" && s.cfg.Providers.Antigravity.BaseURL != "" {
		p, err := providers.NewAntigravityProvider(s.cfg.Providers.Antigravity)
		if err != nil {
			s.logger.Warn("antigravity provider disabled", zap.Error(err))
		} else {
			orch.RegisterProvider(p)
		}
	}

	registered := orch.RegisteredProviderIDs()
	if len(registered) == 0 {
		s.logger.Warn("no image providers registered, generation requests will fail")
	} else {
		s.logger.Info("image providers registered", zap.Strings("providers", registered))
	}
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.imageHandler = handlers.NewImageHandler(s.service, s.logger)
	s.galleryHandler = handlers.NewGalleryHandler(s.service, s.logger)
	s.adminHandler = handlers.NewAdminHandler(s.service, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.dbPool != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.dbPool.Ping))
	}
	if s.mongoClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("mongodb", func(ctx context.Context) error {
			return s.mongoClient.Ping(ctx, nil)
		}))
	}
	if s.redisClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("/api/generate-image", s.imageHandler.HandleGenerate)
	mux.HandleFunc("/api/generate-custom", s.imageHandler.HandleGenerateCustom)
	mux.HandleFunc("/api/cache-check", s.imageHandler.HandleCacheCheck)

	mux.HandleFunc("/api/gallery", s.galleryHandler.HandleGallery)
	mux.HandleFunc("/api/gallery-increment", s.galleryHandler.HandleGalleryIncrement)

	mux.HandleFunc("/api/providers", s.adminHandler.HandleListProviders)
	mux.HandleFunc("/api/providers/enabled", s.adminHandler.HandleSetProviderEnabled)
	mux.HandleFunc("/api/cache/stats", s.adminHandler.HandleCacheStats)
	mux.HandleFunc("/api/cache/cleanup", s.adminHandler.HandleCacheCleanup)

	// ========================================
	// 构建中间件链
	// ========================================
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭存储依赖
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("Database pool shutdown error", zap.Error(err))
		}
	}
	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			s.logger.Error("MongoDB shutdown error", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭遥测
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
