package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/image"
	"github.com/kidcanvas/imagesvc/types"
)

// =============================================================================
// 🔧 管理 Handler（提供商注册表与缓存运维）
// =============================================================================

// AdminHandler 管理处理器
type AdminHandler struct {
	service *image.Service
	logger  *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(service *image.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		logger:  logger.With(zap.String("component", "admin_handler")),
	}
}

// ProviderStatus 单个提供商的注册表状态
type ProviderStatus struct {
	ID        string `json:"id"`
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	Priority  int    `json:"priority"`
}

// SetProviderEnabledRequest POST /api/providers/enabled 请求体
type SetProviderEnabledRequest struct {
	ProviderID string `json:"providerId"`
	Enabled    bool   `json:"enabled"`
}

// CacheCleanupRequest POST /api/cache/cleanup 请求体
type CacheCleanupRequest struct {
	// MaxAgeDays 最近访问早于该天数的条目视为过期，0 取默认值
	MaxAgeDays int `json:"maxAgeDays,omitempty"`

	// MinAccessCount 访问次数不超过该值才会被清理
	MinAccessCount int64 `json:"minAccessCount,omitempty"`
}

// HandleListProviders 处理 GET /api/providers
func (h *AdminHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	orch := h.service.Orchestrator()
	strategy := orch.GetStrategy()

	policies := make(map[string]image.ProviderPolicy, len(strategy.Providers))
	for _, p := range strategy.Providers {
		policies[p.ID] = p
	}

	statuses := make([]ProviderStatus, 0)
	for _, id := range orch.RegisteredProviderIDs() {
		status := ProviderStatus{
			ID:        id,
			Available: orch.IsProviderAvailable(id),
		}
		if policy, ok := policies[id]; ok {
			status.Enabled = policy.Enabled
			status.Priority = policy.Priority
		}
		statuses = append(statuses, status)
	}

	WriteSuccess(w, map[string]interface{}{
		"providers":     statuses,
		"autoFallback":  strategy.AutoFallback,
		"globalTimeout": strategy.GlobalTimeout.String(),
	})
}

// HandleSetProviderEnabled 处理 POST /api/providers/enabled
func (h *AdminHandler) HandleSetProviderEnabled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req SetProviderEnabledRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ProviderID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "providerId is required", h.logger)
		return
	}

	if err := h.service.Orchestrator().SetProviderEnabled(req.ProviderID, req.Enabled); err != nil {
		var svcErr *types.Error
		if errors.As(err, &svcErr) {
			WriteError(w, svcErr, h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrInternalError, err.Error()), h.logger)
		return
	}

	h.logger.Info("provider enabled flag updated",
		zap.String("provider", req.ProviderID),
		zap.Bool("enabled", req.Enabled),
	)

	WriteSuccess(w, map[string]bool{"success": true})
}

// HandleCacheStats 处理 GET /api/cache/stats
func (h *AdminHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	WriteSuccess(w, h.service.CacheStats(r.Context()))
}

// HandleCacheCleanup 处理 POST /api/cache/cleanup
func (h *AdminHandler) HandleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req CacheCleanupRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	deleted := h.service.CleanupCache(r.Context(), req.MaxAgeDays, req.MinAccessCount)

	WriteSuccess(w, map[string]int64{"deleted": deleted})
}
