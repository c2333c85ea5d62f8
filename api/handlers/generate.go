package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/image"
	"github.com/kidcanvas/imagesvc/types"
)

// =============================================================================
// 🖼️ 图像生成 Handler
// =============================================================================

// ImageHandler 图像生成处理器
type ImageHandler struct {
	service *image.Service
	logger  *zap.Logger
}

// NewImageHandler 创建图像生成处理器
func NewImageHandler(service *image.Service, logger *zap.Logger) *ImageHandler {
	return &ImageHandler{
		service: service,
		logger:  logger.With(zap.String("component", "image_handler")),
	}
}

// GenerateImageRequest POST /api/generate-image 请求体
type GenerateImageRequest struct {
	// Params 生成参数
	Params types.GenerationRequest `json:"params"`

	// Provider 固定使用某个提供商（可选）
	Provider string `json:"provider,omitempty"`

	// UseCache 是否使用缓存，默认 true
	UseCache *bool `json:"useCache,omitempty"`

	// ForceRefresh 忽略已缓存结果但仍写入新结果
	ForceRefresh bool `json:"forceRefresh,omitempty"`

	// Options 图像渲染选项（可选）
	Options *types.ImageOptions `json:"options,omitempty"`

	// TimeoutMS 固定提供商时的超时覆盖（毫秒，可选）
	TimeoutMS int `json:"timeoutMs,omitempty"`
}

// GenerateCustomRequest POST /api/generate-custom 请求体
type GenerateCustomRequest struct {
	// Prompt 完整提示词，绕过提示词构建器
	Prompt string `json:"prompt"`

	// Provider 固定使用某个提供商（可选）
	Provider string `json:"provider,omitempty"`

	// Options 图像渲染选项（可选）
	Options *types.ImageOptions `json:"options,omitempty"`
}

// CacheCheckRequest POST /api/cache-check 请求体
type CacheCheckRequest struct {
	Params   types.GenerationRequest `json:"params"`
	Provider string                  `json:"provider"`
}

// HandleGenerate 处理 POST /api/generate-image
func (h *ImageHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req GenerateImageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	opts := image.GenerateOptions{
		Provider:     req.Provider,
		SkipCache:    req.UseCache != nil && !*req.UseCache,
		ForceRefresh: req.ForceRefresh,
		Timeout:      time.Duration(req.TimeoutMS) * time.Millisecond,
	}
	if req.Options != nil {
		opts.ImageOptions = *req.Options
	}

	result, err := h.service.Generate(r.Context(), req.Params, opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteSuccess(w, result)
}

// HandleGenerateCustom 处理 POST /api/generate-custom
// 直接使用调用方给出的完整提示词，不走提示词构建器，也不读写缓存。
func (h *ImageHandler) HandleGenerateCustom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req GenerateCustomRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	opts := image.GenerateOptions{Provider: req.Provider}
	if req.Options != nil {
		opts.ImageOptions = *req.Options
	}

	result, err := h.service.GenerateFromPrompt(r.Context(), req.Prompt, opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteSuccess(w, result)
}

// HandleCacheCheck 处理 POST /api/cache-check
// 只查缓存，不触发生成。
func (h *ImageHandler) HandleCacheCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req CacheCheckRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Provider == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "provider is required", h.logger)
		return
	}

	entry := h.service.CheckCache(r.Context(), req.Params, req.Provider)
	WriteSuccess(w, map[string]interface{}{
		"cached": entry != nil,
		"entry":  entry,
	})
}

// writeServiceError 将服务层错误映射为 API 响应。
// 先匹配最外层的结构化错误：全局超时错误在 Cause 里携带失败明细，
// 不能被当作提供商耗尽处理。
func (h *ImageHandler) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *types.Error
	if errors.As(err, &svcErr) {
		WriteError(w, svcErr, h.logger)
		return
	}

	var exhausted *image.ExhaustedError
	if errors.As(err, &exhausted) {
		WriteError(w, exhausted.AsServiceError(), h.logger)
		return
	}

	WriteError(w, types.NewError(types.ErrInternalError, err.Error()), h.logger)
}
