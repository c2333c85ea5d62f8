package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/image"
	"github.com/kidcanvas/imagesvc/image/cache"
	"github.com/kidcanvas/imagesvc/types"
)

// =============================================================================
// 🖼️ 图库 Handler
// =============================================================================

const (
	defaultGalleryLimit = 20
	maxGalleryLimit     = 100
)

// GalleryHandler 图库查询处理器
type GalleryHandler struct {
	service *image.Service
	logger  *zap.Logger
}

// NewGalleryHandler 创建图库处理器
func NewGalleryHandler(service *image.Service, logger *zap.Logger) *GalleryHandler {
	return &GalleryHandler{
		service: service,
		logger:  logger.With(zap.String("component", "gallery_handler")),
	}
}

// GalleryIncrementRequest POST /api/gallery-increment 请求体
type GalleryIncrementRequest struct {
	ImageID string `json:"imageId"`
}

// HandleGallery 处理 GET /api/gallery
// 查询参数: theme, limit (默认 20, 最大 100), offset, orderBy (popular|recent)
func (h *GalleryHandler) HandleGallery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	q := r.URL.Query()

	limit := defaultGalleryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be an integer", h.logger)
			return
		}
		limit = n
	}
	if limit <= 0 {
		limit = defaultGalleryLimit
	}
	if limit > maxGalleryLimit {
		limit = maxGalleryLimit
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "offset must be a non-negative integer", h.logger)
			return
		}
		offset = n
	}

	orderBy := cache.OrderPopular
	if raw := q.Get("orderBy"); raw == string(cache.OrderRecent) {
		orderBy = cache.OrderRecent
	}

	images := h.service.GalleryImages(r.Context(), cache.GalleryOptions{
		Theme:   q.Get("theme"),
		Limit:   limit,
		Offset:  offset,
		OrderBy: orderBy,
	})

	WriteSuccess(w, map[string]interface{}{
		"images": images,
		"count":  len(images),
	})
}

// HandleGalleryIncrement 处理 POST /api/gallery-increment
// 下载或打印埋点，访问计数加一。
func (h *GalleryHandler) HandleGalleryIncrement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req GalleryIncrementRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ImageID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "imageId is required", h.logger)
		return
	}

	h.service.IncrementAccessCount(r.Context(), req.ImageID)

	WriteSuccess(w, map[string]bool{"success": true})
}
