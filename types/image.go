package types

import "time"

// Difficulty controls how elaborate the generated line art is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulty levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// GenerationRequest 涂色图生成请求参数
type GenerationRequest struct {
	Theme        string     `json:"theme"`
	Subject      string     `json:"subject"`
	Difficulty   Difficulty `json:"difficulty"`
	CustomPrompt string     `json:"customPrompt,omitempty"`
}

// Validate checks required fields and normalizes the difficulty.
func (r *GenerationRequest) Validate() error {
	if r.Theme == "" || r.Subject == "" {
		return NewError(ErrInvalidRequest, "theme and subject are required")
	}
	if r.Difficulty == "" {
		r.Difficulty = DifficultyMedium
	}
	if !r.Difficulty.Valid() {
		return NewError(ErrInvalidRequest, "difficulty must be one of easy, medium, hard")
	}
	return nil
}

// ImageOptions 图像生成选项
type ImageOptions struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Style   string `json:"style,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// DefaultImageOptions returns the options used when the caller passes none.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		Width:   1024,
		Height:  1024,
		Style:   "line_art",
		Quality: "standard",
	}
}

// ApplyDefaults fills zero-valued fields from DefaultImageOptions.
func (o *ImageOptions) ApplyDefaults() {
	def := DefaultImageOptions()
	if o.Width == 0 {
		o.Width = def.Width
	}
	if o.Height == 0 {
		o.Height = def.Height
	}
	if o.Style == "" {
		o.Style = def.Style
	}
	if o.Quality == "" {
		o.Quality = def.Quality
	}
}

// ImageRequest is what a provider client receives: the fully built prompt
// plus rendering options.
type ImageRequest struct {
	Prompt  string       `json:"prompt"`
	Options ImageOptions `json:"options"`
}

// ImageResponse is a single provider's successful output. ImageURL may be a
// remote URL or a data URI, depending on the vendor.
type ImageResponse struct {
	ImageURL string `json:"imageUrl"`
}

// ProviderError records one failed attempt in the fallback chain.
type ProviderError struct {
	ProviderID   string    `json:"providerId"`
	ProviderName string    `json:"providerName"`
	Error        string    `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
}

// GenerationResult 生成结果（服务层最终输出）
type GenerationResult struct {
	ImageURL        string          `json:"imageUrl"`
	Provider        string          `json:"provider"`
	Cached          bool            `json:"cached"`
	CacheID         string          `json:"cacheId,omitempty"`
	StoragePath     string          `json:"storagePath,omitempty"`
	FailedProviders []ProviderError `json:"failedProviders,omitempty"`
}
