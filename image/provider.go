// Package image implements the coloring-page generation core: the provider
// abstraction, the priority fallback orchestrator, the prompt builder, and
// the service that ties providers, cache, and storage together.
package image

import (
	"context"

	"github.com/kidcanvas/imagesvc/types"
)

// Provider is a single image generation vendor client.
//
// Generate must honor ctx cancellation and return either a remote URL or a
// data URI in the response. Implementations should not retry internally
// except where the vendor protocol requires polling.
type Provider interface {
	// ID 提供商唯一标识（如 "modelscope"）
	ID() string

	// Name 人类可读名称
	Name() string

	// Available reports whether the client is configured well enough to
	// attempt a call (an API key is present, for example).
	Available() bool

	// Features lists vendor capability tags, informational only.
	Features() []string

	// Generate 生成一张图像
	Generate(ctx context.Context, req types.ImageRequest) (*types.ImageResponse, error)
}
