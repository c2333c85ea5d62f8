package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kidcanvas/imagesvc/types"
)

// LabNanaConfig LabNana 代理服务配置（Google Gemini 图像生成代理）
type LabNanaConfig struct {
	APIKey    string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL   string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	RateLimit float64       `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
}

// LabNanaProvider calls the LabNana proxy, which fronts Google's image
// models with a Gemini-shaped response.
type LabNanaProvider struct {
	cfg     LabNanaConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewLabNanaProvider creates the client. The API key is required.
func NewLabNanaProvider(cfg LabNanaConfig) (*LabNanaProvider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "labnana: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.labnana.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &LabNanaProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.RateLimit, 1),
	}, nil
}

func (p *LabNanaProvider) ID() string      { return "labnana" }
func (p *LabNanaProvider) Name() string    { return "LabNana" }
func (p *LabNanaProvider) Available() bool { return p.cfg.APIKey != "" }

func (p *LabNanaProvider) Features() []string {
	return []string{"google_gemini", "high_resolution", "reference_images", "line_art"}
}

type labNanaImageConfig struct {
	ImageSize   string `json:"imageSize"`
	AspectRatio string `json:"aspectRatio"`
}

type labNanaRequest struct {
	Provider    string             `json:"provider"`
	Prompt      string             `json:"prompt"`
	ImageConfig labNanaImageConfig `json:"imageConfig"`
}

type labNanaResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	URL string `json:"url,omitempty"`
}

// Generate 生成一张图像
func (p *LabNanaProvider) Generate(ctx context.Context, req types.ImageRequest) (*types.ImageResponse, error) {
	if err := waitLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}

	// 按宽度映射分辨率档位，涂色卡片固定 1:1 比例
	imageSize := "1K"
	if req.Options.Width >= 4096 {
		imageSize = "4K"
	} else if req.Options.Width >= 2048 {
		imageSize = "2K"
	}

	body := labNanaRequest{
		Provider: "google",
		Prompt:   req.Prompt,
		ImageConfig: labNanaImageConfig{
			ImageSize:   imageSize,
			AspectRatio: "1:1",
		},
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/openapi/v1/images/generation",
		bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError(p.ID(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, protocolError(p.ID(), resp.StatusCode, errBody)
	}

	var lResp labNanaResponse
	if err := json.NewDecoder(resp.Body).Decode(&lResp); err != nil {
		return nil, types.NewError(types.ErrProviderProtocol, "labnana: failed to decode response").
			WithProvider(p.ID()).WithCause(err)
	}

	if len(lResp.Candidates) > 0 && len(lResp.Candidates[0].Content.Parts) > 0 {
		if inline := lResp.Candidates[0].Content.Parts[0].InlineData; inline != nil && inline.Data != "" {
			mimeType := inline.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return &types.ImageResponse{ImageURL: "data:" + mimeType + ";base64," + inline.Data}, nil
		}
	}
	if lResp.URL != "" {
		return &types.ImageResponse{ImageURL: lResp.URL}, nil
	}

	return nil, types.NewError(types.ErrProviderProtocol, "labnana: no image data in response").
		WithProvider(p.ID())
}
