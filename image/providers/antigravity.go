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

// AntigravityConfig OpenAI 兼容代理配置（本地或云端）
type AntigravityConfig struct {
	APIKey    string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL   string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Model     string        `yaml:"model" json:"model" env:"MODEL"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	RateLimit float64       `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
}

// AntigravityProvider calls an OpenAI-compatible proxy endpoint.
type AntigravityProvider struct {
	cfg     AntigravityConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewAntigravityProvider creates the client. Both the API key and base URL
// are required since there is no hosted default.
func NewAntigravityProvider(cfg AntigravityConfig) (*AntigravityProvider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "antigravity: api key is required")
	}
	if cfg.BaseURL == "" {
		return nil, types.NewError(types.ErrConfiguration, "antigravity: base url is required")
	}

	// 标准化 baseUrl：移除末尾斜杠，确保包含 /v1
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	cfg.BaseURL = baseURL

	if cfg.Model == "" {
		cfg.Model = "dall-e-3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &AntigravityProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.RateLimit, 1),
	}, nil
}

func (p *AntigravityProvider) ID() string      { return "antigravity" }
func (p *AntigravityProvider) Name() string    { return "Antigravity Local AI" }
func (p *AntigravityProvider) Available() bool { return p.cfg.APIKey != "" && p.cfg.BaseURL != "" }

func (p *AntigravityProvider) Features() []string {
	return []string{"local", "openai_compatible", "custom_models", "custom_endpoint"}
}

// Generate 生成一张图像
func (p *AntigravityProvider) Generate(ctx context.Context, req types.ImageRequest) (*types.ImageResponse, error) {
	if err := waitLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}

	quality := req.Options.Quality
	if quality == "" {
		quality = "standard"
	}
	body := dalleRequest{
		Model:          p.cfg.Model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           "1024x1024",
		Quality:        quality,
		ResponseFormat: "url",
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/images/generations", bytes.NewReader(payload))
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

	var dResp dalleResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, types.NewError(types.ErrProviderProtocol, "antigravity: failed to decode response").
			WithProvider(p.ID()).WithCause(err)
	}

	if len(dResp.Data) > 0 {
		if url := dResp.Data[0].URL; url != "" {
			return &types.ImageResponse{ImageURL: url}, nil
		}
		if b64 := dResp.Data[0].B64JSON; b64 != "" {
			return &types.ImageResponse{ImageURL: "data:image/png;base64," + b64}, nil
		}
	}

	return nil, types.NewError(types.ErrProviderProtocol, "antigravity: no image data in response").
		WithProvider(p.ID())
}
