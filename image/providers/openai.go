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

// OpenAIConfig DALL-E 图像生成配置
type OpenAIConfig struct {
	APIKey    string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL   string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Model     string        `yaml:"model" json:"model" env:"MODEL"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	RateLimit float64       `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
}

// OpenAIProvider calls the DALL-E images endpoint.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenAIProvider creates the client. The API key is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "openai: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "dall-e-3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAIProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.RateLimit, 1),
	}, nil
}

func (p *OpenAIProvider) ID() string      { return "openai" }
func (p *OpenAIProvider) Name() string    { return "OpenAI DALL-E 3" }
func (p *OpenAIProvider) Available() bool { return p.cfg.APIKey != "" }

func (p *OpenAIProvider) Features() []string {
	return []string{"high_quality", "complex_prompts", "content_moderation"}
}

type dalleRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type dalleResponse struct {
	Data []struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	} `json:"data"`
}

// Generate 生成一张图像
//
// DALL-E 3 只支持 1024x1024 / 1024x1792 / 1792x1024，这里固定方形尺寸。
func (p *OpenAIProvider) Generate(ctx context.Context, req types.ImageRequest) (*types.ImageResponse, error) {
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
		Style:          "natural",
		ResponseFormat: "url",
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/images/generations",
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

	var dResp dalleResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, types.NewError(types.ErrProviderProtocol, "openai: failed to decode response").
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

	return nil, types.NewError(types.ErrProviderProtocol, "openai: no image url in response").
		WithProvider(p.ID())
}
