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

// GeminiConfig Google Imagen 配置
type GeminiConfig struct {
	APIKey    string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL   string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Model     string        `yaml:"model" json:"model" env:"MODEL"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	RateLimit float64       `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
}

// GeminiProvider calls Google's Imagen predict endpoint.
type GeminiProvider struct {
	cfg     GeminiConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewGeminiProvider creates the client. The API key is required.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "gemini: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "imagen-3.0-generate-001"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &GeminiProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.RateLimit, 1),
	}, nil
}

func (p *GeminiProvider) ID() string      { return "gemini" }
func (p *GeminiProvider) Name() string    { return "Google Gemini (Imagen 3)" }
func (p *GeminiProvider) Available() bool { return p.cfg.APIKey != "" }

func (p *GeminiProvider) Features() []string {
	return []string{"high_quality", "photorealistic", "fast"}
}

type imagenRequest struct {
	Instances []struct {
		Prompt string `json:"prompt"`
	} `json:"instances"`
	Parameters struct {
		SampleCount int    `json:"sampleCount"`
		AspectRatio string `json:"aspectRatio"`
	} `json:"parameters"`
}

type imagenResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
		URL                string `json:"url,omitempty"`
	} `json:"predictions"`
}

// Generate 生成一张图像
func (p *GeminiProvider) Generate(ctx context.Context, req types.ImageRequest) (*types.ImageResponse, error) {
	if err := waitLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}

	var body imagenRequest
	body.Instances = append(body.Instances, struct {
		Prompt string `json:"prompt"`
	}{Prompt: req.Prompt})
	body.Parameters.SampleCount = 1
	body.Parameters.AspectRatio = "1:1"
	if req.Options.Width > 0 && req.Options.Height > 0 && req.Options.Width != req.Options.Height {
		body.Parameters.AspectRatio = "3:4"
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") +
		"/v1beta/models/" + p.cfg.Model + ":predict?key=" + p.cfg.APIKey

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
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

	var iResp imagenResponse
	if err := json.NewDecoder(resp.Body).Decode(&iResp); err != nil {
		return nil, types.NewError(types.ErrProviderProtocol, "gemini: failed to decode response").
			WithProvider(p.ID()).WithCause(err)
	}

	if len(iResp.Predictions) > 0 {
		if b64 := iResp.Predictions[0].BytesBase64Encoded; b64 != "" {
			return &types.ImageResponse{ImageURL: "data:image/png;base64," + b64}, nil
		}
		if url := iResp.Predictions[0].URL; url != "" {
			return &types.ImageResponse{ImageURL: url}, nil
		}
	}

	return nil, types.NewError(types.ErrProviderProtocol, "gemini: no image data in response").
		WithProvider(p.ID())
}
