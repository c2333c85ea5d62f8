package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kidcanvas/imagesvc/types"
)

// ModelScope 异步任务状态。API 实际返回 PROCESSING 而不是 RUNNING。
const (
	taskPending    = "PENDING"
	taskRunning    = "RUNNING"
	taskProcessing = "PROCESSING"
	taskSucceed    = "SUCCEED"
	taskFailed     = "FAILED"
	taskTimeout    = "TIMEOUT"
)

// ModelScopeConfig 魔搭社区图像生成配置
type ModelScopeConfig struct {
	APIKey       string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL      string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Model        string        `yaml:"model" json:"model" env:"MODEL"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" env:"POLL_INTERVAL"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	RateLimit    float64       `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
}

// ModelScopeProvider 通过提交任务加轮询的两阶段协议生成图像。
type ModelScopeProvider struct {
	cfg     ModelScopeConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewModelScopeProvider creates the client. The API key is required.
func NewModelScopeProvider(cfg ModelScopeConfig, logger *zap.Logger) (*ModelScopeProvider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "modelscope: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-inference.modelscope.cn"
	}
	if cfg.Model == "" {
		cfg.Model = "Qwen/Qwen-Image-2512"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 24
	}

	return &ModelScopeProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.RateLimit, 1),
		logger:  logger.With(zap.String("provider", "modelscope")),
	}, nil
}

func (p *ModelScopeProvider) ID() string   { return "modelscope" }
func (p *ModelScopeProvider) Name() string { return "ModelScope (魔搭社区)" }

func (p *ModelScopeProvider) Available() bool { return p.cfg.APIKey != "" }

func (p *ModelScopeProvider) Features() []string {
	return []string{"async_generation", "chinese_prompt", "free_tier", "line_art", "custom_models"}
}

type modelScopeSubmitRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

type modelScopeTaskResponse struct {
	TaskID       string   `json:"task_id"`
	TaskStatus   string   `json:"task_status"`
	OutputImages []string `json:"output_images,omitempty"`
	Message      string   `json:"message,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Generate 提交异步任务并轮询直到完成
func (p *ModelScopeProvider) Generate(ctx context.Context, req types.ImageRequest) (*types.ImageResponse, error) {
	if err := waitLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}

	taskID, err := p.submitTask(ctx, req)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("task submitted", zap.String("task_id", taskID))

	imageURL, err := p.pollTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &types.ImageResponse{ImageURL: imageURL}, nil
}

func (p *ModelScopeProvider) submitTask(ctx context.Context, req types.ImageRequest) (string, error) {
	body := modelScopeSubmitRequest{
		Model:  p.cfg.Model,
		Prompt: req.Prompt,
	}
	if req.Options.Width > 0 && req.Options.Height > 0 {
		body.Size = fmt.Sprintf("%dx%d", req.Options.Width, req.Options.Height)
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/images/generations",
		bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-ModelScope-Async-Mode", "true")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", transportError(p.ID(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return "", protocolError(p.ID(), resp.StatusCode, errBody)
	}

	var task modelScopeTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return "", types.NewError(types.ErrProviderProtocol, "modelscope: failed to decode submit response").
			WithProvider(p.ID()).WithCause(err)
	}
	if task.TaskID == "" {
		return "", types.NewError(types.ErrProviderProtocol, "modelscope: no task_id in submit response").
			WithProvider(p.ID())
	}
	return task.TaskID, nil
}

// pollTask queries task status at a fixed interval until a terminal state or
// the retry budget runs out. Transient query errors are retried within the
// same budget.
func (p *ModelScopeProvider) pollTask(ctx context.Context, taskID string) (string, error) {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/tasks/" + taskID

	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.cfg.PollInterval):
			}
		}

		task, err := p.queryTask(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			p.logger.Warn("task poll failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if attempt >= p.cfg.MaxRetries-1 {
				return "", err
			}
			continue
		}

		switch task.TaskStatus {
		case taskSucceed:
			if len(task.OutputImages) == 0 {
				return "", types.NewError(types.ErrProviderProtocol, "modelscope: no output images in successful task").
					WithProvider(p.ID())
			}
			// 结果 URL 可能有跨域限制或临时过期，下载失败时降级为原始 URL
			dataURL, err := fetchAsDataURL(ctx, p.client, task.OutputImages[0])
			if err != nil {
				p.logger.Warn("failed to download result image, returning original url", zap.Error(err))
				return task.OutputImages[0], nil
			}
			return dataURL, nil

		case taskFailed:
			msg := task.Message
			if msg == "" {
				msg = task.Error
			}
			if msg == "" {
				msg = "unknown error"
			}
			return "", types.NewError(types.ErrProviderProtocol, "modelscope task failed: "+msg).
				WithProvider(p.ID())

		case taskTimeout:
			return "", types.NewError(types.ErrProviderTimeout, "modelscope task timeout").
				WithProvider(p.ID()).WithRetryable(true)

		case taskPending, taskRunning, taskProcessing:
			// 继续等待

		default:
			return "", types.NewError(types.ErrProviderProtocol,
				fmt.Sprintf("modelscope: unknown task status %q", task.TaskStatus)).
				WithProvider(p.ID())
		}
	}

	return "", types.NewError(types.ErrProviderTimeout,
		fmt.Sprintf("modelscope task not finished after %d polls", p.cfg.MaxRetries)).
		WithProvider(p.ID()).WithRetryable(true)
}

func (p *ModelScopeProvider) queryTask(ctx context.Context, endpoint string) (*modelScopeTaskResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-ModelScope-Task-Type", "image_generation")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError(p.ID(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, protocolError(p.ID(), resp.StatusCode, errBody)
	}

	var task modelScopeTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, types.NewError(types.ErrProviderProtocol, "modelscope: failed to decode task response").
			WithProvider(p.ID()).WithCause(err)
	}
	return &task, nil
}
