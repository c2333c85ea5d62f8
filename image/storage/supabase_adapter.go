package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kidcanvas/imagesvc/types"
)

// 对象默认缓存一年
const cacheMaxAge = "max-age=31536000"

// SupabaseConfig Supabase Storage 配置
type SupabaseConfig struct {
	URL     string        `yaml:"url" json:"url" env:"URL"`
	Key     string        `yaml:"key" json:"key" env:"KEY"`
	Bucket  string        `yaml:"bucket" json:"bucket" env:"BUCKET"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// SupabaseAdapter stores objects through the Supabase Storage REST API.
type SupabaseAdapter struct {
	cfg    SupabaseConfig
	client *http.Client
}

// NewSupabaseAdapter creates the adapter. URL and key are required.
func NewSupabaseAdapter(cfg SupabaseConfig) (*SupabaseAdapter, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, types.NewError(types.ErrConfiguration, "supabase storage: url and key are required")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Bucket == "" {
		cfg.Bucket = "coloring-images"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SupabaseAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (a *SupabaseAdapter) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", a.cfg.URL, a.cfg.Bucket, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Key)
	req.Header.Set("apikey", a.cfg.Key)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", cacheMaxAge)
	req.Header.Set("x-upsert", "false")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("supabase upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("supabase upload error: status=%d body=%s", resp.StatusCode, string(errBody))
	}
	return nil
}

func (a *SupabaseAdapter) Delete(ctx context.Context, path string) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", a.cfg.URL, a.cfg.Bucket, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Key)
	req.Header.Set("apikey", a.cfg.Key)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("supabase delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("supabase delete error: status=%d body=%s", resp.StatusCode, string(errBody))
	}
	return nil
}

func (a *SupabaseAdapter) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", a.cfg.URL, a.cfg.Bucket, path)
}
