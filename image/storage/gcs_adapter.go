package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/kidcanvas/imagesvc/types"
)

// GCSConfig Google Cloud Storage 配置
type GCSConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket" env:"BUCKET"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file" env:"CREDENTIALS_FILE"`
	// CDNDomain 配置后公开 URL 走 CDN 域名而不是 storage.googleapis.com
	CDNDomain string        `yaml:"cdn_domain" json:"cdn_domain" env:"CDN_DOMAIN"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// GCSAdapter stores objects in a Google Cloud Storage bucket.
type GCSAdapter struct {
	cfg    GCSConfig
	bucket *gcs.BucketHandle
}

// NewGCSAdapter creates the adapter. The bucket name is required;
// credentials fall back to application default credentials when no file is
// configured.
func NewGCSAdapter(ctx context.Context, cfg GCSConfig) (*GCSAdapter, error) {
	if cfg.Bucket == "" {
		return nil, types.NewError(types.ErrConfiguration, "gcs storage: bucket is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	return &GCSAdapter{
		cfg:    cfg,
		bucket: client.Bucket(cfg.Bucket),
	}, nil
}

func (a *GCSAdapter) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	w := a.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, " + cacheMaxAge

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs upload failed: %w", err)
	}
	return nil
}

func (a *GCSAdapter) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if err := a.bucket.Object(path).Delete(ctx); err != nil {
		return fmt.Errorf("gcs delete failed: %w", err)
	}
	return nil
}

func (a *GCSAdapter) PublicURL(path string) string {
	if a.cfg.CDNDomain != "" {
		return "https://" + strings.TrimRight(a.cfg.CDNDomain, "/") + "/" + path
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", a.cfg.Bucket, path)
}
