package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

var dataURIPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

var extensionByMIME = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Manager runs the persistence pipeline: detect data URI vs remote URL,
// materialize the bytes, best-effort transcode, and upload under a
// `{unix-ms}-{slug}.{ext}` key. Store never returns an error; any failure
// falls back to the original image reference.
type Manager struct {
	adapter    Adapter
	transcoder Transcoder
	client     *http.Client
	logger     *zap.Logger
	enabled    bool
}

// NewManager creates a manager. A nil adapter yields a disabled manager
// backed by NoOpAdapter; a nil transcoder disables re-encoding.
func NewManager(adapter Adapter, transcoder Transcoder, logger *zap.Logger) *Manager {
	enabled := adapter != nil
	if adapter == nil {
		adapter = NoOpAdapter{}
	}
	if _, noop := adapter.(NoOpAdapter); noop {
		enabled = false
	}
	if transcoder == nil {
		transcoder = NoopTranscoder{}
	}
	return &Manager{
		adapter:    adapter,
		transcoder: transcoder,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(zap.String("component", "storage_manager")),
		enabled:    enabled,
	}
}

// Enabled reports whether a real backend is configured.
func (m *Manager) Enabled() bool { return m.enabled }

// Store persists an image given either a data URI or a remote URL. On any
// failure the original reference is returned with an empty storage path.
func (m *Manager) Store(ctx context.Context, imageData, filename string) Result {
	fallback := Result{PublicURL: imageData}
	if !m.enabled {
		return fallback
	}

	data, contentType, err := m.materialize(ctx, imageData)
	if err != nil {
		m.logger.Warn("failed to materialize image, keeping original url", zap.Error(err))
		return fallback
	}

	ext, ok := extensionByMIME[contentType]
	if !ok {
		ext = "png"
	}
	if out := m.transcoder.Transcode(data, contentType); out != nil {
		m.logger.Debug("image transcoded",
			zap.Int("original_bytes", len(data)),
			zap.Int("transcoded_bytes", len(out.Data)),
			zap.String("content_type", out.ContentType),
		)
		data = out.Data
		contentType = out.ContentType
		ext = out.Extension
	}

	path := fmt.Sprintf("%d-%s.%s", time.Now().UnixMilli(), SanitizeFilename(filename), ext)

	if err := m.adapter.Upload(ctx, path, data, contentType); err != nil {
		m.logger.Warn("upload failed, keeping original url",
			zap.String("path", path),
			zap.Error(err),
		)
		return fallback
	}

	return Result{PublicURL: m.adapter.PublicURL(path), StoragePath: path}
}

// Delete removes a stored object. Empty paths and failures are ignored.
func (m *Manager) Delete(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := m.adapter.Delete(ctx, path); err != nil {
		m.logger.Warn("delete failed", zap.String("path", path), zap.Error(err))
	}
}

// PublicURL returns the public address for a stored object.
func (m *Manager) PublicURL(path string) string {
	return m.adapter.PublicURL(path)
}

// materialize turns a data URI or remote URL into raw bytes plus a MIME type.
func (m *Manager) materialize(ctx context.Context, imageData string) ([]byte, string, error) {
	if strings.HasPrefix(imageData, "data:image") {
		match := dataURIPattern.FindStringSubmatch(imageData)
		if match == nil {
			return nil, "", fmt.Errorf("malformed data uri")
		}
		data, err := base64.StdEncoding.DecodeString(match[2])
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode data uri: %w", err)
		}
		return data, match[1], nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageData, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("failed to fetch image: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}

var (
	combiningMarks = regexp.MustCompile(`[\x{0300}-\x{036f}]`)
	nonSlugChars   = regexp.MustCompile(`[^a-z0-9-]`)
	dashRuns       = regexp.MustCompile(`-+`)
)

// SanitizeFilename turns arbitrary text into a storage-safe slug: NFD
// normalize, drop combining marks and non-ASCII, lowercase, collapse
// everything else to single dashes, trim, cap at 50 chars. Empty results
// become "image".
func SanitizeFilename(filename string) string {
	s := norm.NFD.String(filename)
	s = combiningMarks.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)
	s = strings.ToLower(s)
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		// 截断可能重新引入结尾连字符
		s = strings.TrimRight(s[:50], "-")
	}
	if s == "" {
		return "image"
	}
	return s
}
