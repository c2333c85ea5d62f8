package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

// memoryAdapter 内存存储适配器
type memoryAdapter struct {
	objects      map[string][]byte
	contentTypes map[string]string
	failUpload   bool
}

func newMemoryAdapter() *memoryAdapter {
	return &memoryAdapter{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (m *memoryAdapter) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if m.failUpload {
		return errors.New("bucket unavailable")
	}
	m.objects[path] = data
	m.contentTypes[path] = contentType
	return nil
}

func (m *memoryAdapter) Delete(ctx context.Context, path string) error {
	delete(m.objects, path)
	return nil
}

func (m *memoryAdapter) PublicURL(path string) string {
	return "https://cdn.example.com/" + path
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var storageKeyPattern = regexp.MustCompile(`^\d+-[a-z0-9-]+\.[a-z]+$`)

func TestManager_StoreDataURI(t *testing.T) {
	adapter := newMemoryAdapter()
	m := NewManager(adapter, nil, zap.NewNop())

	raw := pngBytes(t)
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	result := m.Store(context.Background(), dataURI, "Cute Cat")

	require.NotEmpty(t, result.StoragePath)
	assert.Regexp(t, storageKeyPattern, result.StoragePath)
	assert.True(t, strings.HasSuffix(result.StoragePath, "-cute-cat.png"))
	assert.Equal(t, "https://cdn.example.com/"+result.StoragePath, result.PublicURL)
	assert.Equal(t, raw, adapter.objects[result.StoragePath])
	assert.Equal(t, "image/png", adapter.contentTypes[result.StoragePath])
}

func TestManager_StoreRemoteURL(t *testing.T) {
	raw := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(raw)
	}))
	defer srv.Close()

	adapter := newMemoryAdapter()
	m := NewManager(adapter, nil, zap.NewNop())

	result := m.Store(context.Background(), srv.URL+"/cat.png", "cat")
	require.NotEmpty(t, result.StoragePath)
	assert.Equal(t, raw, adapter.objects[result.StoragePath])
}

func TestManager_StoreNeverErrors(t *testing.T) {
	t.Run("下载失败回退原始 URL", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		m := NewManager(newMemoryAdapter(), nil, zap.NewNop())
		result := m.Store(context.Background(), srv.URL+"/gone.png", "cat")

		assert.Equal(t, srv.URL+"/gone.png", result.PublicURL)
		assert.Empty(t, result.StoragePath)
	})

	t.Run("上传失败回退原始引用", func(t *testing.T) {
		adapter := newMemoryAdapter()
		adapter.failUpload = true
		m := NewManager(adapter, nil, zap.NewNop())

		dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
		result := m.Store(context.Background(), dataURI, "cat")

		assert.Equal(t, dataURI, result.PublicURL)
		assert.Empty(t, result.StoragePath)
	})

	t.Run("畸形 data URI 回退", func(t *testing.T) {
		m := NewManager(newMemoryAdapter(), nil, zap.NewNop())
		result := m.Store(context.Background(), "data:image/png;base64", "cat")

		assert.Empty(t, result.StoragePath)
	})
}

func TestManager_DisabledReturnsOriginal(t *testing.T) {
	m := NewManager(nil, nil, zap.NewNop())
	assert.False(t, m.Enabled())

	result := m.Store(context.Background(), "http://x/1.png", "cat")
	assert.Equal(t, "http://x/1.png", result.PublicURL)
	assert.Empty(t, result.StoragePath)
}

func TestManager_JPEGTranscode(t *testing.T) {
	// 噪声图 PNG 压不动，JPEG 重编码必然更小
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for x := 0; x < 256; x++ {
		for y := 0; y < 256; y++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	adapter := newMemoryAdapter()
	m := NewManager(adapter, NewTranscoder("jpeg", 80), zap.NewNop())

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	result := m.Store(context.Background(), dataURI, "gradient")

	require.NotEmpty(t, result.StoragePath)
	assert.True(t, strings.HasSuffix(result.StoragePath, ".jpg"), "转码成功后扩展名应为 jpg")
	assert.Equal(t, "image/jpeg", adapter.contentTypes[result.StoragePath])
	assert.Less(t, len(adapter.objects[result.StoragePath]), buf.Len())
}

func TestManager_TranscoderKeepsSmallerOriginal(t *testing.T) {
	// 极小的 PNG 转成 JPEG 反而更大，应保留原图
	adapter := newMemoryAdapter()
	m := NewManager(adapter, NewTranscoder("jpeg", 80), zap.NewNop())

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
	result := m.Store(context.Background(), dataURI, "tiny")

	require.NotEmpty(t, result.StoragePath)
	assert.True(t, strings.HasSuffix(result.StoragePath, ".png"))
}

// =============================================================================
// 🧪 SanitizeFilename 测试
// =============================================================================

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Cute Cat", "cute-cat"},
		{"涂色 Cat!!", "cat"},
		{"café crème", "cafe-creme"},
		{"  --hello--world--  ", "hello-world"},
		{"UPPER_case.png", "upper-case-png"},
		{"!!!", "image"},
		{"", "image"},
		{"日本語のみ", "image"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilename_LengthCap(t *testing.T) {
	long := strings.Repeat("a", 80)
	got := SanitizeFilename(long)
	assert.Len(t, got, 50)
}

func TestSanitizeFilename_CapDoesNotLeaveTrailingDash(t *testing.T) {
	// 截断边界正好落在连字符上
	long := strings.Repeat("a", 49) + " " + strings.Repeat("b", 10)
	got := SanitizeFilename(long)
	assert.Equal(t, strings.Repeat("a", 49), got)
	assert.False(t, strings.HasSuffix(got, "-"))
}

func TestSanitizeFilename_Properties(t *testing.T) {
	slugPattern := regexp.MustCompile(`^[a-z0-9-]+$`)

	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "in")
		got := SanitizeFilename(in)

		if !slugPattern.MatchString(got) {
			t.Fatalf("slug contains invalid characters: %q -> %q", in, got)
		}
		if len(got) > 50 {
			t.Fatalf("slug exceeds 50 chars: %q", got)
		}
		if got != SanitizeFilename(in) {
			t.Fatalf("sanitize not deterministic for %q", in)
		}
	})
}

func TestManager_StorageKeyFormat(t *testing.T) {
	adapter := newMemoryAdapter()
	m := NewManager(adapter, nil, zap.NewNop())

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))

	for i, name := range []string{"animals-cat", "涂色", "A B C"} {
		result := m.Store(context.Background(), dataURI, name)
		require.NotEmpty(t, result.StoragePath, "case %d", i)
		assert.Regexp(t, storageKeyPattern, result.StoragePath, fmt.Sprintf("case %d: %s", i, name))
	}
}
