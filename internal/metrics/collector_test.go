package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// promauto 注册到全局 registry，每个测试用独立 namespace 避免重复注册
var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("imagesvc_test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.generationsTotal)
	assert.NotNil(t, collector.generationDuration)
	assert.NotNil(t, collector.cacheHits)
	assert.NotNil(t, collector.cacheMisses)
	assert.NotNil(t, collector.storageUploadsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/gallery", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/api/generate-image", 502, 2*time.Second)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Equal(t, 2, count)

	// 状态码归类为 2xx/5xx
	assert.InDelta(t, 1,
		testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/gallery", "2xx")), 0.001)
	assert.InDelta(t, 1,
		testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/generate-image", "5xx")), 0.001)
}

func TestCollector_RecordGenerate(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordGenerate("modelscope", "success", 3*time.Second)
	collector.RecordGenerate("modelscope", "error", 500*time.Millisecond)
	collector.RecordGenerate("openai", "success", time.Second)

	assert.InDelta(t, 1,
		testutil.ToFloat64(collector.generationsTotal.WithLabelValues("modelscope", "success")), 0.001)
	assert.InDelta(t, 1,
		testutil.ToFloat64(collector.generationsTotal.WithLabelValues("modelscope", "error")), 0.001)
	assert.Equal(t, 2, testutil.CollectAndCount(collector.generationDuration))
}

func TestCollector_RecordCacheLookup(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheLookup(true)
	collector.RecordCacheLookup(true)
	collector.RecordCacheLookup(false)

	assert.InDelta(t, 2, testutil.ToFloat64(collector.cacheHits), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(collector.cacheMisses), 0.001)
}

func TestCollector_RecordStorageUpload(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStorageUpload("success", 200*time.Millisecond)
	collector.RecordStorageUpload("fallback", 50*time.Millisecond)

	assert.InDelta(t, 1,
		testutil.ToFloat64(collector.storageUploadsTotal.WithLabelValues("success")), 0.001)
	assert.InDelta(t, 1,
		testutil.ToFloat64(collector.storageUploadsTotal.WithLabelValues("fallback")), 0.001)
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("imagesvc", 10, 5)

	assert.InDelta(t, 10,
		testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("imagesvc")), 0.001)
	assert.InDelta(t, 5,
		testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("imagesvc")), 0.001)

	// Gauge 可被覆盖
	collector.RecordDBConnections("imagesvc", 3, 1)
	assert.InDelta(t, 3,
		testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("imagesvc")), 0.001)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordHTTPRequest("GET", "/api/gallery", 200, 100*time.Millisecond)
			collector.RecordGenerate("gemini", "success", time.Second)
			collector.RecordCacheLookup(true)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.InDelta(t, 10,
		testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/gallery", "2xx")), 0.001)
	assert.InDelta(t, 10, testutil.ToFloat64(collector.cacheHits), 0.001)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(302))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(504))
	assert.Equal(t, "unknown", statusCode(99))
}
