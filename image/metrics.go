package image

import "time"

// Metrics is the sink the generation pipeline reports into. The concrete
// prometheus collector lives in internal/metrics; tests and minimal setups
// use NopMetrics.
type Metrics interface {
	// RecordGenerate 记录一次提供商尝试（outcome 为 success/failure）
	RecordGenerate(provider, outcome string, elapsed time.Duration)

	// RecordCacheLookup 记录一次缓存查询
	RecordCacheLookup(hit bool)

	// RecordStorageUpload 记录一次存储上传（outcome 为 success/fallback）
	RecordStorageUpload(outcome string, elapsed time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordGenerate(string, string, time.Duration)     {}
func (NopMetrics) RecordCacheLookup(bool)                           {}
func (NopMetrics) RecordStorageUpload(string, time.Duration)        {}
