package image

import "time"

// ProviderPolicy is one entry in the fallback chain: which provider, whether
// it participates, its priority (lower runs first), and its per-attempt
// timeout.
type ProviderPolicy struct {
	ID       string        `yaml:"id" json:"id"`
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Priority int           `yaml:"priority" json:"priority"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Strategy 提供商调度策略
type Strategy struct {
	// Providers 按优先级排序尝试的提供商配置
	Providers []ProviderPolicy `yaml:"providers" json:"providers"`

	// AutoFallback 为 false 时首次失败即终止
	AutoFallback bool `yaml:"auto_fallback" json:"auto_fallback"`

	// GlobalTimeout 整条链路的总时间预算
	GlobalTimeout time.Duration `yaml:"global_timeout" json:"global_timeout"`
}

// DefaultStrategy returns the shipped fallback chain.
func DefaultStrategy() Strategy {
	return Strategy{
		Providers: []ProviderPolicy{
			{ID: "modelscope", Enabled: true, Priority: 0, Timeout: 120 * time.Second},
			{ID: "gemini", Enabled: true, Priority: 1, Timeout: 60 * time.Second},
			{ID: "antigravity", Enabled: true, Priority: 2, Timeout: 60 * time.Second},
			{ID: "openai", Enabled: true, Priority: 3, Timeout: 60 * time.Second},
		},
		AutoFallback:  true,
		GlobalTimeout: 180 * time.Second,
	}
}

// clone returns a deep copy so callers can't mutate the orchestrator's copy.
func (s Strategy) clone() Strategy {
	out := s
	out.Providers = make([]ProviderPolicy, len(s.Providers))
	copy(out.Providers, s.Providers)
	return out
}
