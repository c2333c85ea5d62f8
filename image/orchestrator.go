package image

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/types"
)

// Generation is a successful orchestrator outcome: the winning response plus
// the ordered failures that preceded it.
type Generation struct {
	Response   *types.ImageResponse
	ProviderID string
	Failed     []types.ProviderError
}

// ExhaustedError is returned when every eligible provider in the chain
// failed. Failed preserves attempt order.
type ExhaustedError struct {
	Failed []types.ProviderError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %s", f.ProviderID, f.Error))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// AsServiceError converts the exhaustion into a transport-mappable error.
func (e *ExhaustedError) AsServiceError() *types.Error {
	return types.NewError(types.ErrProvidersExhausted, e.Error()).WithRetryable(true)
}

// Orchestrator schedules generation attempts across registered providers
// according to a mutable strategy. Attempts are strictly sequential.
type Orchestrator struct {
	mu        sync.RWMutex
	providers map[string]Provider
	strategy  Strategy
	logger    *zap.Logger
	metrics   Metrics
}

// NewOrchestrator creates an orchestrator with the given strategy. A nil
// metrics collector is replaced with a no-op.
func NewOrchestrator(strategy Strategy, logger *zap.Logger, metrics Metrics) *Orchestrator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Orchestrator{
		providers: make(map[string]Provider),
		strategy:  strategy.clone(),
		logger:    logger.With(zap.String("component", "image_orchestrator")),
		metrics:   metrics,
	}
}

// =============================================================================
// 📋 提供商注册与查询
// =============================================================================

// RegisterProvider adds or replaces a provider under its own ID.
func (o *Orchestrator) RegisterProvider(p Provider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.providers[p.ID()] = p
	o.logger.Info("provider registered",
		zap.String("provider", p.ID()),
		zap.Strings("features", p.Features()),
	)
}

// RegisterProviders registers several providers at once.
func (o *Orchestrator) RegisterProviders(ps ...Provider) {
	for _, p := range ps {
		o.RegisterProvider(p)
	}
}

// RegisteredProviderIDs returns all registered IDs, sorted.
func (o *Orchestrator) RegisteredProviderIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.providers))
	for id := range o.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EnabledProviderIDs returns the IDs the current strategy would try, in
// priority order.
func (o *Orchestrator) EnabledProviderIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.strategy.Providers))
	for _, pc := range o.enabledChainLocked() {
		ids = append(ids, pc.ID)
	}
	return ids
}

// IsProviderAvailable reports whether a provider is registered and its
// client considers itself usable.
func (o *Orchestrator) IsProviderAvailable(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.providers[id]
	return ok && p.Available()
}

// SetProviderEnabled flips one chain entry.
func (o *Orchestrator) SetProviderEnabled(id string, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.strategy.Providers {
		if o.strategy.Providers[i].ID == id {
			o.strategy.Providers[i].Enabled = enabled
			return nil
		}
	}
	return types.NewError(types.ErrProviderNotFound,
		fmt.Sprintf("provider %q is not in the strategy", id))
}

// UpdateStrategy replaces the strategy. Only future Generate calls observe
// the change.
func (o *Orchestrator) UpdateStrategy(s Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strategy = s.clone()
	o.logger.Info("strategy updated",
		zap.Int("providers", len(s.Providers)),
		zap.Bool("auto_fallback", s.AutoFallback),
		zap.Duration("global_timeout", s.GlobalTimeout),
	)
}

// GetStrategy returns a copy of the current strategy.
func (o *Orchestrator) GetStrategy() Strategy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.strategy.clone()
}

// enabledChainLocked returns enabled policies sorted by ascending priority.
// Sort is stable so equal priorities keep configuration order.
func (o *Orchestrator) enabledChainLocked() []ProviderPolicy {
	chain := make([]ProviderPolicy, 0, len(o.strategy.Providers))
	for _, pc := range o.strategy.Providers {
		if pc.Enabled {
			chain = append(chain, pc)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Priority < chain[j].Priority
	})
	return chain
}

// =============================================================================
// 🎯 生成调度
// =============================================================================

// Generate walks the enabled chain in priority order until one provider
// succeeds. Failures accumulate in order; with AutoFallback off the first
// failure terminates the chain.
func (o *Orchestrator) Generate(ctx context.Context, req types.ImageRequest) (*Generation, error) {
	o.mu.RLock()
	chain := o.enabledChainLocked()
	autoFallback := o.strategy.AutoFallback
	globalTimeout := o.strategy.GlobalTimeout
	o.mu.RUnlock()

	if len(chain) == 0 {
		return nil, types.NewError(types.ErrConfiguration, "no enabled image providers")
	}

	// GlobalTimeout <= 0 表示不限制总预算
	var deadline time.Time
	if globalTimeout > 0 {
		deadline = time.Now().Add(globalTimeout)
	}
	failed := make([]types.ProviderError, 0, len(chain))

	for i, policy := range chain {
		if !deadline.IsZero() && time.Now().After(deadline) {
			o.logger.Warn("global timeout budget exhausted",
				zap.Duration("global_timeout", globalTimeout),
				zap.Int("attempts", len(failed)),
			)
			tried := make([]string, 0, len(failed))
			for _, f := range failed {
				tried = append(tried, f.ProviderID)
			}
			return nil, types.NewError(types.ErrGlobalTimeout,
				fmt.Sprintf("global timeout of %s exceeded, providers tried: [%s]",
					globalTimeout, strings.Join(tried, ", "))).
				WithRetryable(true).
				WithCause(&ExhaustedError{Failed: failed})
		}

		o.mu.RLock()
		provider, ok := o.providers[policy.ID]
		o.mu.RUnlock()
		if !ok {
			o.logger.Warn("configured provider not registered, skipping",
				zap.String("provider", policy.ID))
			continue
		}

		resp, elapsed, err := o.attempt(ctx, provider, policy.Timeout, deadline, req)
		if err == nil {
			o.metrics.RecordGenerate(provider.ID(), "success", elapsed)
			return &Generation{Response: resp, ProviderID: provider.ID(), Failed: failed}, nil
		}

		failed = append(failed, types.ProviderError{
			ProviderID:   provider.ID(),
			ProviderName: provider.Name(),
			Error:        err.Error(),
			Timestamp:    time.Now(),
		})
		o.metrics.RecordGenerate(provider.ID(), "failure", elapsed)
		o.logger.Warn("provider attempt failed",
			zap.String("provider", provider.ID()),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		if !autoFallback {
			break
		}
	}

	return nil, &ExhaustedError{Failed: failed}
}

// GenerateWithProvider bypasses the fallback chain and calls one provider
// directly. timeout <= 0 falls back to the strategy entry's timeout, then to
// a conservative default.
func (o *Orchestrator) GenerateWithProvider(ctx context.Context, providerID string, req types.ImageRequest, timeout time.Duration) (*Generation, error) {
	o.mu.RLock()
	provider, ok := o.providers[providerID]
	if timeout <= 0 {
		for _, pc := range o.strategy.Providers {
			if pc.ID == providerID {
				timeout = pc.Timeout
				break
			}
		}
	}
	o.mu.RUnlock()

	if !ok {
		return nil, types.NewError(types.ErrProviderNotFound,
			fmt.Sprintf("provider %q is not registered", providerID))
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	resp, elapsed, err := o.attempt(ctx, provider, timeout, time.Time{}, req)
	if err != nil {
		o.metrics.RecordGenerate(provider.ID(), "failure", elapsed)
		return nil, err
	}
	o.metrics.RecordGenerate(provider.ID(), "success", elapsed)
	return &Generation{Response: resp, ProviderID: provider.ID()}, nil
}

// attempt runs one provider call under its per-attempt timeout, additionally
// capped by the global deadline when one is set. The derived context is
// cancelled on timeout so the underlying HTTP transport stops working too.
func (o *Orchestrator) attempt(ctx context.Context, p Provider, timeout time.Duration, globalDeadline time.Time, req types.ImageRequest) (*types.ImageResponse, time.Duration, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
		defer cancel()
	}
	if !globalDeadline.IsZero() {
		var cancelGlobal context.CancelFunc
		attemptCtx, cancelGlobal = context.WithDeadline(attemptCtx, globalDeadline)
		defer cancelGlobal()
	}

	start := time.Now()
	resp, err := p.Generate(attemptCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, elapsed, types.NewError(types.ErrProviderTimeout,
				fmt.Sprintf("provider %s timed out after %s", p.ID(), elapsed.Round(time.Millisecond))).
				WithProvider(p.ID()).
				WithRetryable(true).
				WithCause(err)
		}
		return nil, elapsed, err
	}
	if resp == nil || resp.ImageURL == "" {
		return nil, elapsed, types.NewError(types.ErrProviderProtocol, "provider returned empty image url").
			WithProvider(p.ID())
	}

	o.logger.Debug("provider attempt succeeded",
		zap.String("provider", p.ID()),
		zap.Duration("elapsed", elapsed),
	)
	return resp, elapsed, nil
}
