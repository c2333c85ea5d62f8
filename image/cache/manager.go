package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kidcanvas/imagesvc/types"
)

// Manager fronts a persistence adapter and an optional redis look-aside
// layer. It owns request normalization and fingerprinting, and it never
// propagates a cache failure: every operation degrades to a miss, an empty
// list, or a zero value after logging.
type Manager struct {
	adapter   Adapter
	lookaside *Lookaside
	logger    *zap.Logger
	enabled   bool
}

// NewManager creates a manager. A nil adapter yields a disabled manager
// backed by NoOpAdapter; a nil lookaside just skips the redis layer.
func NewManager(adapter Adapter, lookaside *Lookaside, logger *zap.Logger) *Manager {
	enabled := adapter != nil
	if adapter == nil {
		adapter = NoOpAdapter{}
	}
	if _, noop := adapter.(NoOpAdapter); noop {
		enabled = false
	}
	return &Manager{
		adapter:   adapter,
		lookaside: lookaside,
		logger:    logger.With(zap.String("component", "cache_manager")),
		enabled:   enabled,
	}
}

// Enabled reports whether a real backend is configured.
func (m *Manager) Enabled() bool { return m.enabled }

// FindExactMatch looks up the request fingerprint for one provider. A hit
// bumps the access count asynchronously so the caller is not delayed.
func (m *Manager) FindExactMatch(ctx context.Context, req types.GenerationRequest, provider string) *Entry {
	hash := Fingerprint(req)

	if m.lookaside != nil {
		if entry := m.lookaside.Get(ctx, hash, provider); entry != nil {
			m.bumpAsync(entry.ID)
			return entry
		}
	}

	entry, err := m.adapter.FindExactMatch(ctx, hash, provider)
	if err != nil {
		m.logger.Warn("findExactMatch failed, treating as miss", zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}

	m.bumpAsync(entry.ID)
	if m.lookaside != nil {
		m.lookaside.Set(ctx, entry)
	}
	return entry
}

// Store records a generation. Returns the new entry ID, or "" when the
// write failed.
func (m *Manager) Store(ctx context.Context, req types.GenerationRequest, promptText, provider, imageURL, storagePath string) string {
	entry := &Entry{
		PromptHash: Fingerprint(req),
		PromptText: promptText,
		Theme:      strings.ToLower(req.Theme),
		Subject:    strings.ToLower(req.Subject),
		Difficulty: string(req.Difficulty),
		Provider:   provider,
		Metadata:   "{}",
	}
	if req.CustomPrompt != "" {
		entry.CustomPrompt = &req.CustomPrompt
	}
	if imageURL != "" {
		entry.ImageURL = &imageURL
	}
	if storagePath != "" {
		entry.StoragePath = &storagePath
	}

	id, err := m.adapter.Store(ctx, entry)
	if err != nil {
		m.logger.Warn("cache store failed", zap.Error(err))
		return ""
	}
	if m.lookaside != nil {
		m.lookaside.Set(ctx, entry)
	}
	return id
}

// FindSimilar returns entries sharing theme and difficulty whose subject
// contains the request's subject.
func (m *Manager) FindSimilar(ctx context.Context, req types.GenerationRequest, limit int) []Entry {
	entries, err := m.adapter.FindSimilar(ctx, SimilarQuery{
		Theme:      strings.ToLower(req.Theme),
		Subject:    strings.ToLower(req.Subject),
		Difficulty: string(req.Difficulty),
		Limit:      limit,
	})
	if err != nil {
		m.logger.Warn("findSimilar failed", zap.Error(err))
		return []Entry{}
	}
	return entries
}

// GalleryImages returns entries for gallery display.
func (m *Manager) GalleryImages(ctx context.Context, opts GalleryOptions) []Entry {
	opts.Theme = strings.ToLower(opts.Theme)
	entries, err := m.adapter.GalleryImages(ctx, opts)
	if err != nil {
		m.logger.Warn("galleryImages failed", zap.Error(err))
		return []Entry{}
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries
}

// IncrementAccessCount bumps one entry, for download/print tracking.
func (m *Manager) IncrementAccessCount(ctx context.Context, id string) {
	if err := m.adapter.IncrementAccessCount(ctx, id); err != nil {
		m.logger.Warn("incrementAccessCount failed", zap.String("id", id), zap.Error(err))
	}
}

// Cleanup deletes entries last accessed more than maxAgeDays ago AND with
// at most minAccessCount accesses. Returns the number deleted, 0 on error.
func (m *Manager) Cleanup(ctx context.Context, maxAgeDays int, minAccessCount int64) int64 {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	deleted, err := m.adapter.Cleanup(ctx, cutoff, minAccessCount)
	if err != nil {
		m.logger.Warn("cleanup failed", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		m.logger.Info("cache cleanup finished",
			zap.Int64("deleted", deleted),
			zap.Int("max_age_days", maxAgeDays),
			zap.Int64("min_access_count", minAccessCount),
		)
	}
	return deleted
}

// Stats returns aggregate statistics, zero-valued on failure.
func (m *Manager) Stats(ctx context.Context) *Stats {
	stats, err := m.adapter.Stats(ctx)
	if err != nil || stats == nil {
		if err != nil {
			m.logger.Warn("stats failed", zap.Error(err))
		}
		return &Stats{TopThemes: []ThemeCount{}}
	}
	return stats
}

// bumpAsync updates access stats without blocking the hit path.
func (m *Manager) bumpAsync(id string) {
	if id == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.adapter.IncrementAccessCount(ctx, id); err != nil {
			m.logger.Debug("async access bump failed", zap.String("id", id), zap.Error(err))
		}
	}()
}
