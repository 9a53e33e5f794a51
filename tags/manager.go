package tags

import (
	"context"

	"github.com/zhenxun-org/zhenxun-core/cache"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// Manager is the tag service: CRUD over the store, rule evaluation and
// memoized resolution. Every write invalidates the whole resolution
// namespace; a tag edit can change the resolution of any tag that rules
// reference it indirectly.
type Manager struct {
	store        *Store
	rules        *RuleRegistry
	cacheManager *cache.Manager
	resolveCache *cache.Cache[[]string]
}

// NewManager creates the tag service.
func NewManager(store *Store, rules *RuleRegistry, cacheManager *cache.Manager) *Manager {
	cacheManager.RegisterNamespace(CacheNamespace, "name", "bot_id")
	return &Manager{
		store:        store,
		rules:        rules,
		cacheManager: cacheManager,
		resolveCache: cache.NewCache[[]string](cacheManager, CacheNamespace),
	}
}

// Rules exposes the rule registry for custom rule registration.
func (m *Manager) Rules() *RuleRegistry {
	return m.rules
}

// Store exposes the underlying tag store.
func (m *Manager) Store() *Store {
	return m.store
}

// invalidate drops every memoized resolution.
func (m *Manager) invalidate(ctx context.Context) {
	if err := m.cacheManager.Clear(ctx, CacheNamespace); err != nil {
		logger.Warnw("Failed to invalidate tag resolution cache", "error", err)
	}
}

// CreateTag creates a tag and invalidates resolutions.
func (m *Manager) CreateTag(ctx context.Context, tag *Tag) error {
	if err := m.store.CreateTag(ctx, tag); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}

// DeleteTag deletes a tag and invalidates resolutions.
func (m *Manager) DeleteTag(ctx context.Context, name string) error {
	if err := m.store.DeleteTag(ctx, name); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}

// RenameTag renames a tag and invalidates resolutions.
func (m *Manager) RenameTag(ctx context.Context, oldName, newName string) error {
	if err := m.store.RenameTag(ctx, oldName, newName); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}

// UpdateTag applies a partial update and invalidates resolutions.
func (m *Manager) UpdateTag(ctx context.Context, name string, update TagUpdate) error {
	if err := m.store.UpdateTag(ctx, name, update); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}

// AddGroups links groups to a static tag and invalidates resolutions.
func (m *Manager) AddGroups(ctx context.Context, name string, groupIDs []string) error {
	if err := m.store.AddGroups(ctx, name, groupIDs); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}

// RemoveGroups unlinks groups from a static tag and invalidates resolutions.
func (m *Manager) RemoveGroups(ctx context.Context, name string, groupIDs []string) error {
	if err := m.store.RemoveGroups(ctx, name, groupIDs); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}

// SetGroups replaces a static tag's link set and invalidates resolutions.
func (m *Manager) SetGroups(ctx context.Context, name string, groupIDs []string) error {
	if err := m.store.SetGroups(ctx, name, groupIDs); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}
