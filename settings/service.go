package settings

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/zhenxun-org/zhenxun-core/cache"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// CacheNamespace memoizes effective configs, keyed "<group>:<plugin>".
const CacheNamespace = "group_plugin_settings"

// Service computes effective per-group plugin configuration: the plugin's
// global defaults overlaid by the group's override blob, override winning
// per key.
type Service struct {
	store        *Store
	cacheManager *cache.Manager
	configCache  *cache.Cache[map[string]any]

	mu       sync.RWMutex
	defaults map[string]map[string]any
}

// NewService creates the group settings service.
func NewService(store *Store, cacheManager *cache.Manager) *Service {
	cacheManager.RegisterNamespaceFormat(CacheNamespace, "{group_id}:{plugin_name}")
	return &Service{
		store:        store,
		cacheManager: cacheManager,
		configCache:  cache.NewCache[map[string]any](cacheManager, CacheNamespace),
		defaults:     make(map[string]map[string]any),
	}
}

// RegisterDefaults declares a plugin's global default configuration.
func (s *Service) RegisterDefaults(pluginName string, defaults map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[pluginName] = defaults
}

func (s *Service) pluginDefaults(pluginName string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any)
	for k, v := range s.defaults[pluginName] {
		out[k] = v
	}
	return out
}

func cacheFields(groupID, pluginName string) map[string]string {
	return map[string]string{"group_id": groupID, "plugin_name": pluginName}
}

func (s *Service) invalidate(ctx context.Context, groupID, pluginName string) {
	if err := s.configCache.Delete(ctx, cacheFields(groupID, pluginName)); err != nil {
		logger.Warnw("Failed to invalidate settings cache",
			"group_id", groupID, "plugin", pluginName, "error", err)
	}
}

// SetFullConfig replaces the group's entire override blob.
func (s *Service) SetFullConfig(ctx context.Context, groupID, pluginName string, blob map[string]any) error {
	if err := s.store.Put(ctx, groupID, pluginName, blob); err != nil {
		return err
	}
	s.invalidate(ctx, groupID, pluginName)
	return nil
}

// SetKey read-modify-writes one key of the override blob.
func (s *Service) SetKey(ctx context.Context, groupID, pluginName, key string, value any) error {
	blob, err := s.store.Get(ctx, groupID, pluginName)
	if err != nil {
		return err
	}
	blob[key] = value
	if err := s.store.Put(ctx, groupID, pluginName, blob); err != nil {
		return err
	}
	s.invalidate(ctx, groupID, pluginName)
	return nil
}

// ResetKey removes one override key; when the blob empties the row is
// deleted so the group falls back to defaults entirely.
func (s *Service) ResetKey(ctx context.Context, groupID, pluginName, key string) error {
	blob, err := s.store.Get(ctx, groupID, pluginName)
	if err != nil {
		return err
	}
	delete(blob, key)

	if len(blob) == 0 {
		err = s.store.Delete(ctx, groupID, pluginName)
	} else {
		err = s.store.Put(ctx, groupID, pluginName, blob)
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, groupID, pluginName)
	return nil
}

// ResetAll deletes the group's override row for the plugin.
func (s *Service) ResetAll(ctx context.Context, groupID, pluginName string) error {
	if err := s.store.Delete(ctx, groupID, pluginName); err != nil {
		return err
	}
	s.invalidate(ctx, groupID, pluginName)
	return nil
}

// GetAllForPlugin returns the effective configuration for (group, plugin).
func (s *Service) GetAllForPlugin(ctx context.Context, groupID, pluginName string) (map[string]any, error) {
	fields := cacheFields(groupID, pluginName)
	if cached, hit, err := s.configCache.Get(ctx, fields); err == nil && hit == cache.HitValue {
		return cached, nil
	}

	blob, err := s.store.Get(ctx, groupID, pluginName)
	if err != nil {
		return nil, err
	}

	effective := s.pluginDefaults(pluginName)
	for k, v := range blob {
		effective[k] = v
	}

	if err := s.configCache.Set(ctx, fields, effective, 0); err != nil {
		logger.Warnw("Failed to cache effective settings",
			"group_id", groupID, "plugin", pluginName, "error", err)
	}
	return effective, nil
}

// GetParsed returns the effective configuration decoded into T. A decode
// failure logs a warning and returns the zero-valued model.
func GetParsed[T any](ctx context.Context, s *Service, groupID, pluginName string) (T, error) {
	var model T

	effective, err := s.GetAllForPlugin(ctx, groupID, pluginName)
	if err != nil {
		return model, err
	}

	raw, err := json.Marshal(effective)
	if err != nil {
		return model, err
	}
	if err := json.Unmarshal(raw, &model); err != nil {
		logger.Warnw("Group settings do not match the schema, using defaults",
			"group_id", groupID, "plugin", pluginName, "error", err)
		var zero T
		return zero, nil
	}
	return model, nil
}
