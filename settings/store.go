// Package settings stores per-group plugin setting overrides and computes
// effective configurations against global plugin defaults.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// Store persists the per-group JSON blobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a settings store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the override blob for (group, plugin). A missing row returns
// an empty map, not an error.
func (s *Store) Get(ctx context.Context, groupID, pluginName string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT settings FROM group_plugin_settings WHERE group_id = ? AND plugin_name = ?`,
		groupID, pluginName).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get settings %s/%s", groupID, pluginName)
	}

	var blob map[string]any
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return nil, errors.Wrapf(err, "decode settings %s/%s", groupID, pluginName)
	}
	return blob, nil
}

// Put upserts the override blob for (group, plugin).
func (s *Store) Put(ctx context.Context, groupID, pluginName string, blob map[string]any) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return errors.Wrapf(err, "encode settings %s/%s", groupID, pluginName)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO group_plugin_settings (group_id, plugin_name, settings, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (group_id, plugin_name) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`,
		groupID, pluginName, string(raw), time.Now().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "put settings %s/%s", groupID, pluginName)
	}
	return nil
}

// Delete removes the row for (group, plugin). Missing rows are a no-op.
func (s *Store) Delete(ctx context.Context, groupID, pluginName string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM group_plugin_settings WHERE group_id = ? AND plugin_name = ?`,
		groupID, pluginName)
	if err != nil {
		return errors.Wrapf(err, "delete settings %s/%s", groupID, pluginName)
	}
	return nil
}
