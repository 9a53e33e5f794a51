package tags

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// Store persists tags and their static links.
type Store struct {
	db *sql.DB
}

// NewStore creates a tag store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateTag inserts a new tag. Duplicate names return ErrConflict.
func (s *Store) CreateTag(ctx context.Context, tag *Tag) error {
	if tag.TagType == "" {
		tag.TagType = TypeStatic
	}
	if tag.TagType == TypeStatic && tag.DynamicRule != "" {
		return errors.Wrap(errors.ErrInvalidRequest, "static tags cannot carry a dynamic rule")
	}
	if tag.TagType == TypeDynamic && tag.DynamicRule == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "dynamic tags require a rule")
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_tags (name, description, owner_id, bot_id, tag_type, dynamic_rule, is_blacklist, create_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tag.Name,
		nullable(tag.Description),
		nullable(tag.OwnerID),
		nullable(tag.BotID),
		tag.TagType,
		nullable(tag.DynamicRule),
		tag.IsBlacklist,
		now.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Wrapf(errors.ErrConflict, "tag %s already exists", tag.Name)
		}
		return errors.Wrapf(err, "create tag %s", tag.Name)
	}

	tag.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "last insert id")
	}
	tag.CreateTime = now
	return nil
}

// GetTagByName fetches a tag. Returns ErrNotFound when absent.
func (s *Store) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, bot_id, tag_type, dynamic_rule, is_blacklist, create_time
		FROM group_tags WHERE name = ?`, name)

	var tag Tag
	var description, ownerID, botID, dynamicRule sql.NullString
	var createTime string
	err := row.Scan(&tag.ID, &tag.Name, &description, &ownerID, &botID,
		&tag.TagType, &dynamicRule, &tag.IsBlacklist, &createTime)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "tag %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get tag %s", name)
	}

	tag.Description = description.String
	tag.OwnerID = ownerID.String
	tag.BotID = botID.String
	tag.DynamicRule = dynamicRule.String
	tag.CreateTime, err = time.Parse(time.RFC3339, createTime)
	if err != nil {
		return nil, errors.Wrapf(err, "parse create_time for tag %s", name)
	}
	return &tag, nil
}

// DeleteTag removes a tag and, via the foreign key, its links.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM group_tags WHERE name = ?`, name)
	if err != nil {
		return errors.Wrapf(err, "delete tag %s", name)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "tag %s", name)
	}
	return nil
}

// RenameTag changes a tag's name.
func (s *Store) RenameTag(ctx context.Context, oldName, newName string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE group_tags SET name = ? WHERE name = ?`, newName, oldName)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Wrapf(errors.ErrConflict, "tag %s already exists", newName)
		}
		return errors.Wrapf(err, "rename tag %s", oldName)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "tag %s", oldName)
	}
	return nil
}

// TagUpdate carries the mutable tag fields for UpdateTag. Nil means keep.
type TagUpdate struct {
	Description *string
	DynamicRule *string
	IsBlacklist *bool
}

// UpdateTag applies a partial update.
func (s *Store) UpdateTag(ctx context.Context, name string, update TagUpdate) error {
	tag, err := s.GetTagByName(ctx, name)
	if err != nil {
		return err
	}

	if update.DynamicRule != nil && tag.TagType != TypeDynamic {
		return errors.Wrapf(errors.ErrInvalidRequest, "tag %s is not dynamic", name)
	}

	if update.Description != nil {
		tag.Description = *update.Description
	}
	if update.DynamicRule != nil {
		tag.DynamicRule = *update.DynamicRule
	}
	if update.IsBlacklist != nil {
		tag.IsBlacklist = *update.IsBlacklist
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE group_tags SET description = ?, dynamic_rule = ?, is_blacklist = ? WHERE id = ?`,
		nullable(tag.Description), nullable(tag.DynamicRule), tag.IsBlacklist, tag.ID)
	if err != nil {
		return errors.Wrapf(err, "update tag %s", name)
	}
	return nil
}

// AddGroups links group ids to a STATIC tag. Existing links are kept.
func (s *Store) AddGroups(ctx context.Context, name string, groupIDs []string) error {
	tag, err := s.requireStatic(ctx, name)
	if err != nil {
		return err
	}
	for _, groupID := range groupIDs {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_tag_links (tag_id, group_id) VALUES (?, ?)`,
			tag.ID, groupID)
		if err != nil {
			return errors.Wrapf(err, "link group %s to tag %s", groupID, name)
		}
	}
	return nil
}

// RemoveGroups unlinks group ids from a STATIC tag.
func (s *Store) RemoveGroups(ctx context.Context, name string, groupIDs []string) error {
	tag, err := s.requireStatic(ctx, name)
	if err != nil {
		return err
	}
	for _, groupID := range groupIDs {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM group_tag_links WHERE tag_id = ? AND group_id = ?`,
			tag.ID, groupID)
		if err != nil {
			return errors.Wrapf(err, "unlink group %s from tag %s", groupID, name)
		}
	}
	return nil
}

// SetGroups replaces the link set of a STATIC tag.
func (s *Store) SetGroups(ctx context.Context, name string, groupIDs []string) error {
	tag, err := s.requireStatic(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_tag_links WHERE tag_id = ?`, tag.ID); err != nil {
		return errors.Wrapf(err, "clear links for tag %s", name)
	}
	for _, groupID := range groupIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_tag_links (tag_id, group_id) VALUES (?, ?)`, tag.ID, groupID); err != nil {
			return errors.Wrapf(err, "link group %s to tag %s", groupID, name)
		}
	}
	return tx.Commit()
}

// LinkedGroupIDs returns the static link set of a tag.
func (s *Store) LinkedGroupIDs(ctx context.Context, tagID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM group_tag_links WHERE tag_id = ? ORDER BY group_id`, tagID)
	if err != nil {
		return nil, errors.Wrap(err, "query tag links")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan tag link")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllGroupIDs returns every active group known to the store.
func (s *Store) AllGroupIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM console_groups WHERE status = 1 ORDER BY group_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query groups")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan group")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM group_tags ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "query tags")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan tag name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagList := make([]*Tag, 0, len(names))
	for _, name := range names {
		tag, err := s.GetTagByName(ctx, name)
		if err != nil {
			return nil, err
		}
		tagList = append(tagList, tag)
	}
	return tagList, nil
}

func (s *Store) requireStatic(ctx context.Context, name string) (*Tag, error) {
	tag, err := s.GetTagByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if tag.TagType != TypeStatic {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "tag %s is dynamic and cannot carry links", name)
	}
	return tag, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
