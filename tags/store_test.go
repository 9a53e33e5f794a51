package tags

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenxun-org/zhenxun-core/errors"
	zxtesting "github.com/zhenxun-org/zhenxun-core/internal/testing"
)

func TestTagCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zxtesting.CreateTestDB(t))

	tag := &Tag{Name: "vip", Description: "important groups"}
	require.NoError(t, store.CreateTag(ctx, tag))
	assert.NotZero(t, tag.ID)
	assert.Equal(t, TypeStatic, tag.TagType)

	// Duplicate name conflicts.
	err := store.CreateTag(ctx, &Tag{Name: "vip"})
	assert.ErrorIs(t, err, errors.ErrConflict)

	got, err := store.GetTagByName(ctx, "vip")
	require.NoError(t, err)
	assert.Equal(t, "important groups", got.Description)
	assert.False(t, got.IsBlacklist)

	require.NoError(t, store.RenameTag(ctx, "vip", "gold"))
	_, err = store.GetTagByName(ctx, "vip")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	blacklist := true
	require.NoError(t, store.UpdateTag(ctx, "gold", TagUpdate{IsBlacklist: &blacklist}))
	got, err = store.GetTagByName(ctx, "gold")
	require.NoError(t, err)
	assert.True(t, got.IsBlacklist)

	require.NoError(t, store.DeleteTag(ctx, "gold"))
	assert.ErrorIs(t, store.DeleteTag(ctx, "gold"), errors.ErrNotFound)
}

func TestTagTypeInvariants(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zxtesting.CreateTestDB(t))

	// Static tags never carry a rule.
	err := store.CreateTag(ctx, &Tag{Name: "bad", TagType: TypeStatic, DynamicRule: "level > 1"})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	// Dynamic tags require a rule.
	err = store.CreateTag(ctx, &Tag{Name: "bad", TagType: TypeDynamic})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	// Dynamic tags never carry links.
	require.NoError(t, store.CreateTag(ctx, &Tag{Name: "dyn", TagType: TypeDynamic, DynamicRule: "level > 1"}))
	err = store.AddGroups(ctx, "dyn", []string{"1"})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	// A non-dynamic tag rejects rule updates.
	require.NoError(t, store.CreateTag(ctx, &Tag{Name: "stat"}))
	rule := "level > 1"
	err = store.UpdateTag(ctx, "stat", TagUpdate{DynamicRule: &rule})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestTagLinks(t *testing.T) {
	ctx := context.Background()
	store := NewStore(zxtesting.CreateTestDB(t))

	tag := &Tag{Name: "vip"}
	require.NoError(t, store.CreateTag(ctx, tag))

	require.NoError(t, store.AddGroups(ctx, "vip", []string{"2", "1"}))
	// Re-adding is idempotent.
	require.NoError(t, store.AddGroups(ctx, "vip", []string{"1"}))

	ids, err := store.LinkedGroupIDs(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	require.NoError(t, store.RemoveGroups(ctx, "vip", []string{"1"}))
	ids, _ = store.LinkedGroupIDs(ctx, tag.ID)
	assert.Equal(t, []string{"2"}, ids)

	require.NoError(t, store.SetGroups(ctx, "vip", []string{"7", "8", "9"}))
	ids, _ = store.LinkedGroupIDs(ctx, tag.ID)
	assert.Equal(t, []string{"7", "8", "9"}, ids)

	// Deleting the tag cascades to links.
	require.NoError(t, store.DeleteTag(ctx, "vip"))
	ids, err = store.LinkedGroupIDs(ctx, tag.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
