package repo

import (
	"path/filepath"
	"testing"

	"photokeep/internal/config"
	"photokeep/internal/db"
	"photokeep/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuleRepo(t *testing.T) *RuleRepository {
	t.Helper()
	gdb, err := db.Connect(config.DB{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return NewRuleRepository(gdb)
}

func TestUpsertReplacesActionForSamePath(t *testing.T) {
	r := newRuleRepo(t)

	require.NoError(t, r.Upsert(&models.FolderRule{Path: "/photos/", Action: models.RuleAlways}))
	require.NoError(t, r.Upsert(&models.FolderRule{Path: "/photos", Action: models.RuleOnce}))

	all, err := r.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/photos", all[0].Path)
	assert.Equal(t, models.RuleOnce, all[0].Action)
}

func TestReplaceAllSwapsRuleSet(t *testing.T) {
	r := newRuleRepo(t)
	require.NoError(t, r.Upsert(&models.FolderRule{Path: "/old", Action: models.RuleAlways}))

	err := r.ReplaceAll([]models.FolderRule{
		{Path: "/photos", Action: models.RuleAlways},
		{Path: "/photos/private", Action: models.RuleRemove},
	})
	require.NoError(t, err)

	all, err := r.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/photos", all[0].Path)
	assert.Equal(t, "/photos/private", all[1].Path)
}

func TestReplaceAllRejectsDuplicatePaths(t *testing.T) {
	r := newRuleRepo(t)
	require.NoError(t, r.Upsert(&models.FolderRule{Path: "/keep", Action: models.RuleAlways}))

	err := r.ReplaceAll([]models.FolderRule{
		{Path: "/Photos", Action: models.RuleAlways},
		{Path: "/photos/", Action: models.RuleRemove},
	})
	assert.ErrorIs(t, err, ErrDuplicateRule)

	// The stored set is untouched after a rejected replace.
	all, err := r.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/keep", all[0].Path)
}

func TestDeleteByPathNormalizes(t *testing.T) {
	r := newRuleRepo(t)
	require.NoError(t, r.Upsert(&models.FolderRule{Path: "/photos", Action: models.RuleAlways}))
	require.NoError(t, r.DeleteByPath("/photos/"))

	all, err := r.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}
