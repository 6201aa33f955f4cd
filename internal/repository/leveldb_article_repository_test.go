package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLevelDBTestRepository(t *testing.T) *LevelDBArticleRepository {
	t.Helper()

	repo, err := NewLevelDBArticleRepository(filepath.Join(t.TempDir(), "articles"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestLevelDBArticleRepository(t *testing.T) {
	runArticleRepositoryContract(t, func(t *testing.T) ArticleRepository {
		return newLevelDBTestRepository(t)
	})
}

func TestNewLevelDBArticleRepository_RequiresPath(t *testing.T) {
	repo, err := NewLevelDBArticleRepository("")
	assert.Nil(t, repo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestLevelDBArticleRepository_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "articles")

	repo, err := NewLevelDBArticleRepository(path)
	require.NoError(t, err)

	first, err := repo.Create(ctx, newTestArticle())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := NewLevelDBArticleRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByPMCID(ctx, "PMC123456")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Cervical cancer", got.DiseaseSite)

	other := newTestArticle()
	other.PMCID = "PMC2"
	second, err := reopened.Create(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, first.ID+1, second.ID, "id sequence survives reopen")
}

func TestLevelDBArticleRepository_Ping(t *testing.T) {
	repo, err := NewLevelDBArticleRepository(filepath.Join(t.TempDir(), "articles"))
	require.NoError(t, err)

	assert.NoError(t, repo.Ping(context.Background()))
	require.NoError(t, repo.Close())
	assert.Error(t, repo.Ping(context.Background()))
}
