package catalog

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database when TIMELINE_TEST_DATABASE_URL is set.
func TestRepositoryImportAndDraw(t *testing.T) {
	url := os.Getenv("TIMELINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TIMELINE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	repo, err := NewRepository(ctx, url)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.Migrate(ctx))

	sample := SampleSongs()
	_, err = repo.Import(ctx, sample)
	require.NoError(t, err)

	added, err := repo.Import(ctx, sample[:3])
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	songs, err := repo.GetRandom(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, songs, 4)
}
