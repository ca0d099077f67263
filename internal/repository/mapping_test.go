package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkeep-io/llmgateway/internal/repository"
)

func TestModelMappingRepository_CreateAndList(t *testing.T) {
	gdb := newTestGormDB(t)
	repo := repository.NewModelMappingRepository(gdb)
	ctx := context.Background()

	mm, err := repo.Create(ctx, "llama-3-70b-instruct-q4", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", mm.PublicName)

	mappings, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "llama-3-70b-instruct-q4", mappings[0].InternalName)
}

func TestModelMappingRepository_Create_DuplicatePublicNameConflicts(t *testing.T) {
	gdb := newTestGormDB(t)
	repo := repository.NewModelMappingRepository(gdb)
	ctx := context.Background()

	_, err := repo.Create(ctx, "llama-3", "gpt-4")
	require.NoError(t, err)

	_, err = repo.Create(ctx, "mistral", "gpt-4")
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestModelMappingRepository_DeleteByPublicName(t *testing.T) {
	gdb := newTestGormDB(t)
	repo := repository.NewModelMappingRepository(gdb)
	ctx := context.Background()

	_, err := repo.Create(ctx, "llama-3", "gpt-4")
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByPublicName(ctx, "gpt-4"))

	mappings, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestModelMappingRepository_DeleteByPublicName_NotFound(t *testing.T) {
	gdb := newTestGormDB(t)
	repo := repository.NewModelMappingRepository(gdb)

	err := repo.DeleteByPublicName(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
