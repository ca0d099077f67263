package mapper_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkeep-io/llmgateway/internal/db"
	"github.com/arkeep-io/llmgateway/internal/mapper"
	"github.com/arkeep-io/llmgateway/internal/repository"
)

// fakeMappingRepo is an in-memory stand-in for repository.ModelMappingRepository,
// keeping these tests independent of a real database connection.
type fakeMappingRepo struct {
	rows []db.ModelMapping
}

func (f *fakeMappingRepo) Create(ctx context.Context, internalName, publicName string) (*db.ModelMapping, error) {
	for _, r := range f.rows {
		if r.PublicName == publicName || r.InternalName == internalName {
			return nil, repository.ErrConflict
		}
	}
	mm := db.ModelMapping{InternalName: internalName, PublicName: publicName}
	f.rows = append(f.rows, mm)
	return &mm, nil
}

func (f *fakeMappingRepo) DeleteByPublicName(ctx context.Context, publicName string) error {
	for i, r := range f.rows {
		if r.PublicName == publicName {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeMappingRepo) List(ctx context.Context) ([]db.ModelMapping, error) {
	out := make([]db.ModelMapping, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func TestPublicToInternal_IdentityFallback(t *testing.T) {
	repo := &fakeMappingRepo{}
	m, err := mapper.New(context.Background(), repo)
	require.NoError(t, err)

	internal, err := m.PublicToInternal("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", internal, "unmapped names fall back to identity by default")
}

func TestPublicToInternal_Strict(t *testing.T) {
	repo := &fakeMappingRepo{}
	m, err := mapper.New(context.Background(), repo, mapper.Strict())
	require.NoError(t, err)

	_, err = m.PublicToInternal("gpt-4")
	assert.ErrorIs(t, err, mapper.ErrNotFound)
}

func TestAddAndLookup(t *testing.T) {
	repo := &fakeMappingRepo{}
	m, err := mapper.New(context.Background(), repo, mapper.Strict())
	require.NoError(t, err)

	_, err = m.Add(context.Background(), "llama-3-70b-instruct-q4", "gpt-4")
	require.NoError(t, err)

	internal, err := m.PublicToInternal("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "llama-3-70b-instruct-q4", internal)

	public, err := m.InternalToPublic("llama-3-70b-instruct-q4")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", public)
}

func TestAdd_ConflictSurfaced(t *testing.T) {
	repo := &fakeMappingRepo{}
	m, err := mapper.New(context.Background(), repo)
	require.NoError(t, err)

	_, err = m.Add(context.Background(), "llama-3", "gpt-4")
	require.NoError(t, err)

	_, err = m.Add(context.Background(), "mistral", "gpt-4")
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestRemove_UnknownPublicName(t *testing.T) {
	repo := &fakeMappingRepo{}
	m, err := mapper.New(context.Background(), repo)
	require.NoError(t, err)

	err = m.Remove(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, mapper.ErrNotFound)
}

func TestRemove_RefreshesCache(t *testing.T) {
	repo := &fakeMappingRepo{}
	m, err := mapper.New(context.Background(), repo, mapper.Strict())
	require.NoError(t, err)

	_, err = m.Add(context.Background(), "llama-3", "gpt-4")
	require.NoError(t, err)

	require.NoError(t, m.Remove(context.Background(), "gpt-4"))

	_, err = m.PublicToInternal("gpt-4")
	assert.ErrorIs(t, err, mapper.ErrNotFound)
}
