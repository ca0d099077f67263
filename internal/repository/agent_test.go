package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arkeep-io/llmgateway/internal/db"
	"github.com/arkeep-io/llmgateway/internal/repository"
)

func newTestGormDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	return gdb
}

func TestAgentRepository_TouchInsertsThenUpdates(t *testing.T) {
	gdb := newTestGormDB(t)
	repo := repository.NewAgentRepository(gdb)
	ctx := context.Background()

	first := time.Now().Truncate(time.Second)
	require.NoError(t, repo.Touch(ctx, "agent-1", "agent-one", first))

	second := first.Add(time.Minute)
	require.NoError(t, repo.Touch(ctx, "agent-1", "agent-one-renamed", second))

	agents, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-one-renamed", agents[0].Name)
	assert.True(t, agents[0].FirstSeen.Equal(first), "first_seen must not move on a later Touch")
	assert.True(t, agents[0].LastSeen.Equal(second))
}

func TestAgentRepository_UpdateLastSeen_UnknownAgent(t *testing.T) {
	gdb := newTestGormDB(t)
	repo := repository.NewAgentRepository(gdb)

	err := repo.UpdateLastSeen(context.Background(), "does-not-exist", time.Now())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAgentRepository_List_OrderedByFirstSeen(t *testing.T) {
	gdb := newTestGormDB(t)
	repo := repository.NewAgentRepository(gdb)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Touch(ctx, "later", "later", now.Add(time.Hour)))
	require.NoError(t, repo.Touch(ctx, "earlier", "earlier", now))

	agents, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "earlier", agents[0].ID)
	assert.Equal(t, "later", agents[1].ID)
}
