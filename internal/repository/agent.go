package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/arkeep-io/llmgateway/internal/db"
)

// AgentRepository persists the two timestamps spec §6.4 keeps for each
// agent that has ever connected. The live registry (installed/loaded
// models, pending count, connection handle) never touches this interface —
// that state is in-memory only, owned by the registry package.
type AgentRepository interface {
	// Touch upserts an agent row: first_seen is set only on first insert,
	// last_seen is always advanced to now. Called once per successful
	// connection.
	Touch(ctx context.Context, id, name string, now time.Time) error

	// UpdateLastSeen advances last_seen for an already-known agent without
	// touching name or first_seen. Called on disconnect so the persisted
	// record reflects when the agent was last actually connected.
	UpdateLastSeen(ctx context.Context, id string, now time.Time) error

	List(ctx context.Context) ([]db.Agent, error)
}

type gormAgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository returns an AgentRepository backed by the provided
// *gorm.DB.
func NewAgentRepository(gdb *gorm.DB) AgentRepository {
	return &gormAgentRepository{db: gdb}
}

func (r *gormAgentRepository) Touch(ctx context.Context, id, name string, now time.Time) error {
	var existing db.Agent
	err := r.db.WithContext(ctx).First(&existing, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		agent := db.Agent{ID: id, Name: name, FirstSeen: now, LastSeen: now}
		if err := r.db.WithContext(ctx).Create(&agent).Error; err != nil {
			return fmt.Errorf("agents: create: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("agents: lookup: %w", err)
	}

	result := r.db.WithContext(ctx).Model(&db.Agent{}).Where("id = ?", id).
		Updates(map[string]any{"name": name, "last_seen": now})
	if result.Error != nil {
		return fmt.Errorf("agents: touch: %w", result.Error)
	}
	return nil
}

func (r *gormAgentRepository) UpdateLastSeen(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&db.Agent{}).Where("id = ?", id).
		Update("last_seen", now)
	if result.Error != nil {
		return fmt.Errorf("agents: update last_seen: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormAgentRepository) List(ctx context.Context) ([]db.Agent, error) {
	var agents []db.Agent
	if err := r.db.WithContext(ctx).Order("first_seen ASC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("agents: list: %w", err)
	}
	return agents, nil
}
