package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/arkeep-io/llmgateway/internal/db"
)

// ModelMappingRepository persists public-name <-> internal-name
// translations (spec §4.4 / §6.4 model_mappings table).
type ModelMappingRepository interface {
	Create(ctx context.Context, internalName, publicName string) (*db.ModelMapping, error)
	DeleteByPublicName(ctx context.Context, publicName string) error
	List(ctx context.Context) ([]db.ModelMapping, error)
}

type gormModelMappingRepository struct {
	db *gorm.DB
}

// NewModelMappingRepository returns a ModelMappingRepository backed by the
// provided *gorm.DB.
func NewModelMappingRepository(gdb *gorm.DB) ModelMappingRepository {
	return &gormModelMappingRepository{db: gdb}
}

func (r *gormModelMappingRepository) Create(ctx context.Context, internalName, publicName string) (*db.ModelMapping, error) {
	mapping := db.ModelMapping{InternalName: internalName, PublicName: publicName}
	if err := r.db.WithContext(ctx).Create(&mapping).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("mappings: create: %w", err)
	}
	return &mapping, nil
}

func (r *gormModelMappingRepository) DeleteByPublicName(ctx context.Context, publicName string) error {
	result := r.db.WithContext(ctx).Where("public_name = ?", publicName).Delete(&db.ModelMapping{})
	if result.Error != nil {
		return fmt.Errorf("mappings: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormModelMappingRepository) List(ctx context.Context) ([]db.ModelMapping, error) {
	var mappings []db.ModelMapping
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("mappings: list: %w", err)
	}
	return mappings, nil
}

// isUniqueViolation is a best-effort, driver-agnostic check for unique
// constraint violations across SQLite and Postgres error strings, since
// GORM does not normalize this across dialects.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
