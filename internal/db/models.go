package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by UUID-keyed persisted models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// Agent is the persisted record of an agent that has connected at least
// once, per spec §6.4. The live registry state (installed/loaded models,
// pending count, connection handle) is in-memory only and lives in the
// registry package — this row exists solely to remember first_seen and
// last_seen across restarts.
type Agent struct {
	ID        string    `gorm:"type:text;primaryKey"` // the agent-supplied id, not a generated UUID
	Name      string    `gorm:"not null"`
	FirstSeen time.Time `gorm:"not null"`
	LastSeen  time.Time `gorm:"not null;index"`
}

// ModelMapping is a persisted public-name -> internal-name translation
// (spec §3 ModelMapping / §6.4 model_mappings table).
type ModelMapping struct {
	base
	InternalName string `gorm:"uniqueIndex;not null"`
	PublicName   string `gorm:"uniqueIndex;not null"`
}
