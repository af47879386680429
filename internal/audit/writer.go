// Package audit persists append-only audit entries for dispatch state changes.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
)

// Entry describes one state change.
type Entry struct {
	OrganizationID *uuid.UUID
	ActorID        *uuid.UUID
	Action         string
	EntityType     string
	EntityID       uuid.UUID
	Metadata       map[string]any
}

// Writer inserts audit rows, inside the caller's transaction when one is given.
type Writer struct {
	db *gorm.DB
}

func NewWriter(db *gorm.DB) (*Writer, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	return &Writer{db: db}, nil
}

// Write stores entry using tx when non-nil.
func (w *Writer) Write(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if entry.Action == "" || entry.EntityType == "" {
		return fmt.Errorf("audit entry requires action and entity type")
	}
	conn := w.db
	if tx != nil {
		conn = tx
	}
	var metadata json.RawMessage
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = raw
	}
	row := &models.AuditLog{
		ID:             uuid.New(),
		OrganizationID: entry.OrganizationID,
		ActorID:        entry.ActorID,
		Action:         entry.Action,
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		Metadata:       metadata,
	}
	return conn.WithContext(ctx).Create(row).Error
}
