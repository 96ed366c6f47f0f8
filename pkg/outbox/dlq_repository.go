package outbox

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/db/models"
)

// DLQRepository parks events the publisher gave up on, next to the reason.
type DLQRepository struct{}

func NewDLQRepository() *DLQRepository {
	return &DLQRepository{}
}

// InsertTx writes entry in the publisher's batch transaction so the parked
// copy and the terminal mark on the source row commit together.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return fmt.Errorf("dead-letter %s: transaction required", entry.EventID)
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("dead-letter %s: unknown reason %q", entry.EventID, entry.ErrorReason)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}
