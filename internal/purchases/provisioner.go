package purchases

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Provisioner copies purchased marketplace items into the buyer's workspace.
type Provisioner interface {
	CopyPurchasedItems(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, userID *uuid.UUID, itemRefs []string) error
}

// SQLProvisioner calls the copy_purchased_items stored function owned by the
// marketplace schema.
type SQLProvisioner struct{}

func NewSQLProvisioner() *SQLProvisioner {
	return &SQLProvisioner{}
}

func (p *SQLProvisioner) CopyPurchasedItems(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, userID *uuid.UUID, itemRefs []string) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(itemRefs) == 0 {
		return errors.New("no items to copy")
	}
	var copied int
	err := tx.WithContext(ctx).
		Raw("SELECT copy_purchased_items(?, ?, ?)", tenantID, userID, pq.Array(itemRefs)).
		Scan(&copied).Error
	if err != nil {
		return fmt.Errorf("copy purchased items: %w", err)
	}
	if copied < len(itemRefs) {
		return fmt.Errorf("copy purchased items: copied %d of %d", copied, len(itemRefs))
	}
	return nil
}
