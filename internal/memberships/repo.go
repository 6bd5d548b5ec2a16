package memberships

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
)

// Repository exposes the membership reads billing needs. Memberships are
// owned by the account service.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy of the repository that reads through tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// ListActiveUserIDs returns the active members of a tenant ordered by user id,
// so credit splits are deterministic across replays.
func (r *Repository) ListActiveUserIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.TenantMember{}).
		Where("tenant_id = ? AND status = ?", tenantID, enums.MembershipStatusActive).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsActiveMember reports whether userID is an active member of tenantID.
func (r *Repository) IsActiveMember(ctx context.Context, tenantID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TenantMember{}).
		Where("tenant_id = ? AND user_id = ? AND status = ?", tenantID, userID, enums.MembershipStatusActive).
		Count(&count).Error
	return count > 0, err
}
