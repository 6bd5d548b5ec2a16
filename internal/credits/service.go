package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/internal/memberships"
	"github.com/angelmondragon/billing-engine/pkg/db/models"
	"github.com/angelmondragon/billing-engine/pkg/enums"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
	"github.com/angelmondragon/billing-engine/pkg/outbox/payloads"
)

const actionGrant = "credits.grant"

// GrantPoolParams splits Pool across the active members of TenantID.
// DedupeSource defaults to the source event id.
type GrantPoolParams struct {
	Source       audit.Source
	DedupeSource string
	TenantID     uuid.UUID
	Pool         int64
	SourceType   enums.CreditSourceType
	Reason       string
}

// GrantParams credits a single user. DedupeSource overrides the event id used
// to derive the dedupe key, so retries of the same logical grant collapse.
type GrantParams struct {
	Source       audit.Source
	DedupeSource string
	TenantID     *uuid.UUID
	UserID       uuid.UUID
	Amount       int64
	SourceType   enums.CreditSourceType
	Reason       string
}

// GrantResult lists the users credited by this call. Skipped counts entries
// whose dedupe key already existed.
type GrantResult struct {
	Granted   []payloads.CreditRecipient
	Skipped   int
	Remainder int64
	Total     int64
}

type Service struct {
	repo    *Repository
	members *memberships.Repository
	audit   *audit.Writer
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(repo *Repository, members *memberships.Repository, writer *audit.Writer, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("credit repository required")
	}
	if members == nil {
		return nil, errors.New("membership repository required")
	}
	if writer == nil {
		return nil, errors.New("audit writer required")
	}
	return &Service{
		repo:    repo,
		members: members,
		audit:   writer,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// GrantPool credits every active member of the tenant with an equal share of
// the pool. A zero share is recorded as skipped.
func (s *Service) GrantPool(ctx context.Context, tx *gorm.DB, params GrantPoolParams) (*GrantResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	dedupeSource := strings.TrimSpace(params.DedupeSource)
	if dedupeSource == "" {
		dedupeSource = params.Source.EventID
	}
	if dedupeSource == "" {
		return nil, errors.New("source event id required")
	}
	result := &GrantResult{}
	if params.Pool <= 0 {
		return result, nil
	}

	userIDs, err := s.members.WithTx(tx).ListActiveUserIDs(ctx, params.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant members: %w", err)
	}
	perUser, remainder := Split(params.Pool, len(userIDs))
	result.Remainder = remainder
	if perUser == 0 {
		err := s.audit.Record(ctx, tx, audit.Entry{
			Source:     params.Source,
			EntityType: enums.SyncEntityCredits,
			EntityID:   params.TenantID.String(),
			Action:     actionGrant,
			Outcome:    enums.EventOutcomeSkipped,
			Details: map[string]any{
				"pool":    params.Pool,
				"members": len(userIDs),
			},
		})
		return result, err
	}

	tenantID := params.TenantID
	repo := s.repo.WithTx(tx)
	for _, userID := range userIDs {
		inserted, err := s.insert(ctx, repo, models.CreditLedgerEntry{
			UserID:     userID,
			TenantID:   &tenantID,
			Amount:     perUser,
			Reason:     params.Reason,
			SourceType: params.SourceType,
			EventID:    dedupeSource,
			DedupeKey:  DedupeKey(dedupeSource, userID),
		})
		if err != nil {
			return nil, err
		}
		if !inserted {
			result.Skipped++
			continue
		}
		result.Granted = append(result.Granted, payloads.CreditRecipient{UserID: userID, Amount: perUser})
		result.Total += perUser
	}

	if err := s.finish(ctx, tx, params.Source, &tenantID, params.SourceType, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Grant credits one user. It is used for credit pack purchases.
func (s *Service) Grant(ctx context.Context, tx *gorm.DB, params GrantParams) (*GrantResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if params.UserID == uuid.Nil {
		return nil, errors.New("user id required")
	}
	dedupeSource := strings.TrimSpace(params.DedupeSource)
	if dedupeSource == "" {
		dedupeSource = params.Source.EventID
	}
	if dedupeSource == "" {
		return nil, errors.New("source event id required")
	}
	result := &GrantResult{}
	if params.Amount <= 0 {
		return result, nil
	}

	inserted, err := s.insert(ctx, s.repo.WithTx(tx), models.CreditLedgerEntry{
		UserID:     params.UserID,
		TenantID:   params.TenantID,
		Amount:     params.Amount,
		Reason:     params.Reason,
		SourceType: params.SourceType,
		EventID:    dedupeSource,
		DedupeKey:  DedupeKey(dedupeSource, params.UserID),
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		result.Skipped = 1
	} else {
		result.Granted = []payloads.CreditRecipient{{UserID: params.UserID, Amount: params.Amount}}
		result.Total = params.Amount
	}
	if err := s.finish(ctx, tx, params.Source, params.TenantID, params.SourceType, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Balance returns the current credit balance of the user.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.Balance(ctx, userID)
}

func (s *Service) insert(ctx context.Context, repo *Repository, entry models.CreditLedgerEntry) (bool, error) {
	exists, err := repo.Exists(ctx, entry.DedupeKey)
	if err != nil {
		return false, fmt.Errorf("check ledger dedupe key: %w", err)
	}
	if exists {
		return false, nil
	}
	inserted, err := repo.Insert(ctx, &entry)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return inserted, nil
}

func (s *Service) finish(ctx context.Context, tx *gorm.DB, src audit.Source, tenantID *uuid.UUID, sourceType enums.CreditSourceType, result *GrantResult) error {
	outcome := enums.EventOutcomeApplied
	if len(result.Granted) == 0 {
		outcome = enums.EventOutcomeSkipped
	}
	entityID := ""
	if tenantID != nil {
		entityID = tenantID.String()
	}
	err := s.audit.Record(ctx, tx, audit.Entry{
		Source:     src,
		EntityType: enums.SyncEntityCredits,
		EntityID:   entityID,
		Action:     actionGrant,
		Outcome:    outcome,
		Details: map[string]any{
			"source_type": sourceType,
			"recipients":  len(result.Granted),
			"total":       result.Total,
			"duplicates":  result.Skipped,
			"remainder":   result.Remainder,
		},
	})
	if err != nil {
		return err
	}
	if len(result.Granted) == 0 {
		return nil
	}

	aggregateID := uuid.New()
	if tenantID != nil {
		aggregateID = *tenantID
	}
	return s.audit.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCreditsGranted,
		AggregateType: enums.AggregateCreditGrant,
		AggregateID:   aggregateID,
		Source:        src.Ref(),
		OccurredAt:    s.now().UTC(),
		Data: payloads.CreditsGrantedEvent{
			TenantID:   tenantID,
			SourceType: sourceType,
			EventID:    src.EventID,
			Total:      result.Total,
			Recipients: result.Granted,
		},
	})
}
