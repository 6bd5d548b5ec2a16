package billing

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/billing-engine/internal/audit"
	"github.com/angelmondragon/billing-engine/internal/credits"
	"github.com/angelmondragon/billing-engine/internal/invoices"
	"github.com/angelmondragon/billing-engine/internal/licenses"
	"github.com/angelmondragon/billing-engine/internal/memberships"
	"github.com/angelmondragon/billing-engine/internal/plans"
	"github.com/angelmondragon/billing-engine/internal/purchases"
	"github.com/angelmondragon/billing-engine/internal/subscriptions"
	"github.com/angelmondragon/billing-engine/pkg/db"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
)

// ServiceParams groups dependencies for the billing services.
type ServiceParams struct {
	DB          *db.Client
	Provisioner purchases.Provisioner
	Logger      *logger.Logger
}

// Services is the set of domain services sharing one connection pool and
// one audit writer. cmd/api and cmd/cron-worker both build it.
type Services struct {
	Audit         *audit.Writer
	Outbox        *outbox.Repository
	Subscriptions *subscriptions.Service
	Credits       *credits.Service
	Invoices      *invoices.Service
	Purchases     *purchases.Service
}

// NewServices wires the billing domain. A nil provisioner falls back to the
// stored-procedure provisioner.
func NewServices(params ServiceParams) (*Services, error) {
	if params.DB == nil {
		return nil, errors.New("db client is required")
	}
	conn := params.DB.DB()
	provisioner := params.Provisioner
	if provisioner == nil {
		provisioner = purchases.NewSQLProvisioner()
	}

	outboxRepo := outbox.NewRepository(conn)
	writer := audit.NewWriter(outbox.NewService(outboxRepo, params.Logger), params.Logger)

	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:     subscriptions.NewRepository(conn),
		Plans:    plans.NewRepository(conn),
		Licenses: licenses.NewRepository(conn),
		Audit:    writer,
		Logger:   params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("subscription service: %w", err)
	}
	creditSvc, err := credits.NewService(credits.NewRepository(conn), memberships.NewRepository(conn), writer, params.Logger)
	if err != nil {
		return nil, fmt.Errorf("credit service: %w", err)
	}
	invoiceSvc, err := invoices.NewService(invoices.NewRepository(conn), writer)
	if err != nil {
		return nil, fmt.Errorf("invoice service: %w", err)
	}
	purchaseSvc, err := purchases.NewService(purchases.ServiceParams{
		DB:          params.DB,
		Repo:        purchases.NewRepository(conn),
		Credits:     creditSvc,
		Provisioner: provisioner,
		Audit:       writer,
		Logger:      params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("purchase service: %w", err)
	}

	return &Services{
		Audit:         writer,
		Outbox:        outboxRepo,
		Subscriptions: subs,
		Credits:       creditSvc,
		Invoices:      invoiceSvc,
		Purchases:     purchaseSvc,
	}, nil
}
