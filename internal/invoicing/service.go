// Package invoicing turns a metering result into a persisted invoice,
// with the duplicate guard and deterministic invoice-number scheme the
// one-invoice-per-period invariant depends on.
package invoicing

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ridgeline/meterbill/internal/domain/invoice"
	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/metering"
	"github.com/ridgeline/meterbill/internal/notifier"
	"github.com/ridgeline/meterbill/internal/pricing"
	"github.com/ridgeline/meterbill/internal/types"
)

const maxInvoiceNumberLen = 21

// CreateParams carries the metering result and the scope an invoice is
// created against.
type CreateParams struct {
	MeterResponse  *metering.Response
	OrganizationID string
	CustomerID     string
	SubscriptionID string // empty for ad-hoc invoices
	RatePlanID     string
	Start          time.Time
	End            time.Time
}

type Service interface {
	Create(ctx context.Context, params CreateParams) (*invoice.Invoice, error)
}

type service struct {
	repo     invoice.Repository
	notifier notifier.Notifier
	logger   *logger.Logger
}

func NewService(repo invoice.Repository, n notifier.Notifier, log *logger.Logger) Service {
	return &service{repo: repo, notifier: n, logger: log}
}

func (s *service) Create(ctx context.Context, params CreateParams) (*invoice.Invoice, error) {
	log := s.logger.WithContext(ctx)

	// Step 1: duplicate guard, only meaningful for subscription-scoped
	// invoices (ad-hoc invoices carry no subscription to dedupe against).
	if params.SubscriptionID != "" {
		exists, err := s.repo.ExistsForPeriod(ctx, params.OrganizationID, params.SubscriptionID, params.Start, params.End)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ierr.NewError("invoice already exists for this billing period").Mark(ierr.ErrAlreadyExists)
		}
	}

	// Step 2: deterministic invoice number, INV-<base36(T)>.
	number := GenerateInvoiceNumber(params.OrganizationID, params.CustomerID, time.Now())

	// Step 3: build invoice.
	inv := &invoice.Invoice{
		OrganizationID:     params.OrganizationID,
		CustomerID:         params.CustomerID,
		SubscriptionID:     params.SubscriptionID,
		RatePlanID:         params.RatePlanID,
		InvoiceNumber:      number,
		ModelType:          params.MeterResponse.ModelType,
		TotalAmount:        params.MeterResponse.Total,
		BillingPeriodStart: params.Start,
		BillingPeriodEnd:   params.End,
		Status:             invoice.StatusDraft,
	}

	// Step 4: one line item per breakdown entry, in order.
	inv.LineItems = lo.Map(params.MeterResponse.Breakdown, func(b pricing.BreakdownEntry, i int) invoice.LineItem {
		return invoice.LineItem{
			LineNumber:  i + 1,
			Description: b.Label,
			Calculation: b.Calculation,
			Amount:      b.Amount,
		}
	})

	// Step 5: persist. An ALREADY_EXISTS surfacing here (rather than at
	// the pre-check above) means we lost a race against a concurrent tick
	// for the same period — expected, not a bug. An invoice-number
	// collision surfaces as STORAGE_ERROR instead.
	if err := s.repo.Save(ctx, inv); err != nil {
		return nil, err
	}

	// Step 6: in-process creation notification for any local subscribers,
	// carrying the caller's tenant credential from ambient context.
	credential := types.GetCredential(ctx)
	s.notifier.PublishLocal(ctx, inv, credential)

	// Step 7: fire-and-forget handoff to the downstream accounting-sync
	// collaborator, passing the caller's tenant credential. Failure here
	// must never roll back the persisted invoice — the store is the
	// source of truth.
	s.notifier.NotifyAsync(ctx, inv, credential)

	log.Infow("invoice created", "invoice_id", inv.ID, "invoice_number", inv.InvoiceNumber, "total", inv.TotalAmount.String())
	return inv, nil
}

// GenerateInvoiceNumber builds an INV-<base36(T)> invoice number, where
// T = nowMillis + org*10^12 + customer*10^6, bounded to <= 21
// characters. org and customer are hashed to a bounded integer range
// first (the source organization/customer ids are opaque strings, not
// the small integers the formula's magnitude implies) so the scheme
// stays deterministic for any id shape while still keeping the additive
// structure intact.
func GenerateInvoiceNumber(organizationID, customerID string, at time.Time) string {
	millis := big.NewInt(at.UnixMilli())

	orgComponent := new(big.Int).Mul(big.NewInt(idFold(organizationID)), big.NewInt(1_000_000_000_000))
	custComponent := new(big.Int).Mul(big.NewInt(idFold(customerID)), big.NewInt(1_000_000))

	t := new(big.Int).Add(millis, orgComponent)
	t.Add(t, custComponent)

	number := "INV-" + strings.ToUpper(t.Text(36))
	if len(number) > maxInvoiceNumberLen {
		number = number[:maxInvoiceNumberLen]
	}
	return number
}

// idFold folds an arbitrary id string down to a small non-negative
// integer (0-999) so it can play the role of the formula's org/customer
// multiplier without overflowing or losing the millisecond component's
// precision.
func idFold(id string) int64 {
	if id == "" {
		return 0
	}
	var sum int64
	for _, r := range id {
		sum = (sum*31 + int64(r)) % 1000
	}
	if sum < 0 {
		sum += 1000
	}
	return sum
}
