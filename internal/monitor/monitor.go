// Package monitor implements the billing-period monitor's per-tick
// state machine: the autonomous sweep that closes billing periods and
// hands them to metering and invoicing.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/ridgeline/meterbill/internal/credential"
	"github.com/ridgeline/meterbill/internal/domain/invoice"
	"github.com/ridgeline/meterbill/internal/domain/subscription"
	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/invoicing"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/metering"
	chrepo "github.com/ridgeline/meterbill/internal/repository/clickhouse"
	"github.com/ridgeline/meterbill/internal/subscriptionclient"
	"github.com/ridgeline/meterbill/internal/types"
)

// TenantLookbackWindow bounds how far back ListTenantsWithRecentActivity
// scans for organizations to visit on a tick. A tenant with no billable
// activity in this window has nothing to close and is skipped.
const TenantLookbackWindow = 24 * time.Hour

// Summary is the tick's externally observable surface: logs and metrics
// only, never a per-subscription result.
type Summary struct {
	TenantsVisited      int
	SubscriptionsClosed int
	SubscriptionErrors  int
	TenantErrors        int
}

type Monitor struct {
	tenants        chrepo.TenantEnumerator
	subscriptions  subscriptionclient.Fetcher
	credentials    credential.Issuer
	invoices       invoice.Repository
	metering       metering.Service
	invoicer       invoicing.Service
	logger         *logger.Logger
	workerPoolSize int
}

func New(
	tenants chrepo.TenantEnumerator,
	subscriptions subscriptionclient.Fetcher,
	credentials credential.Issuer,
	invoices invoice.Repository,
	meteringSvc metering.Service,
	invoicer invoicing.Service,
	workerPoolSize int,
	log *logger.Logger,
) *Monitor {
	if workerPoolSize <= 0 {
		workerPoolSize = 1
	}
	return &Monitor{
		tenants:        tenants,
		subscriptions:  subscriptions,
		credentials:    credentials,
		invoices:       invoices,
		metering:       meteringSvc,
		invoicer:       invoicer,
		logger:         log,
		workerPoolSize: workerPoolSize,
	}
}

// Tick runs one full state-machine pass. Tenants are processed
// concurrently, bounded by workerPoolSize, since one tenant's upstream
// latency must never stall another's. Only catastrophic failures —
// enumeration itself failing — abort early; every other failure is
// isolated at the subscription or tenant boundary.
func (m *Monitor) Tick(ctx context.Context) (Summary, error) {
	var summary Summary
	log := m.logger.WithContext(ctx)

	tenantIDs, err := m.tenants.ListTenantsWithRecentActivity(ctx, time.Now().Add(-TenantLookbackWindow))
	if err != nil {
		return summary, ierr.WithError(err).WithHint("tenant enumeration failed, aborting tick").Mark(ierr.ErrUpstreamUnavailable)
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(m.workerPoolSize)

	for _, tenantID := range tenantIDs {
		select {
		case <-ctx.Done():
			p.Wait()
			log.Infow("monitor tick cancelled, stopping tenant enumeration", "tenants_visited", summary.TenantsVisited)
			return summary, nil
		default:
		}

		tenantID := tenantID
		p.Go(func() {
			var tenantSummary Summary
			if err := m.processTenant(ctx, tenantID, &tenantSummary); err != nil {
				mu.Lock()
				summary.TenantErrors++
				mu.Unlock()
				log.Errorw("tenant processing failed, continuing to next tenant", "organization_id", tenantID, "error", err)
				return
			}
			mu.Lock()
			summary.TenantsVisited++
			summary.SubscriptionsClosed += tenantSummary.SubscriptionsClosed
			summary.SubscriptionErrors += tenantSummary.SubscriptionErrors
			mu.Unlock()
		})
	}
	p.Wait()

	log.Infow("monitor tick complete",
		"tenants_visited", summary.TenantsVisited,
		"subscriptions_closed", summary.SubscriptionsClosed,
		"subscription_errors", summary.SubscriptionErrors,
		"tenant_errors", summary.TenantErrors,
	)
	return summary, nil
}

func (m *Monitor) processTenant(ctx context.Context, tenantID string, summary *Summary) error {
	token, err := m.credentials.Issue(tenantID)
	if err != nil {
		return ierr.WithError(err).WithHint("failed to mint service credential").Mark(ierr.ErrUnauthenticated)
	}

	tenantCtx := types.WithCredential(types.WithTenantID(ctx, tenantID), token)
	log := m.logger.WithContext(tenantCtx)

	subs, err := m.subscriptions.ListActive(tenantCtx, tenantID)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !shouldClose(sub, time.Now()) {
			continue
		}

		if err := m.closeSubscriptionPeriod(tenantCtx, sub); err != nil {
			if ierr.IsAlreadyExists(err) {
				log.Debugw("invoice already exists for period, duplicate tick", "subscription_id", sub.ID)
				continue
			}
			summary.SubscriptionErrors++
			log.Errorw("failed to close billing period", "subscription_id", sub.ID, "error", err)
			continue
		}
		summary.SubscriptionsClosed++
	}
	return nil
}

// shouldClose reports whether a subscription's current billing period
// has reached its end and is due to close.
func shouldClose(s *subscription.Subscription, now time.Time) bool {
	if s.CurrentBillingPeriodStart == nil || s.CurrentBillingPeriodEnd == nil {
		return false
	}
	return !now.Before(*s.CurrentBillingPeriodEnd)
}

// closeSubscriptionPeriod estimates usage over the exact period window
// and hands the result to invoice creation scoped to the subscription's
// customer and rate plan.
func (m *Monitor) closeSubscriptionPeriod(ctx context.Context, sub *subscription.Subscription) error {
	start, end := *sub.CurrentBillingPeriodStart, *sub.CurrentBillingPeriodEnd

	exists, err := m.invoices.ExistsForPeriod(ctx, sub.OrganizationID, sub.ID, start, end)
	if err != nil {
		return err
	}
	if exists {
		return ierr.NewError("invoice already exists for this billing period").Mark(ierr.ErrAlreadyExists)
	}

	meterResp, err := m.metering.Estimate(ctx, metering.Request{
		From:           &start,
		To:             &end,
		SubscriptionID: sub.ID,
		ProductID:      sub.ProductID,
		RatePlanID:     sub.RatePlanID,
	})
	if err != nil {
		return err
	}

	// Detached from cancellation so a shutdown or tick timeout never
	// interrupts an invoice write that is already under way.
	_, err = m.invoicer.Create(context.WithoutCancel(ctx), invoicing.CreateParams{
		MeterResponse:  meterResp,
		OrganizationID: sub.OrganizationID,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		RatePlanID:     sub.RatePlanID,
		Start:          start,
		End:            end,
	})
	return err
}
