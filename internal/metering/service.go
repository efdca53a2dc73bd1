// Package metering orchestrates the event store, rate-plan fetcher,
// subscription fetcher, and pricing engine for a single estimate request.
package metering

import (
	"context"
	"time"

	"github.com/ridgeline/meterbill/internal/domain/subscription"
	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/pricing"
	clickhouserepo "github.com/ridgeline/meterbill/internal/repository/clickhouse"
	"github.com/ridgeline/meterbill/internal/rateplanclient"
	"github.com/ridgeline/meterbill/internal/subscriptionclient"
	"github.com/ridgeline/meterbill/internal/domain/events"
	"github.com/ridgeline/meterbill/internal/types"
)

// Request is the scope an estimate is computed over.
type Request struct {
	From             *time.Time
	To               *time.Time
	SubscriptionID   string
	ProductID        string
	RatePlanID       string
	BillableMetricID string
}

// Response is the estimate result consumed downstream by invoice
// creation, carrying the pricing result plus the resolved scope it was
// computed against.
type Response struct {
	*pricing.Result

	SubscriptionID string
	RatePlanID     string
	From           time.Time
	To             time.Time
}

type Service interface {
	Estimate(ctx context.Context, req Request) (*Response, error)
}

type service struct {
	subscriptions subscriptionclient.Fetcher
	ratePlans     rateplanclient.Fetcher
	events        clickhouserepo.EventCounter
	logger        *logger.Logger
}

func NewService(subs subscriptionclient.Fetcher, plans rateplanclient.Fetcher, counter clickhouserepo.EventCounter, log *logger.Logger) Service {
	return &service{subscriptions: subs, ratePlans: plans, events: counter, logger: log}
}

func (s *service) Estimate(ctx context.Context, req Request) (*Response, error) {
	orgID := types.GetTenantID(ctx)
	if orgID == "" {
		return nil, ierr.NewError("tenant context is required").Mark(ierr.ErrUnauthenticated)
	}

	productID := req.ProductID
	ratePlanID := req.RatePlanID
	from, to := req.From, req.To

	var sub *subscription.Subscription
	if req.SubscriptionID != "" {
		var err error
		sub, err = s.subscriptions.Get(ctx, req.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if !sub.HasRatePlan() {
			return nil, ierr.NewError("subscription has no rate plan").Mark(ierr.ErrInvalidState)
		}
		productID = sub.ProductID
		ratePlanID = sub.RatePlanID

		if from == nil && to == nil {
			from, to = sub.CurrentBillingPeriodStart, sub.CurrentBillingPeriodEnd
		}
	}

	now := time.Now().UTC()
	if to == nil {
		t := now
		to = &t
	}
	if from == nil {
		f := to.Add(-1 * time.Hour)
		from = &f
	}

	if ratePlanID == "" {
		return nil, ierr.NewError("rate_plan_id could not be resolved").Mark(ierr.ErrInvalidArgument)
	}

	plan, err := s.ratePlans.Fetch(ctx, ratePlanID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).Mark(ierr.ErrInvalidState)
		}
		return nil, err
	}

	metricID := req.BillableMetricID
	if metricID == "" {
		metricID = plan.BillableMetricID
	}

	count, err := s.events.CountEvents(ctx, events.CountFilter{
		OrganizationID:   orgID,
		From:             *from,
		To:               *to,
		SubscriptionID:   req.SubscriptionID,
		ProductID:        productID,
		RatePlanID:       ratePlanID,
		BillableMetricID: metricID,
	})
	if err != nil {
		return nil, err
	}

	result := pricing.Price(plan, int64(count), now)

	return &Response{
		Result:         result,
		SubscriptionID: req.SubscriptionID,
		RatePlanID:     ratePlanID,
		From:           *from,
		To:             *to,
	}, nil
}
