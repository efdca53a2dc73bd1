package metering

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline/meterbill/internal/domain/events"
	"github.com/ridgeline/meterbill/internal/domain/rateplan"
	"github.com/ridgeline/meterbill/internal/domain/subscription"
	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/types"
)

func decFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

type fakeSubscriptions struct {
	byID map[string]*subscription.Subscription
}

func (f *fakeSubscriptions) Get(_ context.Context, id string) (*subscription.Subscription, error) {
	sub, ok := f.byID[id]
	if !ok {
		return nil, ierr.NewError("subscription not found").Mark(ierr.ErrNotFound)
	}
	return sub, nil
}

func (f *fakeSubscriptions) ListActive(context.Context, string) ([]*subscription.Subscription, error) {
	return nil, nil
}

type fakeRatePlans struct {
	byID map[string]*rateplan.RatePlan
}

func (f *fakeRatePlans) Fetch(_ context.Context, id string) (*rateplan.RatePlan, error) {
	plan, ok := f.byID[id]
	if !ok {
		return nil, ierr.NewError("rate plan not found").Mark(ierr.ErrNotFound)
	}
	return plan, nil
}

type fakeEventCounter struct {
	count  uint64
	lastFn events.CountFilter
}

func (f *fakeEventCounter) CountEvents(_ context.Context, filter events.CountFilter) (uint64, error) {
	f.lastFn = filter
	return f.count, nil
}

func testLogger() *logger.Logger {
	return logger.GetLogger()
}

func TestEstimate_RequiresTenantContext(t *testing.T) {
	svc := NewService(&fakeSubscriptions{}, &fakeRatePlans{}, &fakeEventCounter{}, testLogger())

	_, err := svc.Estimate(context.Background(), Request{RatePlanID: "rp_1"})
	require.Error(t, err)
	assert.True(t, ierr.IsUnauthenticated(err))
}

func TestEstimate_ResolvesScopeFromSubscription(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := &subscription.Subscription{
		ID:                        "sub_1",
		OrganizationID:            "org_1",
		ProductID:                 "prod_1",
		RatePlanID:                "rp_1",
		CurrentBillingPeriodStart: &start,
		CurrentBillingPeriodEnd:   &end,
	}
	plan := &rateplan.RatePlan{
		ID:               "rp_1",
		BillingFrequency: "MONTHLY",
		BillableMetricID: "metric_1",
		FlatFee:          &rateplan.FlatFee{Amount: decFromString(t, "10")},
	}
	counter := &fakeEventCounter{count: 5}

	svc := NewService(
		&fakeSubscriptions{byID: map[string]*subscription.Subscription{"sub_1": sub}},
		&fakeRatePlans{byID: map[string]*rateplan.RatePlan{"rp_1": plan}},
		counter,
		testLogger(),
	)

	ctx := types.WithTenantID(context.Background(), "org_1")
	resp, err := svc.Estimate(ctx, Request{SubscriptionID: "sub_1"})
	require.NoError(t, err)

	assert.Equal(t, "rp_1", resp.RatePlanID)
	assert.True(t, resp.From.Equal(start))
	assert.True(t, resp.To.Equal(end))
	assert.Equal(t, "org_1", counter.lastFn.OrganizationID)
	assert.Equal(t, "metric_1", counter.lastFn.BillableMetricID)
	assert.Equal(t, int64(5), resp.EventCount)
	assert.True(t, resp.Total.Equal(decFromString(t, "10")))
}

func TestEstimate_SubscriptionWithoutRatePlanIsInvalidState(t *testing.T) {
	sub := &subscription.Subscription{ID: "sub_1", OrganizationID: "org_1"}
	svc := NewService(
		&fakeSubscriptions{byID: map[string]*subscription.Subscription{"sub_1": sub}},
		&fakeRatePlans{},
		&fakeEventCounter{},
		testLogger(),
	)

	ctx := types.WithTenantID(context.Background(), "org_1")
	_, err := svc.Estimate(ctx, Request{SubscriptionID: "sub_1"})
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidState(err))
}

func TestEstimate_MissingRatePlanIdIsInvalidArgument(t *testing.T) {
	svc := NewService(&fakeSubscriptions{}, &fakeRatePlans{}, &fakeEventCounter{}, testLogger())

	ctx := types.WithTenantID(context.Background(), "org_1")
	_, err := svc.Estimate(ctx, Request{})
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidArgument(err))
}

func TestEstimate_UnknownRatePlanIsInvalidState(t *testing.T) {
	svc := NewService(&fakeSubscriptions{}, &fakeRatePlans{}, &fakeEventCounter{}, testLogger())

	ctx := types.WithTenantID(context.Background(), "org_1")
	_, err := svc.Estimate(ctx, Request{RatePlanID: "missing"})
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidState(err))
}
