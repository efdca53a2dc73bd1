package invoicing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline/meterbill/internal/domain/invoice"
	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/metering"
	"github.com/ridgeline/meterbill/internal/pricing"
	"github.com/ridgeline/meterbill/internal/types"
)

// fakeInvoiceRepo is an in-memory stand-in for the postgres-backed
// repository, enforcing the same (org, subscription, start, end)
// uniqueness invariant under concurrent Save calls.
type fakeInvoiceRepo struct {
	mu       sync.Mutex
	invoices []*invoice.Invoice
	nextID   int
}

func (f *fakeInvoiceRepo) Save(_ context.Context, inv *invoice.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if inv.SubscriptionID != "" {
		for _, existing := range f.invoices {
			if existing.OrganizationID == inv.OrganizationID &&
				existing.SubscriptionID == inv.SubscriptionID &&
				existing.BillingPeriodStart.Equal(inv.BillingPeriodStart) &&
				existing.BillingPeriodEnd.Equal(inv.BillingPeriodEnd) {
				return ierr.NewError("invoice already exists for this billing period").Mark(ierr.ErrAlreadyExists)
			}
		}
	}
	f.nextID++
	inv.ID = "inv_fake_" + decimal.NewFromInt(int64(f.nextID)).String()
	now := time.Now().UTC()
	inv.CreatedAt, inv.UpdatedAt = now, now
	f.invoices = append(f.invoices, inv)
	return nil
}

func (f *fakeInvoiceRepo) FindByID(context.Context, string, string) (*invoice.Invoice, error) {
	return nil, ierr.NewError("not implemented in fake").Mark(ierr.ErrNotFound)
}

func (f *fakeInvoiceRepo) FindByNumber(context.Context, string, string) (*invoice.Invoice, error) {
	return nil, ierr.NewError("not implemented in fake").Mark(ierr.ErrNotFound)
}

func (f *fakeInvoiceRepo) List(context.Context, invoice.ListFilter) ([]*invoice.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*invoice.Invoice, len(f.invoices))
	copy(out, f.invoices)
	return out, nil
}

func (f *fakeInvoiceRepo) ExistsForPeriod(_ context.Context, orgID, subID string, start, end time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.invoices {
		if existing.OrganizationID == orgID && existing.SubscriptionID == subID &&
			existing.BillingPeriodStart.Equal(start) && existing.BillingPeriodEnd.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInvoiceRepo) UpdateStatus(_ context.Context, _, id string, status invoice.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invoices {
		if inv.ID == id {
			inv.Status = status
			return nil
		}
	}
	return ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
}

type fakeNotifier struct {
	mu                  sync.Mutex
	published, notified []*invoice.Invoice
	publishedCredential string
	notifiedCredential  string
}

func (f *fakeNotifier) PublishLocal(_ context.Context, inv *invoice.Invoice, credential string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, inv)
	f.publishedCredential = credential
}

func (f *fakeNotifier) NotifyAsync(_ context.Context, inv *invoice.Invoice, credential string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, inv)
	f.notifiedCredential = credential
}

func (f *fakeNotifier) ResyncTenant(context.Context, string, []*invoice.Invoice) int { return 0 }
func (f *fakeNotifier) Start(context.Context) error                                 { return nil }
func (f *fakeNotifier) Close() error                                                { return nil }

func meterResponse(total string, breakdown ...pricing.BreakdownEntry) *metering.Response {
	d, _ := decimal.NewFromString(total)
	return &metering.Response{
		Result: &pricing.Result{
			ModelType: "MONTHLY",
			Breakdown: breakdown,
			Total:     d,
		},
	}
}

func TestCreate_PersistsInvoiceWithOrderedLineItems(t *testing.T) {
	repo := &fakeInvoiceRepo{}
	notif := &fakeNotifier{}
	svc := NewService(repo, notif, logger.GetLogger())

	resp := meterResponse("125.00",
		pricing.BreakdownEntry{Label: "Flat Fee", Calculation: "100.00", Amount: decFromString(t, "100")},
		pricing.BreakdownEntry{Label: "Overage Charges", Calculation: "250 * 0.10 = 25.00", Amount: decFromString(t, "25")},
	)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	inv, err := svc.Create(context.Background(), CreateParams{
		MeterResponse:  resp,
		OrganizationID: "org_1",
		CustomerID:     "cust_1",
		SubscriptionID: "sub_1",
		RatePlanID:     "rp_1",
		Start:          start,
		End:            end,
	})
	require.NoError(t, err)

	assert.Equal(t, invoice.StatusDraft, inv.Status)
	assert.True(t, inv.TotalAmount.Equal(decFromString(t, "125")))
	require.Len(t, inv.LineItems, 2)
	assert.Equal(t, 1, inv.LineItems[0].LineNumber)
	assert.Equal(t, "Flat Fee", inv.LineItems[0].Description)
	assert.Equal(t, 2, inv.LineItems[1].LineNumber)
	assert.Equal(t, "Overage Charges", inv.LineItems[1].Description)

	assert.Len(t, notif.published, 1)
	assert.Len(t, notif.notified, 1)
}

func TestCreate_InvoiceNumberFormat(t *testing.T) {
	repo := &fakeInvoiceRepo{}
	svc := NewService(repo, &fakeNotifier{}, logger.GetLogger())

	inv, err := svc.Create(context.Background(), CreateParams{
		MeterResponse:  meterResponse("10.00"),
		OrganizationID: "org_1",
		CustomerID:     "cust_1",
		SubscriptionID: "sub_1",
		Start:          time.Now(),
		End:            time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(inv.InvoiceNumber), maxInvoiceNumberLen)
	assert.Regexp(t, `^INV-`, inv.InvoiceNumber)
}

// TestCreate_DuplicatePeriodIsRejected is scenario S6: a second create
// call for the same (org, subscription, period) must be rejected and the
// store must still contain exactly one invoice.
func TestCreate_DuplicatePeriodIsRejected(t *testing.T) {
	repo := &fakeInvoiceRepo{}
	svc := NewService(repo, &fakeNotifier{}, logger.GetLogger())

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	params := CreateParams{
		MeterResponse:  meterResponse("125.00"),
		OrganizationID: "org_1",
		CustomerID:     "cust_1",
		SubscriptionID: "sub_1",
		Start:          start,
		End:            end,
	}

	first, err := svc.Create(context.Background(), params)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), params)
	require.Error(t, err)
	assert.True(t, ierr.IsAlreadyExists(err))

	all, err := repo.List(context.Background(), invoice.ListFilter{OrganizationID: "org_1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].TotalAmount.Equal(first.TotalAmount))
}

// TestCreate_ThreadsCallerCredentialToNotifier checks the tenant
// context's credential half reaches both notification legs, since the
// downstream webhook payload and the in-process event both require it.
func TestCreate_ThreadsCallerCredentialToNotifier(t *testing.T) {
	repo := &fakeInvoiceRepo{}
	notif := &fakeNotifier{}
	svc := NewService(repo, notif, logger.GetLogger())

	ctx := types.WithCredential(context.Background(), "svc-token-abc")
	_, err := svc.Create(ctx, CreateParams{
		MeterResponse:  meterResponse("5.00"),
		OrganizationID: "org_1",
		CustomerID:     "cust_1",
		Start:          time.Now(),
		End:            time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "svc-token-abc", notif.publishedCredential)
	assert.Equal(t, "svc-token-abc", notif.notifiedCredential)
}

func TestCreate_AdHocInvoiceSkipsDuplicateGuard(t *testing.T) {
	repo := &fakeInvoiceRepo{}
	svc := NewService(repo, &fakeNotifier{}, logger.GetLogger())

	params := CreateParams{
		MeterResponse:  meterResponse("5.00"),
		OrganizationID: "org_1",
		CustomerID:     "cust_1",
		Start:          time.Now(),
		End:            time.Now().Add(time.Hour),
	}

	_, err := svc.Create(context.Background(), params)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), params)
	require.NoError(t, err, "ad-hoc invoices carry no subscription id so are never deduped")
}

func decFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
