package invoice

import (
	"context"
	"time"
)

// ListFilter scopes a List query by organization plus any combination
// of customer, subscription, status, and period; zero-value fields are
// not applied.
type ListFilter struct {
	OrganizationID string
	CustomerID     string
	SubscriptionID string
	Status         Status
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Limit          int
	Offset         int
}

// Repository is the invoice store contract. Every write is
// transactional and must leave the invoice and its line items in a
// consistent state, or neither.
type Repository interface {
	// Save persists invoice and its line items atomically, assigning ID
	// if unset. InvoiceNumber must already be set by the caller.
	Save(ctx context.Context, inv *Invoice) error

	FindByID(ctx context.Context, organizationID, id string) (*Invoice, error)
	FindByNumber(ctx context.Context, organizationID, invoiceNumber string) (*Invoice, error)

	List(ctx context.Context, filter ListFilter) ([]*Invoice, error)

	// ExistsForPeriod is the single authoritative uniqueness probe backing
	// both invoice creation's duplicate guard and the monitor's period-close check.
	ExistsForPeriod(ctx context.Context, organizationID, subscriptionID string, start, end time.Time) (bool, error)

	UpdateStatus(ctx context.Context, organizationID, id string, status Status) error
}
