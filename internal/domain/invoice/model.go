// Package invoice models the one mutable resource this core owns: the
// invoice and its line items. The aggregate is a value-type sequence —
// line items carry no back-pointer to their parent, and persistence
// always writes the header and its lines together in one transaction.
package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusIssued  Status = "ISSUED"
	StatusPaid    Status = "PAID"
	StatusVoid    Status = "VOID"
	StatusOverdue Status = "OVERDUE"
)

// LineItem is one entry in an invoice's owned, ordered breakdown. Amount
// is signed: positive is a charge, negative is a credit/discount.
type LineItem struct {
	LineNumber  int             `db:"line_number" json:"lineNumber"`
	Description string          `db:"description" json:"description"`
	Calculation string          `db:"calculation" json:"calculation"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Quantity    *decimal.Decimal `db:"quantity" json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal `db:"unit_price" json:"unitPrice,omitempty"`
}

// Invoice is the priced billing artifact this core persists. SubscriptionID
// may be empty only for ad-hoc invoices, which the billing-period
// monitor never produces.
type Invoice struct {
	ID             string `db:"id" json:"id"`
	OrganizationID string `db:"organization_id" json:"organizationId"`
	CustomerID     string `db:"customer_id" json:"customerId"`
	// Empty, not NULL, for ad-hoc invoices; Postgres treats '' as a
	// distinct value from NULL in the (org, subscription_id, period)
	// unique constraint, so concurrent ad-hoc invoices for the same org
	// and period never collide on it the way two monitor-created ones
	// would.
	SubscriptionID string `db:"subscription_id" json:"subscriptionId,omitempty"`
	RatePlanID     string `db:"rate_plan_id" json:"ratePlanId"`

	InvoiceNumber string          `db:"invoice_number" json:"invoiceNumber"`
	ModelType     string          `db:"model_type" json:"modelType"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"totalAmount"`

	BillingPeriodStart time.Time `db:"billing_period_start" json:"billingPeriodStart"`
	BillingPeriodEnd   time.Time `db:"billing_period_end" json:"billingPeriodEnd"`

	Status Status `db:"status" json:"status"`

	Notes string `db:"notes" json:"notes,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	LineItems []LineItem `json:"lineItems"`
}

// IsAdHoc reports whether this invoice was not generated against a
// subscription (never true for invoices produced by the monitor).
func (i *Invoice) IsAdHoc() bool {
	return i.SubscriptionID == ""
}
