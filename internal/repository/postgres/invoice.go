// Package postgres implements the invoice repository against the two
// owned tables, using sqlx + lib/pq directly rather than ent (the
// retrieval pack carries only ent/schema/*.go definitions,
// not the generated client, and codegen cannot be hand-authored without
// running the Go toolchain).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ridgeline/meterbill/internal/domain/invoice"
	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/logger"
	pg "github.com/ridgeline/meterbill/internal/postgres"
	"github.com/ridgeline/meterbill/internal/types"
)

const uniqueViolationCode = "23505"

type invoiceRepository struct {
	client pg.IClient
	logger *logger.Logger
}

func NewInvoiceRepository(client pg.IClient, log *logger.Logger) invoice.Repository {
	return &invoiceRepository{client: client, logger: log}
}

// Save persists inv and its line items atomically: neither half
// is written if the other fails. A unique-constraint violation on
// (organization_id, subscription_id, billing_period_start,
// billing_period_end) is translated to ErrAlreadyExists rather than a
// raw storage error.
func (r *invoiceRepository) Save(ctx context.Context, inv *invoice.Invoice) error {
	if inv.ID == "" {
		inv.ID = types.GenerateUUIDWithPrefix(types.UUIDPrefixInvoice)
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	return r.client.WithTx(ctx, func(ctx context.Context) error {
		_, err := sqlx.NamedExecContext(ctx, r.client.Writer(ctx), `
			INSERT INTO invoice (
				id, organization_id, customer_id, subscription_id, rate_plan_id,
				invoice_number, total_amount, model_type,
				billing_period_start, billing_period_end, status, notes,
				created_at, updated_at
			) VALUES (
				:id, :organization_id, :customer_id, :subscription_id, :rate_plan_id,
				:invoice_number, :total_amount, :model_type,
				:billing_period_start, :billing_period_end, :status, :notes,
				:created_at, :updated_at
			)`, inv)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
				// Two distinct constraints can raise 23505 here: the
				// (org, subscription, period) uniqueness invariant this
				// core enforces on purpose, and the invoice_number
				// uniqueness the invoice-number formula can only collide
				// on by chance (see §9 open question on invoice-number
				// collision risk). Only the former is ALREADY_EXISTS; the
				// latter is a genuine storage-layer surprise.
				if strings.Contains(pqErr.Constraint, "invoice_number") {
					return ierr.WithError(err).WithHint("invoice number collision").Mark(ierr.ErrStorageError)
				}
				return ierr.WithError(err).WithHint("invoice already exists for this billing period").Mark(ierr.ErrAlreadyExists)
			}
			return ierr.WithError(err).WithHint("failed to persist invoice").Mark(ierr.ErrStorageError)
		}

		for i := range inv.LineItems {
			li := inv.LineItems[i]
			_, err := r.client.Writer(ctx).ExecContext(ctx, `
				INSERT INTO invoice_line_item (
					invoice_id, line_number, description, calculation, amount, quantity, unit_price
				) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				inv.ID, li.LineNumber, li.Description, li.Calculation, li.Amount, li.Quantity, li.UnitPrice)
			if err != nil {
				return ierr.WithError(err).WithHint("failed to persist invoice line item").Mark(ierr.ErrStorageError)
			}
		}
		return nil
	})
}

func (r *invoiceRepository) FindByID(ctx context.Context, organizationID, id string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	err := sqlx.GetContext(ctx, r.client.Reader(ctx), &inv,
		`SELECT * FROM invoice WHERE organization_id = $1 AND id = $2`, organizationID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).Mark(ierr.ErrStorageError)
	}
	if err := r.attachLineItems(ctx, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) FindByNumber(ctx context.Context, organizationID, invoiceNumber string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	err := sqlx.GetContext(ctx, r.client.Reader(ctx), &inv,
		`SELECT * FROM invoice WHERE organization_id = $1 AND invoice_number = $2`, organizationID, invoiceNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).Mark(ierr.ErrStorageError)
	}
	if err := r.attachLineItems(ctx, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) attachLineItems(ctx context.Context, inv *invoice.Invoice) error {
	var items []invoice.LineItem
	err := sqlx.SelectContext(ctx, r.client.Reader(ctx), &items,
		`SELECT line_number, description, calculation, amount, quantity, unit_price
		 FROM invoice_line_item WHERE invoice_id = $1 ORDER BY line_number ASC`, inv.ID)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrStorageError)
	}
	inv.LineItems = items
	return nil
}

// List filters by organization plus any combination of customer,
// subscription, status, and period bounds, ordered by created_at
// descending.
func (r *invoiceRepository) List(ctx context.Context, filter invoice.ListFilter) ([]*invoice.Invoice, error) {
	query := `SELECT * FROM invoice WHERE organization_id = $1`
	args := []any{filter.OrganizationID}

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		query += " AND customer_id = $" + strconv.Itoa(len(args))
	}
	if filter.SubscriptionID != "" {
		args = append(args, filter.SubscriptionID)
		query += " AND subscription_id = $" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	if filter.PeriodStart != nil {
		args = append(args, *filter.PeriodStart)
		query += " AND billing_period_start >= $" + strconv.Itoa(len(args))
	}
	if filter.PeriodEnd != nil {
		args = append(args, *filter.PeriodEnd)
		query += " AND billing_period_end <= $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	var invoices []*invoice.Invoice
	if err := sqlx.SelectContext(ctx, r.client.Reader(ctx), &invoices, query, args...); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrStorageError)
	}
	for _, inv := range invoices {
		if err := r.attachLineItems(ctx, inv); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

// ExistsForPeriod is the single authoritative uniqueness probe backing
// both invoice creation's duplicate guard and the monitor's period-close check.
func (r *invoiceRepository) ExistsForPeriod(ctx context.Context, organizationID, subscriptionID string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.client.Reader(ctx).QueryRowxContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM invoice
			WHERE organization_id = $1 AND subscription_id = $2
			  AND billing_period_start = $3 AND billing_period_end = $4
		)`, organizationID, subscriptionID, start, end).Scan(&exists)
	if err != nil {
		return false, ierr.WithError(err).Mark(ierr.ErrStorageError)
	}
	return exists, nil
}

func (r *invoiceRepository) UpdateStatus(ctx context.Context, organizationID, id string, status invoice.Status) error {
	res, err := r.client.Writer(ctx).ExecContext(ctx,
		`UPDATE invoice SET status = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`,
		status, time.Now().UTC(), organizationID, id)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrStorageError)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrStorageError)
	}
	if n == 0 {
		return ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
	}
	return nil
}
