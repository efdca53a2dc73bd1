// Package clickhouse implements the read-only event store reader: a
// count query against the external billable-event table.
package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ridgeline/meterbill/internal/clickhousestore"
	"github.com/ridgeline/meterbill/internal/domain/events"
	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/logger"
)

// EventCounter counts billable events for an organization over a time
// window, optionally narrowed by subscription, product, rate plan, or
// billable metric.
type EventCounter interface {
	CountEvents(ctx context.Context, filter events.CountFilter) (uint64, error)
}

// TenantEnumerator backs the monitor's tenant-enumeration step: a
// distinct scan of organizations with recent billable activity, so the
// monitor never has to iterate every organization known to the
// platform on every tick.
type TenantEnumerator interface {
	ListTenantsWithRecentActivity(ctx context.Context, since time.Time) ([]string, error)
}

type EventRepository struct {
	store  *clickhousestore.Store
	table  string
	logger *logger.Logger
}

// NewEventRepository builds the combined EventCounter/TenantEnumerator
// backing both the per-request count query and the monitor's tenant
// enumeration step.
func NewEventRepository(store *clickhousestore.Store, table string, log *logger.Logger) *EventRepository {
	if table == "" {
		table = "ingestion_event"
	}
	return &EventRepository{store: store, table: table, logger: log}
}

// NewEventCounter is NewEventRepository narrowed to the EventCounter interface.
func NewEventCounter(store *clickhousestore.Store, table string, log *logger.Logger) EventCounter {
	return NewEventRepository(store, table, log)
}

// CountEvents counts rows with status = SUCCESS, organization_id = orgId,
// timestamp in the half-open window [from, to), and equality on each
// supplied optional filter. Failures are surfaced as a query error to
// the caller — this reader never retries internally.
func (r *EventRepository) CountEvents(ctx context.Context, filter events.CountFilter) (uint64, error) {
	if filter.OrganizationID == "" {
		return 0, ierr.NewError("organization id is required to count events").Mark(ierr.ErrInvalidArgument)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT count() FROM %s WHERE status = ? AND organization_id = ? AND timestamp >= ? AND timestamp < ?", r.table)
	args := []any{string(events.StatusSuccess), filter.OrganizationID, filter.From, filter.To}

	if filter.SubscriptionID != "" {
		sb.WriteString(" AND subscription_id = ?")
		args = append(args, filter.SubscriptionID)
	}
	if filter.ProductID != "" {
		sb.WriteString(" AND product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.RatePlanID != "" {
		sb.WriteString(" AND rate_plan_id = ?")
		args = append(args, filter.RatePlanID)
	}
	if filter.BillableMetricID != "" {
		sb.WriteString(" AND billable_metric_id = ?")
		args = append(args, filter.BillableMetricID)
	}

	var count uint64
	if err := r.store.Conn().QueryRow(ctx, sb.String(), args...).Scan(&count); err != nil {
		return 0, ierr.WithError(err).WithHint("event store query failed").Mark(ierr.ErrUpstreamUnavailable)
	}
	return count, nil
}

// ListTenantsWithRecentActivity returns the distinct organization_id
// values with at least one successful event since the given instant.
// This is the sole driver of which tenants the monitor visits on a tick —
// an organization with no events in the lookback window is skipped
// entirely, even if it has subscriptions due to close.
func (r *EventRepository) ListTenantsWithRecentActivity(ctx context.Context, since time.Time) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT organization_id FROM %s WHERE status = ? AND timestamp >= ?", r.table)

	rows, err := r.store.Conn().Query(ctx, query, string(events.StatusSuccess), since)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("tenant enumeration query failed").Mark(ierr.ErrUpstreamUnavailable)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrUpstreamUnavailable)
		}
		tenants = append(tenants, orgID)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrUpstreamUnavailable)
	}
	return tenants, nil
}
