package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/ridgeline/meterbill/internal/config"
	"github.com/ridgeline/meterbill/internal/domain/invoice"
	"github.com/ridgeline/meterbill/internal/httpclient"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is the wire payload POSTed to the downstream accounting-sync
// endpoint and carried on the in-process topic.
type Event struct {
	InvoiceID      string    `json:"invoice_id"`
	InvoiceNumber  string    `json:"invoice_number"`
	OrganizationID string    `json:"organization_id"`
	CustomerID     string    `json:"customer_id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	TotalAmount    string    `json:"total_amount"`
	CreatedAt      time.Time `json:"created_at"`
	Credential     string    `json:"credential"`
}

func eventFromInvoice(inv *invoice.Invoice, credential string) Event {
	return Event{
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		OrganizationID: inv.OrganizationID,
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		TotalAmount:    inv.TotalAmount.String(),
		CreatedAt:      inv.CreatedAt,
		Credential:     credential,
	}
}

// Notifier is what invoice creation hands a persisted invoice off to:
// an in-process publish any local subscriber can observe, and a fire-and-forget push
// to the external accounting-sync endpoint that never surfaces failure
// to its caller.
type Notifier interface {
	// PublishLocal fans an invoice-created event out to in-process
	// subscribers, carrying the caller's tenant credential. Never returns
	// an error to the caller — a publish failure is logged and swallowed;
	// this leg is best-effort.
	PublishLocal(ctx context.Context, inv *invoice.Invoice, credential string)
	// NotifyAsync schedules the outbound POST without blocking the
	// caller, carrying the caller's tenant credential; delivery failures
	// are logged, never returned.
	NotifyAsync(ctx context.Context, inv *invoice.Invoice, credential string)
	// ResyncTenant redelivers the outbound notification for every invoice
	// in invoices that belongs to organizationID and returns how many were
	// delivered successfully — the bulk-notification-resync operation for
	// recovering from an extended downstream outage.
	ResyncTenant(ctx context.Context, organizationID string, invoices []*invoice.Invoice) int
	// Start begins consuming the in-process topic in the background.
	// Call once at process startup.
	Start(ctx context.Context) error
	Close() error
}

type notifier struct {
	pubsub  PubSub
	client  httpclient.Client
	cfg     config.UpstreamConfig
	limiter *rate.Limiter
	logger  *logger.Logger

	sentMu sync.Mutex
	sent   map[string]struct{} // dedup guard, see NotifyAsync
}

func New(pubsub PubSub, client httpclient.Client, cfg config.UpstreamConfig, log *logger.Logger) Notifier {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	return &notifier{
		pubsub:  pubsub,
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  log,
		sent:    make(map[string]struct{}),
	}
}

func (n *notifier) PublishLocal(ctx context.Context, inv *invoice.Invoice, credential string) {
	payload, err := json.Marshal(eventFromInvoice(inv, credential))
	if err != nil {
		n.logger.WithContext(ctx).Errorw("failed to marshal invoice event", "error", err, "invoice_id", inv.ID)
		return
	}

	msg := message.NewMessage(inv.ID, payload)
	msg.Metadata.Set("tenant_id", inv.OrganizationID)
	msg.Metadata.Set("invoice_id", inv.ID)

	if err := n.pubsub.Publish(ctx, invoiceCreatedTopic, msg); err != nil {
		n.logger.WithContext(ctx).Errorw("failed to publish invoice event", "error", err, "invoice_id", inv.ID)
	}
}

// NotifyAsync pushes the POST onto its own goroutine so invoice
// creation never blocks on (or fails because of) the downstream endpoint.
// idempotency-key-style dedup: an invoice id already pushed this
// process lifetime is not pushed again, guarding against the monitor
// retrying a tick whose invoice creation succeeded but whose
// notification step was still in flight.
func (n *notifier) NotifyAsync(ctx context.Context, inv *invoice.Invoice, credential string) {
	n.sentMu.Lock()
	if _, seen := n.sent[inv.ID]; seen {
		n.sentMu.Unlock()
		return
	}
	n.sent[inv.ID] = struct{}{}
	n.sentMu.Unlock()

	event := eventFromInvoice(inv, credential)
	tenantID := inv.OrganizationID
	go func() {
		bgCtx := types.WithCredential(types.WithTenantID(context.Background(), tenantID), credential)
		if err := n.deliver(bgCtx, event); err != nil {
			n.logger.WithContext(bgCtx).Warnw("invoice notification delivery failed",
				"invoice_id", event.InvoiceID, "error", err)
		}
	}()
}

// deliver POSTs event to the accounting-sync endpoint, throttled to the
// configured requests-per-second so a burst of period closes can't
// overwhelm the downstream service.
func (n *notifier) deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
	defer cancel()

	_, err = n.client.Send(callCtx, &httpclient.Request{
		Method: "POST",
		URL:    n.cfg.BaseURL + "/webhook/invoice-created",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"X-Tenant-ID":   event.OrganizationID,
			"X-Idempotency-Key": event.InvoiceID,
		},
		Body: body,
	})
	return err
}

// ResyncTenant re-fires notifications under the credential already bound
// to ctx — the resync caller's own tenant credential, per C10's use by
// admin operations as well as the monitor. Each invoice is delivered
// synchronously, regardless of prior dedup state, so the returned count
// is the number of successful deliveries.
func (n *notifier) ResyncTenant(ctx context.Context, organizationID string, invoices []*invoice.Invoice) int {
	log := n.logger.WithContext(ctx)
	log.Infow("starting invoice notification resync", "organization_id", organizationID, "count", len(invoices))

	credential := types.GetCredential(ctx)
	delivered := 0
	for _, inv := range invoices {
		if inv.OrganizationID != organizationID {
			continue
		}
		n.sentMu.Lock()
		n.sent[inv.ID] = struct{}{}
		n.sentMu.Unlock()
		if err := n.deliver(ctx, eventFromInvoice(inv, credential)); err != nil {
			log.Warnw("invoice notification redelivery failed", "invoice_id", inv.ID, "error", err)
			continue
		}
		delivered++
	}

	log.Infow("invoice notification resync complete", "organization_id", organizationID, "delivered", delivered)
	return delivered
}

// Start subscribes to the in-process topic and logs every event it
// observes. This core has no other local subscriber, but the consumer
// loop is structured so a second subscriber (e.g. an analytics sink)
// could be added without touching invoice creation.
func (n *notifier) Start(ctx context.Context) error {
	messages, err := n.pubsub.Subscribe(ctx, invoiceCreatedTopic)
	if err != nil {
		return fmt.Errorf("subscribing to invoice events: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal(msg.Payload, &event); err != nil {
					n.logger.Errorw("malformed invoice event on local topic", "error", err)
					msg.Ack()
					continue
				}
				n.logger.Infow("invoice event observed locally", "invoice_id", event.InvoiceID, "invoice_number", event.InvoiceNumber)
				msg.Ack()
			}
		}
	}()
	return nil
}

func (n *notifier) Close() error {
	return n.pubsub.Close()
}
