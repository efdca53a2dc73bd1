// Package subscriptionclient is a read-only HTTP client over the
// external subscription service.
package subscriptionclient

import (
	"fmt"
	"net/url"

	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/ridgeline/meterbill/internal/domain/subscription"
	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/httpclient"
	"github.com/ridgeline/meterbill/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fetcher retrieves individual subscriptions and enumerates a tenant's
// active ones.
type Fetcher interface {
	Get(ctx context.Context, subscriptionID string) (*subscription.Subscription, error)
	ListActive(ctx context.Context, organizationID string) ([]*subscription.Subscription, error)
}

type httpFetcher struct {
	baseURL string
	client  httpclient.Client
	logger  *logger.Logger
}

func NewFetcher(baseURL string, client httpclient.Client, log *logger.Logger) Fetcher {
	return &httpFetcher{baseURL: baseURL, client: client, logger: log}
}

func (f *httpFetcher) Get(ctx context.Context, subscriptionID string) (*subscription.Subscription, error) {
	if subscriptionID == "" {
		return nil, ierr.NewError("subscription id is required").Mark(ierr.ErrInvalidArgument)
	}

	resp, err := f.client.Send(ctx, &httpclient.Request{
		Method: "GET",
		URL:    fmt.Sprintf("%s/subscriptions/%s", f.baseURL, url.PathEscape(subscriptionID)),
	})
	if err != nil {
		if httpErr, ok := httpclient.IsHTTPError(err); ok && ierr.IsNotFound(httpErr.Cause) {
			return nil, ierr.WithError(err).Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).WithHint("subscription service unavailable").Mark(ierr.ErrUpstreamUnavailable)
	}

	var sub subscription.Subscription
	if err := json.Unmarshal(resp.Body, &sub); err != nil {
		return nil, ierr.WithError(err).WithHint("malformed subscription response").Mark(ierr.ErrUpstreamUnavailable)
	}
	return &sub, nil
}

// ListActive returns every subscription with status ACTIVE for the
// tenant. An upstream failure here yields an empty sequence — the
// monitor treats that as "nothing to do this tick" rather than
// aborting the run.
func (f *httpFetcher) ListActive(ctx context.Context, organizationID string) ([]*subscription.Subscription, error) {
	listURL := fmt.Sprintf("%s/subscriptions?organizationId=%s&status=ACTIVE", f.baseURL, url.QueryEscape(organizationID))

	resp, err := f.client.Send(ctx, &httpclient.Request{Method: "GET", URL: listURL})
	if err != nil {
		f.logger.WithContext(ctx).Warnw("listing active subscriptions failed, treating as empty",
			"organization_id", organizationID, "error", err)
		return nil, nil
	}

	var subs []*subscription.Subscription
	if err := json.Unmarshal(resp.Body, &subs); err != nil {
		f.logger.WithContext(ctx).Warnw("malformed active-subscription list, treating as empty",
			"organization_id", organizationID, "error", err)
		return nil, nil
	}
	return subs, nil
}
