// Package rateplanclient is a read-only HTTP client over the external
// rate-plan catalog, with one documented exception to the "no retries
// inside the core" rule — a single list-and-filter attempt on a
// transient 5xx.
package rateplanclient

import (
	"context"
	"fmt"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	ierr "github.com/ridgeline/meterbill/internal/errors"
	"github.com/ridgeline/meterbill/internal/domain/rateplan"
	"github.com/ridgeline/meterbill/internal/httpclient"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fetcher retrieves rate-plan configuration by id.
type Fetcher interface {
	Fetch(ctx context.Context, ratePlanID string) (*rateplan.RatePlan, error)
}

type httpFetcher struct {
	baseURL string
	client  httpclient.Client
	logger  *logger.Logger
}

func NewFetcher(baseURL string, client httpclient.Client, log *logger.Logger) Fetcher {
	return &httpFetcher{baseURL: baseURL, client: client, logger: log}
}

// Fetch contracts: fetch(ratePlanId) -> RatePlan | NOT_FOUND. On a
// transient 5xx it attempts one fallback enumeration of the tenant's
// rate plans and performs a local lookup by id before reporting failure.
func (f *httpFetcher) Fetch(ctx context.Context, ratePlanID string) (*rateplan.RatePlan, error) {
	if ratePlanID == "" {
		return nil, ierr.NewError("rate plan id is required").Mark(ierr.ErrInvalidArgument)
	}

	resp, err := f.client.Send(ctx, &httpclient.Request{
		Method: "GET",
		URL:    fmt.Sprintf("%s/rateplans/%s", f.baseURL, url.PathEscape(ratePlanID)),
	})
	if err == nil {
		var plan rateplan.RatePlan
		if decErr := json.Unmarshal(resp.Body, &plan); decErr != nil {
			return nil, ierr.WithError(decErr).WithHint("malformed rate plan response").Mark(ierr.ErrUpstreamUnavailable)
		}
		return &plan, nil
	}

	httpErr, isHTTPErr := httpclient.IsHTTPError(err)
	if isHTTPErr && ierr.IsNotFound(httpErr.Cause) {
		return nil, ierr.WithError(err).Mark(ierr.ErrNotFound)
	}

	if isHTTPErr && httpErr.StatusCode >= 500 {
		f.logger.WithContext(ctx).Warnw("rate plan fetch failed with 5xx, attempting fallback enumeration",
			"rate_plan_id", ratePlanID, "status", httpErr.StatusCode)

		if plan, fallbackErr := f.fallbackLookup(ctx, ratePlanID); fallbackErr == nil {
			return plan, nil
		}
	}

	return nil, ierr.WithError(err).WithHint("rate plan unavailable").Mark(ierr.ErrUpstreamUnavailable)
}

func (f *httpFetcher) fallbackLookup(ctx context.Context, ratePlanID string) (*rateplan.RatePlan, error) {
	orgID := types.GetTenantID(ctx)
	listURL := fmt.Sprintf("%s/rateplans?organizationId=%s", f.baseURL, url.QueryEscape(orgID))

	resp, err := f.client.Send(ctx, &httpclient.Request{Method: "GET", URL: listURL})
	if err != nil {
		return nil, err
	}

	var plans []rateplan.RatePlan
	if err := json.Unmarshal(resp.Body, &plans); err != nil {
		return nil, err
	}

	for i := range plans {
		if plans[i].ID == ratePlanID {
			return &plans[i], nil
		}
	}
	return nil, ierr.NewError("rate plan not present in fallback enumeration").Mark(ierr.ErrNotFound)
}
