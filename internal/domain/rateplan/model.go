// Package rateplan models the composite, declarative pricing document
// fetched (read-only) from the rate-plan catalog.
package rateplan

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountKind is the shape of a Discount's amount.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "PERCENTAGE"
	DiscountFlat       DiscountKind = "FLAT"
)

// FlatFee is a fixed charge with an included-units allowance and an
// optional per-unit overage rate beyond that allowance.
type FlatFee struct {
	Amount        decimal.Decimal `json:"amount"`
	IncludedUnits int64           `json:"includedUnits"`
	OverageRate   decimal.Decimal `json:"overageRate"`
}

// UsagePricing is a flat per-unit rate applied to the whole billed usage.
type UsagePricing struct {
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
}

// Tier is a closed interval [MinUnits, MaxUnits] with a per-unit rate.
// A nil MaxUnits denotes +Inf.
type Tier struct {
	MinUnits     int64            `json:"minUnits"`
	MaxUnits     *int64           `json:"maxUnits,omitempty"`
	PricePerUnit decimal.Decimal  `json:"pricePerUnit"`
}

// upTo returns the tier's upper bound, or math.MaxInt64 when open-ended.
func (t Tier) upTo() int64 {
	if t.MaxUnits == nil {
		return int64(^uint64(0) >> 1)
	}
	return *t.MaxUnits
}

// TieredPricing charges graduated rates: usage is sliced across tiers and
// each slice is billed at its own tier's rate ("SLAB" in some catalogs).
type TieredPricing struct {
	Tiers           []Tier          `json:"tiers"`
	OverageUnitRate decimal.Decimal `json:"overageUnitRate"`
}

// VolumePricing charges the whole quantity at the single rate of the tier
// the total usage falls into ("VOLUME" / all-or-nothing).
type VolumePricing struct {
	Tiers           []Tier          `json:"tiers"`
	OverageUnitRate decimal.Decimal `json:"overageUnitRate"`
}

// Step is a closed usage bucket billed at one flat charge regardless of
// exactly where within the bucket usage falls.
type Step struct {
	UsageThresholdStart int64           `json:"usageThresholdStart"`
	UsageThresholdEnd   *int64          `json:"usageThresholdEnd,omitempty"`
	FlatCharge          decimal.Decimal `json:"flatCharge"`
}

func (s Step) upTo() int64 {
	if s.UsageThresholdEnd == nil {
		return int64(^uint64(0) >> 1)
	}
	return *s.UsageThresholdEnd
}

// StairStepPricing charges one flat amount for the bucket the usage lands
// in, rather than a per-unit rate.
type StairStepPricing struct {
	Steps           []Step          `json:"steps"`
	OverageUnitRate decimal.Decimal `json:"overageUnitRate"`
}

// SetupFee is a one-time, usage-independent charge.
type SetupFee struct {
	Amount decimal.Decimal `json:"amount"`
}

// Freemium is a number of units excluded from billing before any pricing
// model sees the usage.
type Freemium struct {
	FreeUnits int64 `json:"freeUnits"`
}

// MinimumCommitment establishes a usage floor (billed usage is never
// treated as lower than MinimumUsage) and/or a charge floor (the final
// total is never lower than MinimumAmount, once non-zero).
type MinimumCommitment struct {
	MinimumUsage  int64           `json:"minimumUsage"`
	MinimumAmount decimal.Decimal `json:"minimumAmount"`
}

// Discount reduces the running total, either by a percentage of itself or
// by a flat amount, active only within [StartDate, EndDate] (nil = open).
type Discount struct {
	Kind       DiscountKind     `json:"kind"`
	Percentage decimal.Decimal  `json:"percentage"`
	FlatAmount decimal.Decimal  `json:"flatAmount"`
	StartDate  *time.Time       `json:"startDate,omitempty"`
	EndDate    *time.Time       `json:"endDate,omitempty"`
}

// RatePlan is the composite rate-plan document this core consumes
// read-only from the rate-plan catalog. The engine's pricing pipeline
// dispatches on which of the optional fields below are populated rather
// than on an inheritance hierarchy.
type RatePlan struct {
	ID             string `json:"ratePlanId"`
	OrganizationID string `json:"organizationId"`

	FlatFee           *FlatFee           `json:"flatFee,omitempty"`
	UsagePricings     []UsagePricing     `json:"usagePricings,omitempty"`
	TieredPricings    []TieredPricing    `json:"tieredPricings,omitempty"`
	VolumePricings    []VolumePricing    `json:"volumePricings,omitempty"`
	StairStepPricings []StairStepPricing `json:"stairStepPricings,omitempty"`

	SetupFees          []SetupFee          `json:"setupFees,omitempty"`
	Freemiums          []Freemium          `json:"freemiums,omitempty"`
	MinimumCommitments []MinimumCommitment `json:"minimumCommitments,omitempty"`
	Discounts          []Discount          `json:"discounts,omitempty"`

	BillingFrequency string `json:"billingFrequency"`
	BillableMetricID string `json:"billableMetricId"`
}
