package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline/meterbill/internal/domain/rateplan"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func i64(v int64) *int64 { return &v }

func TestPrice_S1_FlatFeeWithOverage(t *testing.T) {
	plan := &rateplan.RatePlan{
		FlatFee: &rateplan.FlatFee{
			Amount:        dec("100"),
			IncludedUnits: 1000,
			OverageRate:   dec("0.10"),
		},
	}
	res := Price(plan, 1250, time.Now())
	require.True(t, res.Total.Equal(dec("125.00")), "got %s", res.Total)
	require.Len(t, res.Breakdown, 2)
	assert.Equal(t, "Flat Fee", res.Breakdown[0].Label)
	assert.True(t, res.Breakdown[0].Amount.Equal(dec("100")))
	assert.Equal(t, "Overage Charges", res.Breakdown[1].Label)
	assert.True(t, res.Breakdown[1].Amount.Equal(dec("25.00")))
}

func TestPrice_S2_TieredWithOverage(t *testing.T) {
	plan := &rateplan.RatePlan{
		TieredPricings: []rateplan.TieredPricing{{
			Tiers: []rateplan.Tier{
				{MinUnits: 1, MaxUnits: i64(100), PricePerUnit: dec("1.00")},
				{MinUnits: 101, MaxUnits: i64(500), PricePerUnit: dec("0.50")},
			},
			OverageUnitRate: dec("0.25"),
		}},
	}
	res := Price(plan, 600, time.Now())
	assert.True(t, res.Total.Equal(dec("325.00")), "got %s", res.Total)
}

func TestPrice_S3_VolumeAllOrNothing(t *testing.T) {
	plan := &rateplan.RatePlan{
		VolumePricings: []rateplan.VolumePricing{{
			Tiers: []rateplan.Tier{
				{MinUnits: 1, MaxUnits: i64(100), PricePerUnit: dec("1.00")},
				{MinUnits: 101, MaxUnits: i64(1000), PricePerUnit: dec("0.50")},
			},
		}},
	}
	res := Price(plan, 250, time.Now())
	assert.True(t, res.Total.Equal(dec("125.00")), "got %s", res.Total)
}

func TestPrice_S4_FreemiumThenMinimumThenUsage(t *testing.T) {
	plan := &rateplan.RatePlan{
		Freemiums:          []rateplan.Freemium{{FreeUnits: 50}},
		MinimumCommitments: []rateplan.MinimumCommitment{{MinimumUsage: 200}},
		UsagePricings:      []rateplan.UsagePricing{{PricePerUnit: dec("2.00")}},
	}
	res := Price(plan, 120, time.Now())
	assert.True(t, res.Total.Equal(dec("400.00")), "got %s", res.Total)
}

func TestPrice_S5_PercentageDiscountThenMinimumCharge(t *testing.T) {
	plan := &rateplan.RatePlan{
		FlatFee: &rateplan.FlatFee{Amount: dec("100")},
		Discounts: []rateplan.Discount{{
			Kind:       rateplan.DiscountPercentage,
			Percentage: dec("50"),
		}},
		MinimumCommitments: []rateplan.MinimumCommitment{{MinimumAmount: dec("80")}},
	}
	res := Price(plan, 0, time.Now())
	require.True(t, res.Total.Equal(dec("80.00")), "got %s", res.Total)

	var sawDiscount, sawFloor bool
	for _, b := range res.Breakdown {
		if b.Label == "Discount" {
			sawDiscount = true
			assert.True(t, b.Amount.Equal(dec("-50.00")))
		}
		if b.Label == "Minimum Charge Floor" {
			sawFloor = true
		}
	}
	assert.True(t, sawDiscount)
	assert.True(t, sawFloor)
}

func TestPrice_EmptyPlanYieldsZero(t *testing.T) {
	res := Price(&rateplan.RatePlan{}, 500, time.Now())
	assert.True(t, res.Total.IsZero())
	assert.Empty(t, res.Breakdown)
	assert.Equal(t, int64(500), res.EventCount)
}

func TestPrice_TierBoundaryAttributedToEarlierTier(t *testing.T) {
	plan := &rateplan.RatePlan{
		VolumePricings: []rateplan.VolumePricing{{
			Tiers: []rateplan.Tier{
				{MinUnits: 1, MaxUnits: i64(100), PricePerUnit: dec("2.00")},
				{MinUnits: 101, MaxUnits: i64(200), PricePerUnit: dec("1.00")},
			},
		}},
	}
	res := Price(plan, 100, time.Now())
	assert.True(t, res.Total.Equal(dec("200.00")), "usage at exact boundary must price at the earlier tier, got %s", res.Total)
}

func TestPrice_DiscountClippingNeverGoesNegative(t *testing.T) {
	plan := &rateplan.RatePlan{
		FlatFee: &rateplan.FlatFee{Amount: dec("100")},
		Discounts: []rateplan.Discount{
			{Kind: rateplan.DiscountPercentage, Percentage: dec("100")},
			{Kind: rateplan.DiscountFlat, FlatAmount: dec("50")},
		},
	}
	res := Price(plan, 0, time.Now())
	assert.True(t, res.Total.GreaterThanOrEqual(decimal.Zero), "total must never go negative, got %s", res.Total)
	assert.True(t, res.Total.IsZero())
}

func TestPrice_FreemiumBeforeFlatFeeOverage(t *testing.T) {
	plan := &rateplan.RatePlan{
		Freemiums: []rateplan.Freemium{{FreeUnits: 100}},
		FlatFee: &rateplan.FlatFee{
			Amount:        dec("50"),
			IncludedUnits: 1000,
			OverageRate:   dec("1.00"),
		},
	}
	// Overage should only kick in past includedUnits+freeUnits (1100), not
	// past includedUnits (1000) alone.
	res := Price(plan, 1050, time.Now())
	assert.True(t, res.Total.Equal(dec("50.00")), "got %s", res.Total)

	res2 := Price(plan, 1150, time.Now())
	assert.True(t, res2.Total.Equal(dec("100.00")), "got %s", res2.Total)
}

func TestPrice_DiscountWindowRespectsToday(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	plan := &rateplan.RatePlan{
		FlatFee: &rateplan.FlatFee{Amount: dec("100")},
		Discounts: []rateplan.Discount{{
			Kind:       rateplan.DiscountFlat,
			FlatAmount: dec("10"),
			StartDate:  &start,
			EndDate:    &end,
		}},
	}
	inWindow := Price(plan, 0, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, inWindow.Total.Equal(dec("90.00")))

	outOfWindow := Price(plan, 0, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, outOfWindow.Total.Equal(dec("100.00")))
}

func TestPrice_StairStepBuckets(t *testing.T) {
	plan := &rateplan.RatePlan{
		StairStepPricings: []rateplan.StairStepPricing{{
			Steps: []rateplan.Step{
				{UsageThresholdStart: 0, UsageThresholdEnd: i64(99), FlatCharge: dec("10")},
				{UsageThresholdStart: 100, UsageThresholdEnd: i64(199), FlatCharge: dec("18")},
			},
			OverageUnitRate: dec("0.05"),
		}},
	}
	assert.True(t, Price(plan, 50, time.Now()).Total.Equal(dec("10.00")))
	assert.True(t, Price(plan, 150, time.Now()).Total.Equal(dec("18.00")))
	assert.True(t, Price(plan, 250, time.Now()).Total.Equal(dec("12.50")))
}

func TestPrice_Determinism(t *testing.T) {
	plan := &rateplan.RatePlan{
		FlatFee:       &rateplan.FlatFee{Amount: dec("10"), IncludedUnits: 5, OverageRate: dec("0.5")},
		UsagePricings: []rateplan.UsagePricing{{PricePerUnit: dec("0.2")}},
	}
	today := time.Now()
	first := Price(plan, 42, today)
	second := Price(plan, 42, today)
	assert.True(t, first.Total.Equal(second.Total))
	assert.Equal(t, first.Breakdown, second.Breakdown)
}
