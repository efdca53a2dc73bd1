// Package pricing implements the deterministic rate-plan evaluator: the
// pure function that turns a billed-usage count into a priced breakdown.
//
// Shaped like a switch over billing model with sorted tiers and a
// running total, priced in decimal dollars against the composite
// rate-plan model, and extended into the full
// freemium/minimum/discount/floor pipeline.
package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ridgeline/meterbill/internal/domain/rateplan"
)

// BreakdownEntry is one line of the ordered explanation of how Total was
// reached. Zero-amount entries are retained deliberately (freemium and
// minimum-usage steps record themselves even though they never move the
// total) for operator transparency.
type BreakdownEntry struct {
	Label       string
	Calculation string
	Amount      decimal.Decimal
}

// Result is the pricing engine's output for one (rate plan, usage, clock)
// evaluation.
type Result struct {
	ModelType  string
	EventCount int64
	Breakdown  []BreakdownEntry
	Total      decimal.Decimal
}

var two = int32(2)

func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(two)
}

// Price evaluates ratePlan against actualUsage as of today. It never
// fails: malformed or absent sub-structures are treated as zero and
// skipped. actualUsage is always returned verbatim as EventCount; every
// pricing model downstream operates on the derived billedUsage instead.
func Price(plan *rateplan.RatePlan, actualUsage int64, today time.Time) *Result {
	res := &Result{
		EventCount: actualUsage,
		Breakdown:  make([]BreakdownEntry, 0, 8),
		Total:      decimal.Zero,
	}
	if plan == nil {
		res.Total = roundHalfUp(res.Total)
		return res
	}
	res.ModelType = plan.BillingFrequency

	billedUsage := applyFreemium(plan, actualUsage, res)
	billedUsage = applyMinimumUsageFloor(plan, billedUsage, res)

	total := decimal.Zero
	total = applyFlatFee(plan, billedUsage, res, total)
	total = applyUsagePricings(plan, billedUsage, res, total)
	total = applyTieredPricings(plan, billedUsage, res, total)
	total = applyVolumePricings(plan, billedUsage, res, total)
	total = applyStairStepPricings(plan, billedUsage, res, total)

	total = applySetupFees(plan, res, total)
	total = applyDiscounts(plan, today, res, total)
	total = applyMinimumChargeFloor(plan, res, total)

	res.Total = roundHalfUp(total)
	return res
}

func applyFreemium(plan *rateplan.RatePlan, actualUsage int64, res *Result) int64 {
	var freeUnits int64
	for _, f := range plan.Freemiums {
		freeUnits += f.FreeUnits
	}
	applied := freeUnits
	if actualUsage < applied {
		applied = actualUsage
	}
	if applied < 0 {
		applied = 0
	}
	billedUsage := actualUsage - applied

	if len(plan.Freemiums) > 0 {
		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Freemium Reduction",
			Calculation: formatUnits(applied) + " free units applied",
			Amount:      decimal.Zero,
		})
	}
	return billedUsage
}

func applyMinimumUsageFloor(plan *rateplan.RatePlan, billedUsage int64, res *Result) int64 {
	var minUsage int64
	for _, m := range plan.MinimumCommitments {
		if m.MinimumUsage > minUsage {
			minUsage = m.MinimumUsage
		}
	}
	if minUsage > 0 && billedUsage < minUsage {
		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Minimum Usage Floor",
			Calculation: "uplifted to " + formatUnits(minUsage),
			Amount:      decimal.Zero,
		})
		return minUsage
	}
	return billedUsage
}

func applyFlatFee(plan *rateplan.RatePlan, billedUsage int64, res *Result, total decimal.Decimal) decimal.Decimal {
	ff := plan.FlatFee
	if ff == nil {
		return total
	}

	res.Breakdown = append(res.Breakdown, BreakdownEntry{
		Label:       "Flat Fee",
		Calculation: ff.Amount.StringFixed(2),
		Amount:      ff.Amount,
	})
	total = total.Add(ff.Amount)

	overUnits := billedUsage - ff.IncludedUnits
	if overUnits > 0 && ff.OverageRate.IsPositive() {
		amt := decimal.NewFromInt(overUnits).Mul(ff.OverageRate)
		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Overage Charges",
			Calculation: formatUnits(overUnits) + " * " + ff.OverageRate.StringFixed(2) + " = " + amt.StringFixed(2),
			Amount:      amt,
		})
		total = total.Add(amt)
	}
	return total
}

func applyUsagePricings(plan *rateplan.RatePlan, billedUsage int64, res *Result, total decimal.Decimal) decimal.Decimal {
	for _, up := range plan.UsagePricings {
		amt := decimal.NewFromInt(billedUsage).Mul(up.PricePerUnit)
		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Usage Charges",
			Calculation: formatUnits(billedUsage) + " * " + up.PricePerUnit.StringFixed(2) + " = " + amt.StringFixed(2),
			Amount:      amt,
		})
		total = total.Add(amt)
	}
	return total
}

func sortedTiers(tiers []rateplan.Tier) []rateplan.Tier {
	sorted := make([]rateplan.Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinUnits < sorted[j].MinUnits })
	return sorted
}

func applyTieredPricings(plan *rateplan.RatePlan, billedUsage int64, res *Result, total decimal.Decimal) decimal.Decimal {
	for _, tp := range plan.TieredPricings {
		tiers := sortedTiers(tp.Tiers)
		remaining := billedUsage
		tierTotal := decimal.Zero

		for _, tier := range tiers {
			if remaining <= 0 {
				break
			}
			if tier.MinUnits > billedUsage {
				continue
			}
			span := tier.upTo() - tier.MinUnits + 1
			if span < 0 {
				span = 0
			}
			consumed := remaining
			if consumed > span {
				consumed = span
			}
			if consumed <= 0 {
				continue
			}
			tierTotal = tierTotal.Add(decimal.NewFromInt(consumed).Mul(tier.PricePerUnit))
			remaining -= consumed
		}

		// Open question (resolved): absent overageUnitRate with usage
		// left over falls back to the last tier's rate instead of
		// silently dropping the excess.
		if remaining > 0 && len(tiers) > 0 {
			rate := tp.OverageUnitRate
			if !rate.IsPositive() {
				rate = tiers[len(tiers)-1].PricePerUnit
			}
			tierTotal = tierTotal.Add(decimal.NewFromInt(remaining).Mul(rate))
			remaining = 0
		}

		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Tiered Usage Charges",
			Calculation: "graduated across " + formatUnits(int64(len(tiers))) + " tiers = " + tierTotal.StringFixed(2),
			Amount:      tierTotal,
		})
		total = total.Add(tierTotal)
	}
	return total
}

func applyVolumePricings(plan *rateplan.RatePlan, billedUsage int64, res *Result, total decimal.Decimal) decimal.Decimal {
	for _, vp := range plan.VolumePricings {
		tiers := sortedTiers(vp.Tiers)
		if len(tiers) == 0 {
			continue
		}

		amt := decimal.Zero
		switch {
		case billedUsage < tiers[0].MinUnits:
			amt = decimal.Zero
		case billedUsage > tiers[len(tiers)-1].upTo():
			if vp.OverageUnitRate.IsPositive() {
				amt = decimal.NewFromInt(billedUsage).Mul(vp.OverageUnitRate)
			} else {
				amt = decimal.NewFromInt(billedUsage).Mul(tiers[len(tiers)-1].PricePerUnit)
			}
		default:
			for _, tier := range tiers {
				if billedUsage >= tier.MinUnits && billedUsage <= tier.upTo() {
					amt = decimal.NewFromInt(billedUsage).Mul(tier.PricePerUnit)
					break
				}
			}
		}

		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Volume Usage Charges",
			Calculation: formatUnits(billedUsage) + " units at matching tier rate = " + amt.StringFixed(2),
			Amount:      amt,
		})
		total = total.Add(amt)
	}
	return total
}

func applyStairStepPricings(plan *rateplan.RatePlan, billedUsage int64, res *Result, total decimal.Decimal) decimal.Decimal {
	for _, sp := range plan.StairStepPricings {
		steps := make([]rateplan.Step, len(sp.Steps))
		copy(steps, sp.Steps)
		sort.Slice(steps, func(i, j int) bool { return steps[i].UsageThresholdStart < steps[j].UsageThresholdStart })
		if len(steps) == 0 {
			continue
		}

		amt := decimal.Zero
		switch {
		case billedUsage < steps[0].UsageThresholdStart:
			amt = decimal.Zero
		case billedUsage > steps[len(steps)-1].upTo():
			if sp.OverageUnitRate.IsPositive() {
				amt = sp.OverageUnitRate.Mul(decimal.NewFromInt(billedUsage))
			} else {
				amt = steps[len(steps)-1].FlatCharge
			}
		default:
			for _, step := range steps {
				if billedUsage >= step.UsageThresholdStart && billedUsage <= step.upTo() {
					amt = step.FlatCharge
					break
				}
			}
		}

		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Stair-Step Charges",
			Calculation: "bucket containing " + formatUnits(billedUsage) + " = " + amt.StringFixed(2),
			Amount:      amt,
		})
		total = total.Add(amt)
	}
	return total
}

func applySetupFees(plan *rateplan.RatePlan, res *Result, total decimal.Decimal) decimal.Decimal {
	if len(plan.SetupFees) == 0 {
		return total
	}
	sum := decimal.Zero
	for _, sf := range plan.SetupFees {
		sum = sum.Add(sf.Amount)
	}
	res.Breakdown = append(res.Breakdown, BreakdownEntry{
		Label:       "Setup Fee",
		Calculation: sum.StringFixed(2),
		Amount:      sum,
	})
	return total.Add(sum)
}

func applyDiscounts(plan *rateplan.RatePlan, today time.Time, res *Result, total decimal.Decimal) decimal.Decimal {
	for _, d := range plan.Discounts {
		if d.StartDate != nil && today.Before(*d.StartDate) {
			continue
		}
		if d.EndDate != nil && today.After(*d.EndDate) {
			continue
		}

		kind := d.Kind
		if kind == "" {
			if d.FlatAmount.IsPositive() {
				kind = rateplan.DiscountFlat
			} else {
				kind = rateplan.DiscountPercentage
			}
		}

		var amt decimal.Decimal
		var calc string
		switch kind {
		case rateplan.DiscountPercentage:
			amt = roundHalfUp(total.Mul(d.Percentage).Div(decimal.NewFromInt(100)))
			calc = d.Percentage.StringFixed(2) + "% of " + total.StringFixed(2)
		case rateplan.DiscountFlat:
			amt = d.FlatAmount
			calc = "flat " + amt.StringFixed(2)
		}

		if amt.GreaterThan(total) {
			amt = total
		}
		if amt.IsZero() {
			continue
		}

		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Discount",
			Calculation: calc,
			Amount:      amt.Neg(),
		})
		total = total.Sub(amt)
	}
	return total
}

func applyMinimumChargeFloor(plan *rateplan.RatePlan, res *Result, total decimal.Decimal) decimal.Decimal {
	minCharge := decimal.Zero
	for _, m := range plan.MinimumCommitments {
		if m.MinimumAmount.GreaterThan(minCharge) {
			minCharge = m.MinimumAmount
		}
	}
	if minCharge.IsZero() {
		return total
	}
	if total.IsPositive() && total.LessThan(minCharge) {
		upliftAmt := minCharge.Sub(total)
		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Label:       "Minimum Charge Floor",
			Calculation: "uplifted by " + upliftAmt.StringFixed(2) + " to reach " + minCharge.StringFixed(2),
			Amount:      upliftAmt,
		})
		return minCharge
	}
	return total
}

func formatUnits(n int64) string {
	return decimal.NewFromInt(n).String()
}
