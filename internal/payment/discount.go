// Package payment implements the two-phase payment session workflow from
// SPEC_FULL.md §4.6: initiate, complete, getPaymentStatus, getKeyDetails,
// plus the discount math and the background expiry sweep. All amounts use
// math/big arbitrary-precision arithmetic — prices up to 78 decimal digits
// are never promoted to floating point.
package payment

import "math/big"

// PlanWindowDays is the fixed discount/renewal window, D, in days.
const PlanWindowDays = 30

// GraceMinutes is the grace period subtracted from a plan's remaining time
// before the unused fraction is computed.
const GraceMinutes = 15

var (
	dWindowMillis = big.NewInt(int64(PlanWindowDays) * 24 * 60 * 60 * 1000)
)

// clampToWindow clamps unusedMillis to [0, D] — the unused fraction must
// lie in [0, 1].
func clampToWindow(unusedMillis *big.Int) *big.Int {
	if unusedMillis.Sign() < 0 {
		return big.NewInt(0)
	}
	if unusedMillis.Cmp(dWindowMillis) > 0 {
		return new(big.Int).Set(dWindowMillis)
	}
	return unusedMillis
}

// computeDiscount returns currentPlanPrice × unusedMillis / D using
// floored integer division, never floating point, per SPEC_FULL.md's
// "Discount math precision" design note.
func computeDiscount(currentPlanPrice *big.Int, unusedMillis int64) *big.Int {
	unused := clampToWindow(big.NewInt(unusedMillis))
	num := new(big.Int).Mul(currentPlanPrice, unused)
	return num.Div(num, dWindowMillis)
}

// computeAmountRequired implements spec.md §4.6's discount math end to
// end. currentPlanPrice/currentActiveUntilMillis describe the key's
// existing plan (nil activeUntil pointer means no current plan, or a plan
// that has already expired past the grace window). nowMillis and
// targetPlanPrice are always required.
//
// amountRequired = max(minimum, targetPlanPrice − discount), except that a
// target plan priced below the minimum is always charged at its own price
// unchanged (no discount applies, and it is never raised up to minimum).
func computeAmountRequired(targetPlanPrice *big.Int, currentPlanPrice *big.Int, currentActiveUntilMillis *int64, nowMillis int64, minimum *big.Int) *big.Int {
	if targetPlanPrice.Cmp(minimum) < 0 {
		return new(big.Int).Set(targetPlanPrice)
	}

	discount := big.NewInt(0)
	if currentPlanPrice != nil && currentActiveUntilMillis != nil {
		graceMillis := int64(GraceMinutes) * 60 * 1000
		unusedMillis := *currentActiveUntilMillis - (nowMillis + graceMillis)
		if unusedMillis > 0 {
			discount = computeDiscount(currentPlanPrice, unusedMillis)
		}
	}

	amount := new(big.Int).Sub(targetPlanPrice, discount)
	if amount.Cmp(minimum) < 0 {
		return new(big.Int).Set(minimum)
	}
	return amount
}
