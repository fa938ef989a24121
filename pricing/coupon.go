package pricing

import (
	"fmt"

	"github.com/stripe/stripe-go/v72"
)

// MigrationPromoCode is the sentinel code handed to members migrated from
// the legacy club database. It never reaches Stripe: the quote comes back
// with nothing due now and the configured base fees going forward.
const MigrationPromoCode = "LEGACY-MEMBER"

// DiscountKind discriminates how a coupon reduces an invoice
type DiscountKind string

// Defining constants
const (
	PercentOff DiscountKind = "PercentOff"
	AmountOff  DiscountKind = "AmountOff"
)

// CouponTerms is the decoded duration/kind pair of a promotion code's
// coupon, after policy validation.
type CouponTerms struct {
	CouponID        string
	PromotionCodeID string
	Duration        stripe.CouponDuration
	Kind            DiscountKind
	PercentOff      float64 // set when Kind == PercentOff
	AmountOff       int64   // set when Kind == AmountOff, in cents
}

// couponClass keys the exhaustive duration x kind policy match
type couponClass struct {
	Duration stripe.CouponDuration
	Kind     DiscountKind
}

// ErrInvalidPromoCode is returned when the code is unknown or inactive
var ErrInvalidPromoCode = fmt.Errorf("promotion code is not valid")

// ErrForeverAmountOff is returned for forever-duration coupons that take a
// flat amount off. A flat amount repeated forever has no well-defined
// normalization against invoices of different sizes, so only percentage
// coupons may run forever.
var ErrForeverAmountOff = fmt.Errorf("forever coupons must be percentage based")

// decodeCoupon validates a promotion code's coupon against the discount
// policy. Every duration/kind combination is enumerated so a new Stripe
// duration shows up as an explicit decision, not a silent fall-through.
func decodeCoupon(pc *stripe.PromotionCode) (*CouponTerms, error) {
	if pc.Coupon == nil {
		return nil, fmt.Errorf("promotion code has no coupon attached")
	}
	coupon := pc.Coupon
	terms := &CouponTerms{
		CouponID:        coupon.ID,
		PromotionCodeID: pc.ID,
		Duration:        coupon.Duration,
	}
	if coupon.PercentOff > 0 {
		terms.Kind = PercentOff
		terms.PercentOff = coupon.PercentOff
	} else {
		terms.Kind = AmountOff
		terms.AmountOff = coupon.AmountOff
	}

	switch (couponClass{terms.Duration, terms.Kind}) {
	case couponClass{stripe.CouponDurationForever, AmountOff}:
		return nil, ErrForeverAmountOff
	case couponClass{stripe.CouponDurationOnce, PercentOff},
		couponClass{stripe.CouponDurationOnce, AmountOff},
		couponClass{stripe.CouponDurationRepeating, PercentOff},
		couponClass{stripe.CouponDurationRepeating, AmountOff},
		couponClass{stripe.CouponDurationForever, PercentOff}:
		return terms, nil
	default:
		return nil, fmt.Errorf("unsupported coupon duration %q", terms.Duration)
	}
}
