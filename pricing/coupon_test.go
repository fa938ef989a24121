package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
)

func promoWith(coupon *stripe.Coupon) *stripe.PromotionCode {
	return &stripe.PromotionCode{
		ID:     "promo_test",
		Active: true,
		Coupon: coupon,
	}
}

func TestDecodeCoupon(t *testing.T) {
	cases := []struct {
		name     string
		coupon   *stripe.Coupon
		expected *CouponTerms
		err      error
	}{
		{
			name: "once percent",
			coupon: &stripe.Coupon{
				ID:         "co_1",
				Duration:   stripe.CouponDurationOnce,
				PercentOff: 50,
			},
			expected: &CouponTerms{
				CouponID:        "co_1",
				PromotionCodeID: "promo_test",
				Duration:        stripe.CouponDurationOnce,
				Kind:            PercentOff,
				PercentOff:      50,
			},
		},
		{
			name: "once amount",
			coupon: &stripe.Coupon{
				ID:        "co_2",
				Duration:  stripe.CouponDurationOnce,
				AmountOff: 500,
			},
			expected: &CouponTerms{
				CouponID:        "co_2",
				PromotionCodeID: "promo_test",
				Duration:        stripe.CouponDurationOnce,
				Kind:            AmountOff,
				AmountOff:       500,
			},
		},
		{
			name: "repeating percent",
			coupon: &stripe.Coupon{
				ID:         "co_3",
				Duration:   stripe.CouponDurationRepeating,
				PercentOff: 25,
			},
			expected: &CouponTerms{
				CouponID:        "co_3",
				PromotionCodeID: "promo_test",
				Duration:        stripe.CouponDurationRepeating,
				Kind:            PercentOff,
				PercentOff:      25,
			},
		},
		{
			name: "forever percent",
			coupon: &stripe.Coupon{
				ID:         "co_4",
				Duration:   stripe.CouponDurationForever,
				PercentOff: 10,
			},
			expected: &CouponTerms{
				CouponID:        "co_4",
				PromotionCodeID: "promo_test",
				Duration:        stripe.CouponDurationForever,
				Kind:            PercentOff,
				PercentOff:      10,
			},
		},
		{
			name: "forever amount is rejected",
			coupon: &stripe.Coupon{
				ID:        "co_5",
				Duration:  stripe.CouponDurationForever,
				AmountOff: 500,
			},
			err: ErrForeverAmountOff,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			terms, err := decodeCoupon(promoWith(c.coupon))
			if c.err != nil {
				require.ErrorIs(t, err, c.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expected, terms)
		})
	}
}

func TestDecodeCouponWithoutCoupon(t *testing.T) {
	_, err := decodeCoupon(&stripe.PromotionCode{ID: "promo_empty"})
	require.Error(t, err)
}
