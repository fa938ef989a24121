package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/makerhaus/memberd/external"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EngineOptions contains the configuration for the pricing Engine
type EngineOptions struct {
	Gateway external.Gateway
	Plan    *Plan
	Logger  *zap.Logger
}

// Engine computes the prorated first payment and the steady-state
// recurring fees for the monthly/annual plan pair, optionally under a
// promotion code.
type Engine struct {
	EngineOptions
	now func() time.Time
}

// NewEngine validates the options and returns a pricing Engine
func NewEngine(option EngineOptions) (*Engine, error) {
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Plan == nil {
		return nil, fmt.Errorf("nil Plan is invalid")
	}
	if err := option.Plan.Validate(); err != nil {
		return nil, err
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Engine{
		EngineOptions: option,
		now:           time.Now,
	}, nil
}

// Quote is the computed pricing for one customer: what is due now and what
// each plan costs per cycle going forward. Discounted fields are nil when
// no coupon applies to the steady state.
type Quote struct {
	ProratedMonthly      int64        `json:"proratedMonthlyPrice"`
	ProratedAnnual       int64        `json:"proratedAnnualPrice"`
	ProratedTotal        int64        `json:"proratedPrice"`
	MonthlyFee           int64        `json:"monthlyFee"`
	AnnualFee            int64        `json:"annualFee"`
	DiscountPercentage   float64      `json:"discountPercentage"`
	DiscountedMonthlyFee *int64       `json:"discountedMonthlyFee,omitempty"`
	DiscountedAnnualFee  *int64       `json:"discountedAnnualFee,omitempty"`
	Coupon               *CouponTerms `json:"-"`
}

// QuoteCustomer issues four non-mutating invoice previews in parallel and
// folds them into a Quote. Any preview failing is fatal; no partial
// pricing is ever returned.
func (e *Engine) QuoteCustomer(ctx context.Context, customerID string, promoCode string) (*Quote, error) {
	if len(customerID) == 0 {
		return nil, fmt.Errorf("empty CustomerID is invalid")
	}

	logger := e.Logger.With(zap.String("CustomerID", customerID))

	if promoCode == MigrationPromoCode {
		// migrated members owe nothing now, base fees apply going forward
		return &Quote{
			MonthlyFee:         e.Plan.MonthlyAmount,
			AnnualFee:          e.Plan.AnnualAmount,
			DiscountPercentage: 100,
		}, nil
	}

	var terms *CouponTerms
	if len(promoCode) > 0 {
		pc, err := e.Gateway.FindPromotionCode(ctx, promoCode)
		if err != nil {
			logger.Error("Unable to look up promotion code",
				zap.Error(err),
			)
			return nil, extErrors.Wrap(err, "Cannot look up promotion code")
		}
		if pc == nil || !pc.Active {
			return nil, ErrInvalidPromoCode
		}
		terms, err = decodeCoupon(pc)
		if err != nil {
			return nil, err
		}
	}

	now := e.now()
	monthlyAnchor := NextMonthStart(now)
	annualAnchor := NextAnnualAnchor(now)

	var proratedMonthly, proratedAnnual, steadyMonthly, steadyAnnual *stripe.Invoice

	// the four previews are independent reads, fan them out
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		proratedMonthly, err = e.Gateway.PreviewInvoice(gctx, e.proratedPreviewParams(customerID, e.Plan.MonthlyPriceID, monthlyAnchor, terms))
		return
	})
	g.Go(func() (err error) {
		proratedAnnual, err = e.Gateway.PreviewInvoice(gctx, e.proratedPreviewParams(customerID, e.Plan.AnnualPriceID, annualAnchor, terms))
		return
	})
	g.Go(func() (err error) {
		steadyMonthly, err = e.Gateway.PreviewInvoice(gctx, e.steadyPreviewParams(customerID, e.Plan.MonthlyPriceID, monthlyAnchor, terms))
		return
	})
	g.Go(func() (err error) {
		steadyAnnual, err = e.Gateway.PreviewInvoice(gctx, e.steadyPreviewParams(customerID, e.Plan.AnnualPriceID, annualAnchor, terms))
		return
	})
	if err := g.Wait(); err != nil {
		logger.Error("Unable to preview invoices",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot compute quote")
	}

	quote := &Quote{
		ProratedMonthly: proratedMonthly.AmountDue,
		ProratedAnnual:  proratedAnnual.AmountDue,
		ProratedTotal:   proratedMonthly.AmountDue + proratedAnnual.AmountDue,
		MonthlyFee:      steadyMonthly.Subtotal,
		AnnualFee:       steadyAnnual.Subtotal,
		Coupon:          terms,
	}

	if terms != nil {
		quote.DiscountPercentage = deriveDiscountPercentage(proratedMonthly, steadyMonthly)

		if terms.Duration == stripe.CouponDurationOnce && terms.Kind == PercentOff {
			// a once coupon touches only the first invoice; zero here means
			// "no discount applies to the steady state"
			var zeroMonthly, zeroAnnual int64
			quote.DiscountedMonthlyFee = &zeroMonthly
			quote.DiscountedAnnualFee = &zeroAnnual
		} else {
			if invoiceDiscount(steadyMonthly) > 0 {
				discounted := steadyMonthly.Total
				quote.DiscountedMonthlyFee = &discounted
			}
			if invoiceDiscount(steadyAnnual) > 0 {
				discounted := steadyAnnual.Total
				quote.DiscountedAnnualFee = &discounted
			}
		}
	}

	return quote, nil
}

// proratedPreviewParams previews the invoice due immediately: the cycle
// anchors at the boundary and the remainder of the current period is
// prorated.
func (e *Engine) proratedPreviewParams(customerID, priceID string, anchor time.Time, terms *CouponTerms) *stripe.InvoiceParams {
	params := &stripe.InvoiceParams{
		Customer: stripe.String(customerID),
		SubscriptionItems: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(priceID),
			},
		},
		SubscriptionBillingCycleAnchor: stripe.Int64(anchor.Unix()),
		SubscriptionProrationBehavior:  stripe.String("create_prorations"),
	}
	if terms != nil {
		params.Coupon = stripe.String(terms.CouponID)
	}
	return params
}

// steadyPreviewParams previews the first full cycle starting at the
// boundary, which is the recurring fee the member will pay from then on
func (e *Engine) steadyPreviewParams(customerID, priceID string, anchor time.Time, terms *CouponTerms) *stripe.InvoiceParams {
	params := &stripe.InvoiceParams{
		Customer: stripe.String(customerID),
		SubscriptionItems: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(priceID),
			},
		},
		SubscriptionStartDate:         stripe.Int64(anchor.Unix()),
		SubscriptionProrationBehavior: stripe.String("none"),
	}
	if terms != nil {
		params.Coupon = stripe.String(terms.CouponID)
	}
	return params
}

func invoiceDiscount(inv *stripe.Invoice) int64 {
	var total int64
	for _, d := range inv.TotalDiscountAmounts {
		total += d.Amount
	}
	return total
}

// deriveDiscountPercentage prefers the discount visible on the prorated
// invoice (a "once" coupon only ever shows up there) and falls back to the
// steady-state invoice for repeating/forever coupons. The two must not be
// conflated: a once coupon leaves the steady cycle untouched and a
// repeating coupon may not touch the prorated invoice at all.
func deriveDiscountPercentage(prorated, steady *stripe.Invoice) float64 {
	if disc := invoiceDiscount(prorated); disc > 0 && prorated.Subtotal > 0 {
		return float64(disc) / float64(prorated.Subtotal) * 100
	}
	if disc := invoiceDiscount(steady); disc > 0 && steady.Subtotal > 0 {
		return float64(disc) / float64(steady.Subtotal) * 100
	}
	return 0
}
