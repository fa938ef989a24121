package external

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// Gateway is the payment provider capability surface used by the
// provisioning core. It is constructed once at startup and injected into
// managers so tests can substitute a fake without network access.
type Gateway interface {
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	PreviewInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error)
	CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentParams) (*stripe.SetupIntent, error)
	FindPromotionCode(ctx context.Context, code string) (*stripe.PromotionCode, error)
	GetCoupon(ctx context.Context, couponID string) (*stripe.Coupon, error)
}

type stripeGateway struct {
	api *client.API
}

var _ Gateway = &stripeGateway{}

// NewGateway wraps a Stripe client into the Gateway capability surface
func NewGateway(api *client.API) Gateway {
	return &stripeGateway{
		api: api,
	}
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	params.Context = ctx
	return g.api.Customers.New(params)
}

func (g *stripeGateway) PreviewInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error) {
	params.Context = ctx
	return g.api.Invoices.GetNext(params)
}

func (g *stripeGateway) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	params.Context = ctx
	if params.IdempotencyKey == nil {
		// pin the key so backend-level retries cannot double-create
		params.SetIdempotencyKey(uuid.New().String())
	}
	return g.api.Subscriptions.New(params)
}

func (g *stripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	params.AddExpand("latest_invoice.payment_intent")
	return g.api.Subscriptions.Get(subscriptionID, params)
}

func (g *stripeGateway) GetPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	return g.api.PaymentIntents.Get(intentID, params)
}

func (g *stripeGateway) ConfirmPaymentIntent(ctx context.Context, intentID string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return g.api.PaymentIntents.Confirm(intentID, params)
}

func (g *stripeGateway) CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentParams) (*stripe.SetupIntent, error) {
	params.Context = ctx
	return g.api.SetupIntents.New(params)
}

// FindPromotionCode returns the active promotion code with the given code,
// or nil if Stripe knows of none
func (g *stripeGateway) FindPromotionCode(ctx context.Context, code string) (*stripe.PromotionCode, error) {
	params := &stripe.PromotionCodeListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
		},
		Code:   stripe.String(code),
		Active: stripe.Bool(true),
	}
	iter := g.api.PromotionCodes.List(params)
	for iter.Next() {
		return iter.PromotionCode(), nil
	}
	if iter.Err() != nil {
		return nil, iter.Err()
	}
	return nil, nil
}

func (g *stripeGateway) GetCoupon(ctx context.Context, couponID string) (*stripe.Coupon, error) {
	params := &stripe.CouponParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	return g.api.Coupons.Get(couponID, params)
}
