package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makerhaus/memberd/external"
	"github.com/makerhaus/memberd/invitation"
	"github.com/makerhaus/memberd/pricing"
	"github.com/makerhaus/memberd/spec"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// overwriteColumns are the columns replaced when a session is recreated
// for a user who already has a row. Discount columns are listed so a
// recreation without a coupon resets them to NULL.
var overwriteColumns = []string{
	"customer_id",
	"monthly_subscription_id",
	"annual_subscription_id",
	"monthly_payment_intent_id",
	"annual_payment_intent_id",
	"monthly_amount",
	"annual_amount",
	"total_amount",
	"discounted_monthly_amount",
	"discounted_annual_amount",
	"discount_percentage",
	"coupon_id",
	"confirmation_state",
	"is_used",
	"expires_at",
	"updated_at",
}

// ManagerOptions contains the configuration for the session Manager
type ManagerOptions struct {
	Gateway external.Gateway
	Engine  *pricing.Engine
	DB      *gorm.DB
	Logger  *zap.Logger
}

// Manager owns the payment_sessions table and the reuse-vs-recreate
// decision for provisioning.
type Manager struct {
	ManagerOptions
	now func() time.Time
}

// NewManager validates the options and returns a session Manager
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Engine == nil {
		return nil, fmt.Errorf("nil Engine is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&PaymentSession{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize session.Manager")
	}
	return &Manager{
		ManagerOptions: option,
		now:            time.Now,
	}, nil
}

// Get returns the user's current valid-looking session: unexpired and not
// yet used. Gateway-side validity is checked separately.
func (m *Manager) Get(ctx context.Context, userID string) (*PaymentSession, error) {
	if len(userID) == 0 {
		return nil, fmt.Errorf("empty UserID is invalid")
	}
	var ps PaymentSession
	result := m.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("is_used = ?", false).
		Where("expires_at > ?", m.now()).
		First(&ps)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
			zap.String("UserID", userID),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get payment session")
	}

	return &ps, nil
}

// GetTx reads the session inside the caller's transaction
func (m *Manager) GetTx(tx *gorm.DB, userID string) (*PaymentSession, error) {
	var ps PaymentSession
	result := tx.
		Where("user_id = ?", userID).
		Where("is_used = ?", false).
		Where("expires_at > ?", m.now()).
		First(&ps)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &ps, nil
}

// EnsureOption identifies whose session to produce and under which code
type EnsureOption struct {
	UserID     string
	CustomerID string
	PromoCode  string
}

func (o *EnsureOption) validate() error {
	if len(o.UserID) == 0 {
		return fmt.Errorf("empty UserID is invalid")
	}
	if len(o.CustomerID) == 0 {
		return fmt.Errorf("empty CustomerID is invalid")
	}
	return nil
}

// Ensure returns a usable session for the user, reusing the stored one
// when both payment intents are still payable and recreating otherwise.
// The returned bool reports whether the session was reused.
func (m *Manager) Ensure(ctx context.Context, opt EnsureOption) (*PaymentSession, bool, error) {
	if err := opt.validate(); err != nil {
		return nil, false, err
	}

	logger := m.Logger.With(
		zap.String("UserID", opt.UserID),
		zap.String("CustomerID", opt.CustomerID),
	)

	existing, err := m.Get(ctx, opt.UserID)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		if existing.ConfirmationState == ConfirmationConfirming {
			// a confirmation attempt already reached the gateway; the
			// finalizer resumes this session against the actual intent
			// states, recreating it would orphan an in-flight payment
			return existing, true, nil
		}
		valid, err := m.validateAgainstGateway(ctx, existing)
		if err != nil {
			logger.Error("Unable to validate stored payment intents",
				zap.Error(err),
			)
			return nil, false, extErrors.Wrap(err, "Cannot validate payment session")
		}
		if valid && existing.CouponID != nil {
			valid, err = m.couponStillValid(ctx, *existing.CouponID)
			if err != nil {
				logger.Error("Unable to re-validate coupon",
					zap.Error(err),
				)
				return nil, false, extErrors.Wrap(err, "Cannot validate payment session")
			}
		}
		if valid {
			return existing, true, nil
		}
		logger.Info("Stored session is no longer reusable, recreating")
	}

	ps, err := m.recreate(ctx, opt)
	if err != nil {
		return nil, false, err
	}
	return ps, false, nil
}

// validateAgainstGateway re-fetches both payment intents; the session is
// reusable iff both still await a payment method. Succeeded, canceled, and
// requires-action intents all invalidate it.
func (m *Manager) validateAgainstGateway(ctx context.Context, ps *PaymentSession) (bool, error) {
	for _, intentID := range []string{ps.MonthlyPaymentIntentID, ps.AnnualPaymentIntentID} {
		pi, err := m.Gateway.GetPaymentIntent(ctx, intentID)
		if err != nil {
			return false, err
		}
		if pi.Status != stripe.PaymentIntentStatusRequiresPaymentMethod {
			return false, nil
		}
	}
	return true, nil
}

// couponStillValid re-checks a priced-in coupon so a code revoked after
// the session was created cannot be redeemed through reuse
func (m *Manager) couponStillValid(ctx context.Context, couponID string) (bool, error) {
	coupon, err := m.Gateway.GetCoupon(ctx, couponID)
	if err != nil {
		return false, err
	}
	return coupon != nil && coupon.Valid, nil
}

func (m *Manager) recreate(ctx context.Context, opt EnsureOption) (*PaymentSession, error) {
	logger := m.Logger.With(
		zap.String("UserID", opt.UserID),
		zap.String("CustomerID", opt.CustomerID),
	)

	quote, err := m.Engine.QuoteCustomer(ctx, opt.CustomerID, opt.PromoCode)
	if err != nil {
		return nil, err
	}

	now := m.now()
	plan := m.Engine.Plan

	var monthlySub, annualSub *stripe.Subscription

	// the two subscriptions are independent, create them in parallel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		monthlySub, err = m.createSubscription(gctx, opt.CustomerID, plan.MonthlyPriceID, pricing.NextMonthStart(now), quote.Coupon)
		return
	})
	g.Go(func() (err error) {
		annualSub, err = m.createSubscription(gctx, opt.CustomerID, plan.AnnualPriceID, pricing.NextAnnualAnchor(now), quote.Coupon)
		return
	})
	if err := g.Wait(); err != nil {
		logger.Error("Unable to create subscriptions in Stripe",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot provision subscriptions")
	}

	monthlyIntentID, err := m.latestPaymentIntentID(ctx, monthlySub)
	if err != nil {
		return nil, err
	}
	annualIntentID, err := m.latestPaymentIntentID(ctx, annualSub)
	if err != nil {
		return nil, err
	}

	ps := &PaymentSession{
		UserID:                 opt.UserID,
		CustomerID:             opt.CustomerID,
		MonthlySubscriptionID:  monthlySub.ID,
		AnnualSubscriptionID:   annualSub.ID,
		MonthlyPaymentIntentID: monthlyIntentID,
		AnnualPaymentIntentID:  annualIntentID,
		MonthlyAmount:          quote.MonthlyFee,
		AnnualAmount:           quote.AnnualFee,
		TotalAmount:            quote.ProratedTotal,
		ConfirmationState:      ConfirmationNone,
		IsUsed:                 false,
		ExpiresAt:              now.Add(spec.SessionTTL),
	}
	if quote.DiscountPercentage > 0 {
		pct := quote.DiscountPercentage
		ps.DiscountPercentage = &pct
	}
	if quote.Coupon != nil {
		couponID := quote.Coupon.CouponID
		ps.CouponID = &couponID
		ps.DiscountedMonthlyAmount = quote.DiscountedMonthlyFee
		ps.DiscountedAnnualAmount = quote.DiscountedAnnualFee
	}

	// overwrite semantics: the row is keyed by user, a recreation replaces
	// every provisioning column including NULLing stale discounts
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(overwriteColumns),
	}).Create(ps)
	if result.Error != nil {
		logger.Error("Unable to persist payment session",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot persist payment session")
	}

	return ps, nil
}

func (m *Manager) createSubscription(ctx context.Context, customerID, priceID string, anchor time.Time, terms *pricing.CouponTerms) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(priceID),
			},
		},
		PaymentBehavior:    stripe.String("default_incomplete"),
		BillingCycleAnchor: stripe.Int64(anchor.Unix()),
		ProrationBehavior:  stripe.String("create_prorations"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			PaymentMethodTypes: stripe.StringSlice([]string{"sepa_debit"}),
		},
	}
	if terms != nil {
		params.Coupon = stripe.String(terms.CouponID)
	}
	params.AddExpand("latest_invoice.payment_intent")
	return m.Gateway.CreateSubscription(ctx, params)
}

// latestPaymentIntentID returns the payment intent behind the
// subscription's first invoice. The create call asks for the expansion,
// but when the response comes back without it the subscription is
// re-fetched instead of failing the provisioning.
func (m *Manager) latestPaymentIntentID(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil {
		refreshed, err := m.Gateway.GetSubscription(ctx, sub.ID)
		if err != nil {
			return "", extErrors.Wrap(err, "Cannot fetch subscription")
		}
		sub = refreshed
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil {
		return "", fmt.Errorf("subscription %s has no payable invoice", sub.ID)
	}
	return sub.LatestInvoice.PaymentIntent.ID, nil
}

// SetConfirmationState records confirmation progress on the caller's
// database handle, transactional or not
func (m *Manager) SetConfirmationState(tx *gorm.DB, userID string, state ConfirmationState) error {
	result := tx.Model(&PaymentSession{}).Where("user_id = ?", userID).Update("confirmation_state", state)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot update confirmation state")
	}
	return nil
}

// MarkUsed retires the session inside the caller's transaction. A used
// session is never reused or recreated over.
func (m *Manager) MarkUsed(tx *gorm.DB, userID string) error {
	result := tx.Model(&PaymentSession{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
		"is_used":            true,
		"confirmation_state": ConfirmationConfirmed,
	})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark payment session as used")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no payment session was updated")
	}
	return nil
}

// Reconcile recreates sessions for pending invitees that have none. It is
// a repair pass, safe to run repeatedly: invitees with a valid session are
// left untouched.
func (m *Manager) Reconcile(ctx context.Context, pending []invitation.Invitation) (int, error) {
	var created int
	for _, inv := range pending {
		existing, err := m.Get(ctx, inv.UserID)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		if _, err := m.recreate(ctx, EnsureOption{
			UserID:     inv.UserID,
			CustomerID: inv.CustomerID,
		}); err != nil {
			m.Logger.Error("Unable to recreate session for invitee",
				zap.Error(err),
				zap.String("UserID", inv.UserID),
			)
			return created, err
		}
		created++
	}
	return created, nil
}
