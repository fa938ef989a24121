package signup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makerhaus/memberd/invitation"
	"github.com/makerhaus/memberd/member"
	"github.com/makerhaus/memberd/pricing"
	"github.com/makerhaus/memberd/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeGateway covers both provisioning (for session setup) and the
// confirmation sequence under test
type fakeGateway struct {
	mu          sync.Mutex
	subSeq      int
	intents     map[string]stripe.PaymentIntentStatus
	confirmed   []string
	confirmErr  map[string]error
	setupParams *stripe.SetupIntentParams
	setupStatus stripe.SetupIntentStatus
	setupErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents:     make(map[string]stripe.PaymentIntentStatus),
		confirmErr:  make(map[string]error),
		setupStatus: stripe.SetupIntentStatusSucceeded,
	}
}

func (g *fakeGateway) PreviewInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error) {
	var subtotal int64 = 2000
	if *params.SubscriptionItems[0].Price == "price_annual" {
		subtotal = 12000
	}
	if params.SubscriptionStartDate == nil {
		subtotal = subtotal / 2
	}
	return &stripe.Invoice{
		Subtotal:  subtotal,
		Total:     subtotal,
		AmountDue: subtotal,
	}, nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subSeq++
	intentID := fmt.Sprintf("pi_%d", g.subSeq)
	g.intents[intentID] = stripe.PaymentIntentStatusRequiresPaymentMethod
	return &stripe.Subscription{
		ID: fmt.Sprintf("sub_%d", g.subSeq),
		LatestInvoice: &stripe.Invoice{
			PaymentIntent: &stripe.PaymentIntent{
				ID:     intentID,
				Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
			},
		},
	}, nil
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	return nil, fmt.Errorf("unexpected CreateCustomer call")
}

func (g *fakeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	return nil, fmt.Errorf("unexpected GetSubscription call")
}

func (g *fakeGateway) GetPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("unknown payment intent %s", intentID)
	}
	return &stripe.PaymentIntent{
		ID:     intentID,
		Status: status,
	}, nil
}

func (g *fakeGateway) ConfirmPaymentIntent(ctx context.Context, intentID string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.confirmErr[intentID]; ok {
		return nil, err
	}
	g.confirmed = append(g.confirmed, intentID)
	g.intents[intentID] = stripe.PaymentIntentStatusProcessing
	return &stripe.PaymentIntent{
		ID:     intentID,
		Status: stripe.PaymentIntentStatusProcessing,
	}, nil
}

func (g *fakeGateway) CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentParams) (*stripe.SetupIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setupParams = params
	if g.setupErr != nil {
		return nil, g.setupErr
	}
	si := &stripe.SetupIntent{
		ID:     "seti_1",
		Status: g.setupStatus,
	}
	if g.setupStatus == stripe.SetupIntentStatusSucceeded {
		si.PaymentMethod = &stripe.PaymentMethod{ID: "pm_ok"}
	}
	return si, nil
}

func (g *fakeGateway) FindPromotionCode(ctx context.Context, code string) (*stripe.PromotionCode, error) {
	return nil, nil
}

func (g *fakeGateway) GetCoupon(ctx context.Context, couponID string) (*stripe.Coupon, error) {
	return nil, fmt.Errorf("unexpected GetCoupon call")
}

type finalizerFixture struct {
	db                *gorm.DB
	gateway           *fakeGateway
	finalizer         *Finalizer
	invitationManager *invitation.Manager
	memberManager     *member.Manager
	sessionManager    *session.Manager
}

func newFinalizerFixture(t *testing.T) *finalizerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	gateway := newFakeGateway()

	engine, err := pricing.NewEngine(pricing.EngineOptions{
		Gateway: gateway,
		Plan: &pricing.Plan{
			MonthlyPriceID: "price_monthly",
			AnnualPriceID:  "price_annual",
			MonthlyAmount:  2000,
			AnnualAmount:   12000,
			Currency:       "eur",
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	invitationManager, err := invitation.NewManager(zap.NewNop(), db)
	require.NoError(t, err)

	memberManager, err := member.NewManager(zap.NewNop(), db)
	require.NoError(t, err)

	sessionManager, err := session.NewManager(session.ManagerOptions{
		Gateway: gateway,
		Engine:  engine,
		DB:      db,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	finalizer, err := NewFinalizer(FinalizerOptions{
		DB:                db,
		Gateway:           gateway,
		SessionManager:    sessionManager,
		InvitationManager: invitationManager,
		MemberManager:     memberManager,
		Logger:            zap.NewNop(),
	})
	require.NoError(t, err)

	return &finalizerFixture{
		db:                db,
		gateway:           gateway,
		finalizer:         finalizer,
		invitationManager: invitationManager,
		memberManager:     memberManager,
		sessionManager:    sessionManager,
	}
}

// seed creates a pending invitation with a waitlist entry and a fresh
// payment session, returning the session for intent identifiers
func (f *finalizerFixture) seed(t *testing.T) *session.PaymentSession {
	t.Helper()
	ctx := context.Background()

	_, err := f.invitationManager.Create(ctx, invitation.CreateOption{
		UserID:     "user1",
		CustomerID: "cus_123",
		Email:      "jo@example.com",
		FirstName:  "Jo",
		LastName:   "Smith",
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Create(&member.WaitlistEntry{
		ID:     "wl1",
		Email:  "jo@example.com",
		Status: member.WaitlistInvited,
	}).Error)

	ps, _, err := f.sessionManager.Ensure(ctx, session.EnsureOption{
		UserID:     "user1",
		CustomerID: "cus_123",
	})
	require.NoError(t, err)
	return ps
}

func finalizeOption() FinalizeOption {
	return FinalizeOption{
		UserID:                 "user1",
		ConfirmationToken:      "pm_client",
		NextOfKinName:          "Sam Smith",
		NextOfKinPhone:         "+4912345678",
		InsuranceFormSubmitted: true,
		ClientIP:               "203.0.113.7",
		UserAgent:              "test-agent",
	}
}

func TestFinalizeHappyPath(t *testing.T) {
	f := newFinalizerFixture(t)
	ps := f.seed(t)
	ctx := context.Background()

	inv, err := f.finalizer.Finalize(ctx, finalizeOption())
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "user1", inv.UserID)

	// invitation accepted
	stored, err := f.invitationManager.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, invitation.StatusAccepted, stored.Status)

	// member profile created with the registration fields
	mem, err := f.memberManager.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, "jo@example.com", mem.Email)
	assert.Equal(t, "Sam Smith", mem.NextOfKinName)
	assert.Equal(t, "+4912345678", mem.NextOfKinPhone)
	assert.True(t, mem.InsuranceFormSubmitted)
	assert.WithinDuration(t, time.Now(), mem.JoinedAt, time.Minute)

	// waitlist entry transitioned
	var entry member.WaitlistEntry
	require.NoError(t, f.db.First(&entry, "email = ?", "jo@example.com").Error)
	assert.Equal(t, member.WaitlistJoined, entry.Status)

	// session retired
	var raw session.PaymentSession
	require.NoError(t, f.db.First(&raw, "user_id = ?", "user1").Error)
	assert.True(t, raw.IsUsed)
	assert.Equal(t, session.ConfirmationConfirmed, raw.ConfirmationState)

	// monthly first, then annual: the mandate must exist before the second
	require.Equal(t, []string{ps.MonthlyPaymentIntentID, ps.AnnualPaymentIntentID}, f.gateway.confirmed)

	// setup intent carried the client confirmation and mandate evidence
	setup := f.gateway.setupParams
	require.NotNil(t, setup)
	assert.Equal(t, "pm_client", *setup.PaymentMethod)
	assert.Equal(t, "cus_123", *setup.Customer)
	assert.True(t, *setup.Confirm)
	assert.Equal(t, "off_session", *setup.Usage)
	require.NotNil(t, setup.MandateData)
	assert.Equal(t, stripe.MandateCustomerAcceptanceTypeOnline, setup.MandateData.CustomerAcceptance.Type)
	assert.Equal(t, "203.0.113.7", *setup.MandateData.CustomerAcceptance.Online.IPAddress)
	assert.Equal(t, "test-agent", *setup.MandateData.CustomerAcceptance.Online.UserAgent)
}

func TestFinalizeDeclineRollsBack(t *testing.T) {
	f := newFinalizerFixture(t)
	ps := f.seed(t)
	ctx := context.Background()

	// the second confirmation is declined by the bank
	f.gateway.confirmErr[ps.AnnualPaymentIntentID] = &stripe.Error{
		Type: stripe.ErrorTypeCard,
		Code: stripe.ErrorCode("charge_exceeds_weekly_limit"),
	}

	_, err := f.finalizer.Finalize(ctx, finalizeOption())
	require.Error(t, err)
	var decline *DeclineError
	require.ErrorAs(t, err, &decline)
	assert.Equal(t, MsgWeeklyLimitExceeded, decline.Message)

	// everything written inside the transaction was rolled back
	stored, err := f.invitationManager.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, invitation.StatusPending, stored.Status)

	mem, err := f.memberManager.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	assert.Nil(t, mem)

	// except the confirmation flag, which must survive the rollback: the
	// monthly intent was already confirmed at the gateway
	var raw session.PaymentSession
	require.NoError(t, f.db.First(&raw, "user_id = ?", "user1").Error)
	assert.False(t, raw.IsUsed)
	assert.Equal(t, session.ConfirmationConfirming, raw.ConfirmationState)
}

func TestFinalizeDeclinedSessionIsResumedNotRecreated(t *testing.T) {
	f := newFinalizerFixture(t)
	ps := f.seed(t)
	ctx := context.Background()

	f.gateway.confirmErr[ps.AnnualPaymentIntentID] = &stripe.Error{
		Type: stripe.ErrorTypeCard,
		Code: stripe.ErrorCode("payment_intent_payment_attempt_failed"),
	}

	_, err := f.finalizer.Finalize(ctx, finalizeOption())
	var decline *DeclineError
	require.ErrorAs(t, err, &decline)

	// the session survives as-is, no new subscription pair over the
	// already-confirmed monthly intent
	resumed, reused, err := f.sessionManager.Ensure(ctx, session.EnsureOption{
		UserID:     "user1",
		CustomerID: "cus_123",
	})
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, ps.MonthlyPaymentIntentID, resumed.MonthlyPaymentIntentID)
	assert.Equal(t, ps.AnnualPaymentIntentID, resumed.AnnualPaymentIntentID)

	// the member fixes their payment details and retries
	delete(f.gateway.confirmErr, ps.AnnualPaymentIntentID)

	inv, err := f.finalizer.Finalize(ctx, finalizeOption())
	require.NoError(t, err)
	require.NotNil(t, inv)

	// the monthly intent was confirmed once, only the annual needed the
	// second attempt
	assert.Equal(t, []string{ps.MonthlyPaymentIntentID, ps.AnnualPaymentIntentID}, f.gateway.confirmed)

	stored, err := f.invitationManager.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, invitation.StatusAccepted, stored.Status)

	var raw session.PaymentSession
	require.NoError(t, f.db.First(&raw, "user_id = ?", "user1").Error)
	assert.True(t, raw.IsUsed)
	assert.Equal(t, session.ConfirmationConfirmed, raw.ConfirmationState)
}

func TestFinalizeSetupIntentFailure(t *testing.T) {
	f := newFinalizerFixture(t)
	f.seed(t)
	ctx := context.Background()

	f.gateway.setupStatus = stripe.SetupIntentStatusRequiresAction

	_, err := f.finalizer.Finalize(ctx, finalizeOption())
	require.Error(t, err)
	var decline *DeclineError
	require.ErrorAs(t, err, &decline)
	assert.Equal(t, MsgAuthenticationFailed, decline.Message)

	// no confirmation was attempted without a payment method
	assert.Empty(t, f.gateway.confirmed)

	stored, err := f.invitationManager.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, invitation.StatusPending, stored.Status)
}

func TestFinalizeSkipsAlreadySucceededIntent(t *testing.T) {
	f := newFinalizerFixture(t)
	ps := f.seed(t)
	ctx := context.Background()

	// a previous interrupted attempt already confirmed the monthly intent
	f.gateway.intents[ps.MonthlyPaymentIntentID] = stripe.PaymentIntentStatusSucceeded

	inv, err := f.finalizer.Finalize(ctx, finalizeOption())
	require.NoError(t, err)
	require.NotNil(t, inv)

	// only the annual intent needed confirmation this time
	assert.Equal(t, []string{ps.AnnualPaymentIntentID}, f.gateway.confirmed)
}

func TestFinalizeWithoutPendingInvitation(t *testing.T) {
	f := newFinalizerFixture(t)
	ctx := context.Background()

	_, err := f.finalizer.Finalize(ctx, finalizeOption())
	require.ErrorIs(t, err, ErrInvitationNotPending)
}

func TestFinalizeWithoutSession(t *testing.T) {
	f := newFinalizerFixture(t)
	ctx := context.Background()

	_, err := f.invitationManager.Create(ctx, invitation.CreateOption{
		UserID:     "user1",
		CustomerID: "cus_123",
		Email:      "jo@example.com",
	})
	require.NoError(t, err)

	_, err = f.finalizer.Finalize(ctx, finalizeOption())
	require.ErrorIs(t, err, ErrNoSession)
}
