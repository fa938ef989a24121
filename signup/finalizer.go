package signup

import (
	"context"
	"fmt"

	"github.com/makerhaus/memberd/external"
	"github.com/makerhaus/memberd/invitation"
	"github.com/makerhaus/memberd/member"
	"github.com/makerhaus/memberd/session"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Precondition failures surfaced before any mutation
var (
	ErrInvitationNotPending = fmt.Errorf("invitation is not pending")
	ErrNoSession            = fmt.Errorf("no payment session exists for this user")
)

// DeclineError carries a classified, user-facing payment decline. It is a
// form-level outcome, not a server fault.
type DeclineError struct {
	Message string
}

func (e *DeclineError) Error() string {
	return e.Message
}

// FinalizerOptions contains the configuration for the Finalizer
type FinalizerOptions struct {
	DB                *gorm.DB
	Gateway           external.Gateway
	SessionManager    *session.Manager
	InvitationManager *invitation.Manager
	MemberManager     *member.Manager
	Logger            *zap.Logger
}

// Finalizer converts a client-confirmed payment method into two confirmed
// payments and a completed member record, atomically with respect to the
// application database. The gateway confirmations are compensable side
// effects: the session's confirmation state records progress so a crashed
// attempt resumes against the gateway's actual intent states.
type Finalizer struct {
	FinalizerOptions
}

// NewFinalizer validates the options and returns a Finalizer
func NewFinalizer(option FinalizerOptions) (*Finalizer, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.SessionManager == nil {
		return nil, fmt.Errorf("nil SessionManager is invalid")
	}
	if option.InvitationManager == nil {
		return nil, fmt.Errorf("nil InvitationManager is invalid")
	}
	if option.MemberManager == nil {
		return nil, fmt.Errorf("nil MemberManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Finalizer{
		FinalizerOptions: option,
	}, nil
}

// FinalizeOption carries the client's confirmation and registration fields
type FinalizeOption struct {
	UserID                 string
	ConfirmationToken      string
	NextOfKinName          string
	NextOfKinPhone         string
	InsuranceFormSubmitted bool
	ClientIP               string
	UserAgent              string
}

// Finalize runs the transactional accept/complete/confirm/mark-used
// sequence. On a mapped decline it returns a *DeclineError and the
// database writes are rolled back, except the session's confirmation
// state which stays Confirming so the attempt is resumed, never
// recreated over.
func (f *Finalizer) Finalize(ctx context.Context, opt FinalizeOption) (*invitation.Invitation, error) {
	logger := f.Logger.With(zap.String("UserID", opt.UserID))

	current, err := f.InvitationManager.GetByUserID(ctx, opt.UserID)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot look up invitation")
	}
	if current == nil || current.Status != invitation.StatusPending {
		return nil, ErrInvitationNotPending
	}
	if ps, err := f.SessionManager.Get(ctx, opt.UserID); err != nil {
		return nil, extErrors.Wrap(err, "Cannot look up payment session")
	} else if ps == nil {
		return nil, ErrNoSession
	}

	// committed before any gateway call and deliberately outside the
	// transaction below: a rolled-back attempt may already have confirmed
	// an intent at the gateway, and this flag is what keeps the session
	// from being recreated over that in-flight payment
	if err := f.SessionManager.SetConfirmationState(f.DB.WithContext(ctx), opt.UserID, session.ConfirmationConfirming); err != nil {
		return nil, err
	}

	var finalized *invitation.Invitation
	err = f.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := f.InvitationManager.GetByUserIDTx(tx, opt.UserID)
		if err != nil {
			return extErrors.Wrap(err, "Cannot look up invitation")
		}
		if inv == nil || inv.Status != invitation.StatusPending {
			return ErrInvitationNotPending
		}

		ps, err := f.SessionManager.GetTx(tx, opt.UserID)
		if err != nil {
			return extErrors.Wrap(err, "Cannot look up payment session")
		}
		if ps == nil {
			return ErrNoSession
		}

		if err := f.InvitationManager.Accept(tx, inv.ID); err != nil {
			return err
		}

		if err := f.MemberManager.CompleteRegistration(tx, member.CompleteOption{
			UserID:                 inv.UserID,
			CustomerID:             inv.CustomerID,
			Email:                  inv.Email,
			FirstName:              inv.FirstName,
			LastName:               inv.LastName,
			NextOfKinName:          opt.NextOfKinName,
			NextOfKinPhone:         opt.NextOfKinPhone,
			InsuranceFormSubmitted: opt.InsuranceFormSubmitted,
		}); err != nil {
			return err
		}

		paymentMethodID, err := f.confirmSetupIntent(ctx, ps, opt)
		if err != nil {
			return err
		}

		if err := f.confirmPaymentIntents(ctx, ps, paymentMethodID, opt); err != nil {
			return err
		}

		if err := f.SessionManager.MarkUsed(tx, opt.UserID); err != nil {
			return err
		}

		finalized = inv
		return nil
	})

	if err != nil {
		if msg, ok := classifyDecline(err); ok {
			logger.Info("Payment declined during finalization",
				zap.String("Classification", msg),
			)
			return nil, &DeclineError{Message: msg}
		}
		return nil, err
	}

	return finalized, nil
}

// confirmSetupIntent exchanges the client's confirmation token for a
// reusable payment method attached to the customer
func (f *Finalizer) confirmSetupIntent(ctx context.Context, ps *session.PaymentSession, opt FinalizeOption) (string, error) {
	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(ps.CustomerID),
		PaymentMethod:      stripe.String(opt.ConfirmationToken),
		PaymentMethodTypes: stripe.StringSlice([]string{"sepa_debit"}),
		Confirm:            stripe.Bool(true),
		Usage:              stripe.String("off_session"),
		MandateData: &stripe.SetupIntentMandateDataParams{
			CustomerAcceptance: &stripe.SetupIntentMandateDataCustomerAcceptanceParams{
				Type: stripe.MandateCustomerAcceptanceTypeOnline,
				Online: &stripe.SetupIntentMandateDataCustomerAcceptanceOnlineParams{
					IPAddress: stripe.String(opt.ClientIP),
					UserAgent: stripe.String(opt.UserAgent),
				},
			},
		},
	}
	si, err := f.Gateway.CreateSetupIntent(ctx, params)
	if err != nil {
		return "", err
	}
	if si.Status != stripe.SetupIntentStatusSucceeded || si.PaymentMethod == nil {
		return "", &DeclineError{Message: MsgAuthenticationFailed}
	}
	return si.PaymentMethod.ID, nil
}

// confirmPaymentIntents confirms the monthly then the annual intent with
// an online mandate. Sequential on purpose: the mandate evidence must be
// recorded on the first confirmation before the second references it. An
// intent that already succeeded (resumed attempt) is skipped, not
// re-confirmed.
func (f *Finalizer) confirmPaymentIntents(ctx context.Context, ps *session.PaymentSession, paymentMethodID string, opt FinalizeOption) error {
	for _, intentID := range []string{ps.MonthlyPaymentIntentID, ps.AnnualPaymentIntentID} {
		pi, err := f.Gateway.GetPaymentIntent(ctx, intentID)
		if err != nil {
			return extErrors.Wrap(err, "Cannot fetch payment intent state")
		}
		switch pi.Status {
		case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
			continue
		case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusRequiresConfirmation:
			// payable, confirm below
		default:
			return fmt.Errorf("payment intent %s is not confirmable (status %s)", intentID, pi.Status)
		}

		confirmParams := &stripe.PaymentIntentConfirmParams{
			PaymentMethod: stripe.String(paymentMethodID),
			MandateData: &stripe.PaymentIntentMandateDataParams{
				CustomerAcceptance: &stripe.PaymentIntentMandateDataCustomerAcceptanceParams{
					Type: stripe.MandateCustomerAcceptanceTypeOnline,
					Online: &stripe.PaymentIntentMandateDataCustomerAcceptanceOnlineParams{
						IPAddress: stripe.String(opt.ClientIP),
						UserAgent: stripe.String(opt.UserAgent),
					},
				},
			},
		}
		if _, err := f.Gateway.ConfirmPaymentIntent(ctx, intentID, confirmParams); err != nil {
			return err
		}
	}
	return nil
}
