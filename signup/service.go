package signup

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/makerhaus/memberd/auth"
	"github.com/makerhaus/memberd/invitation"
	"github.com/makerhaus/memberd/pricing"
	resp "github.com/makerhaus/memberd/response"
	"github.com/makerhaus/memberd/session"
	specs "github.com/makerhaus/memberd/spec"
	specbroker "github.com/makerhaus/memberd/spec/broker"
	"github.com/makerhaus/memberd/util"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for the signup Service router
type ServiceOptions struct {
	Auth              *auth.Auth
	Engine            *pricing.Engine
	SessionManager    *session.Manager
	InvitationManager *invitation.Manager
	Finalizer         *Finalizer
	Producer          specbroker.Producer
	CookieSigningKey  string
	Logger            *zap.Logger
}

// Service is the signup API router
type Service struct {
	ServiceOptions
	cookieKey []byte
}

// NewService will create an instance of the signup API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Engine == nil {
		return nil, fmt.Errorf("nil Engine is invalid")
	}
	if option.SessionManager == nil {
		return nil, fmt.Errorf("nil SessionManager is invalid")
	}
	if option.InvitationManager == nil {
		return nil, fmt.Errorf("nil InvitationManager is invalid")
	}
	if option.Finalizer == nil {
		return nil, fmt.Errorf("nil Finalizer is invalid")
	}
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if len(option.CookieSigningKey) < 16 {
		return nil, fmt.Errorf("cookie signing key must be longer than 16 characters")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
		cookieKey:      []byte(option.CookieSigningKey),
	}, nil
}

// pendingInvitation loads the claims' invitation and rejects anything not
// awaiting signup
func (s *Service) pendingInvitation(w http.ResponseWriter, r *http.Request) (*invitation.Invitation, *auth.Claims, bool) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	inv, err := s.InvitationManager.GetByUserID(ctx, claims.UserID)
	if err != nil {
		s.Logger.Error("Unable to query invitation",
			zap.Error(err),
			zap.String("UserID", claims.UserID),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot look up your invitation"))
		return nil, nil, false
	}
	if inv == nil || inv.Status != invitation.StatusPending {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No pending invitation was found"))
		return nil, nil, false
	}
	return inv, claims, true
}

func (s *Service) handleInviteLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "uid")
	token := chi.URLParam(r, "token")

	logger := s.Logger.With(zap.String("UserID", userID))

	valid, err := s.Auth.Verify(ctx, userID, token)
	if err != nil {
		logger.Error("Unable to verify invite token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to verify invite link"))
		return
	}
	if !valid {
		resp.WriteError(w, r, resp.ErrUnauthorized().AddMessages("Invite link is invalid or expired"))
		return
	}

	inv, err := s.InvitationManager.GetByUserID(ctx, userID)
	if err != nil {
		logger.Error("Unable to query invitation",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot look up your invitation"))
		return
	}
	if inv == nil || inv.Status != invitation.StatusPending {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No pending invitation was found"))
		return
	}

	jwtToken, err := s.Auth.CreateTokenFromClaims(auth.Claims{
		UserID:       inv.UserID,
		InvitationID: inv.ID,
		Email:        inv.Email,
	})
	if err != nil {
		logger.Error("Unable to generate signup credential",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, struct {
		Token string `json:"token"`
	}{
		Token: jwtToken,
	})
}

func (s *Service) getQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, claims, ok := s.pendingInvitation(w, r)
	if !ok {
		return
	}

	logger := s.Logger.With(zap.String("UserID", claims.UserID))

	quote, err := s.Engine.QuoteCustomer(ctx, inv.CustomerID, r.URL.Query().Get("code"))
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidPromoCode) || errors.Is(err, pricing.ErrForeverAmountOff) {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
			return
		}
		logger.Error("Unable to compute quote",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot compute your pricing"))
		return
	}

	resp.WriteResponse(w, r, quote)
}

// SessionRequest is the model of the client request for a payment session
type SessionRequest struct {
	PromoCode string `json:"promoCode"`
}

func (s *Service) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, claims, ok := s.pendingInvitation(w, r)
	if !ok {
		return
	}

	logger := s.Logger.With(zap.String("UserID", claims.UserID))

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	ps, reused, err := s.SessionManager.Ensure(ctx, session.EnsureOption{
		UserID:     inv.UserID,
		CustomerID: inv.CustomerID,
		PromoCode:  req.PromoCode,
	})
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidPromoCode) || errors.Is(err, pricing.ErrForeverAmountOff) {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
			return
		}
		logger.Error("Unable to produce payment session",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot prepare your payment"))
		return
	}

	if err := s.issueSessionCookie(w, ps); err != nil {
		logger.Error("Unable to issue session cookie",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	logger.Info("Payment session ready",
		zap.Bool("Reused", reused),
	)

	resp.WriteResponse(w, r, ps)
}

// CompleteRequest is the model of the client request to finalize signup
type CompleteRequest struct {
	ConfirmationToken      string `json:"confirmationToken" validate:"required"`
	NextOfKinName          string `json:"nextOfKinName" validate:"required"`
	NextOfKinPhone         string `json:"nextOfKinPhone" validate:"required"`
	InsuranceFormSubmitted bool   `json:"insuranceFormSubmitted"`
}

// CompleteResult reports the outcome of a finalize attempt. A decline is a
// form-level outcome carried in the payload, not an HTTP error.
type CompleteResult struct {
	Message       string `json:"message,omitempty"`
	PaymentFailed bool   `json:"paymentFailed,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Service) completeSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, claims, ok := s.pendingInvitation(w, r)
	if !ok {
		return
	}

	logger := s.Logger.With(zap.String("UserID", claims.UserID))

	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	cookieClaims := s.readSessionCookie(r, claims.UserID)
	if cookieClaims == nil {
		resp.WriteError(w, r, resp.ErrUnauthorized().AddMessages("Your signup session is missing or expired, please start over"))
		return
	}

	ps, err := s.SessionManager.Get(ctx, claims.UserID)
	if err != nil {
		logger.Error("Unable to query payment session",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if ps == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No payment session was found, please start over"))
		return
	}
	if ps.MonthlyPaymentIntentID != cookieClaims.MonthlyPaymentIntentID || ps.AnnualPaymentIntentID != cookieClaims.AnnualPaymentIntentID {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Your payment session has changed, please reload and try again"))
		return
	}

	inv, err := s.Finalizer.Finalize(ctx, FinalizeOption{
		UserID:                 claims.UserID,
		ConfirmationToken:      req.ConfirmationToken,
		NextOfKinName:          req.NextOfKinName,
		NextOfKinPhone:         req.NextOfKinPhone,
		InsuranceFormSubmitted: req.InsuranceFormSubmitted,
		ClientIP:               util.RemoteIP(r),
		UserAgent:              r.UserAgent(),
	})
	if err != nil {
		var decline *DeclineError
		if errors.As(err, &decline) {
			resp.WriteResponse(w, r, CompleteResult{
				PaymentFailed: true,
				Error:         decline.Message,
			})
			return
		}
		if errors.Is(err, ErrInvitationNotPending) || errors.Is(err, ErrNoSession) {
			resp.WriteError(w, r, resp.ErrNotFound().AddMessages(err.Error()))
			return
		}
		logger.Error("Unable to finalize registration",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to complete your registration"))
		return
	}

	if err := s.Auth.ClearCredential(ctx, claims.UserID); err != nil {
		logger.Error("Unable to clear signup credential",
			zap.Error(err),
		)
		// fail through: the credential expires on its own, membership is complete
	}
	s.expireSessionCookie(w)

	go func(inv *invitation.Invitation) {
		if err := s.Producer.PublishMemberJoined(&specs.MemberJoinedEvent{
			UserID:       inv.UserID,
			InvitationID: inv.ID,
			Email:        inv.Email,
			FirstName:    inv.FirstName,
			LastName:     inv.LastName,
			JoinedAt:     time.Now(),
		}); err != nil {
			logger.Error("Unable to publish member joined event",
				zap.Error(err),
			)
			// fail through: notifications are best effort
		}
	}(inv)

	resp.WriteResponse(w, r, CompleteResult{
		Message: "Welcome aboard! Your membership is now active.",
	})
}

// Router will return the routes under the signup API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/invite/{uid}/{token}", s.handleInviteLink)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Get("/quote", s.getQuote)
		r.Post("/session", s.createSession)
		r.Post("/complete", s.completeSignup)
	})

	return r
}
