package signup

import (
	"net/http"
	"time"

	"github.com/makerhaus/memberd/session"
	"github.com/makerhaus/memberd/spec"

	"github.com/dgrijalva/jwt-go"
)

const sessionCookieName = "memberd_signup_session"

// sessionCookieClaims carries the issued payment-session identifiers back
// to the finalize call, signed so the client cannot substitute intents
type sessionCookieClaims struct {
	jwt.StandardClaims
	UserID                 string `json:"userId"`
	MonthlyPaymentIntentID string `json:"monthlyPaymentIntentId"`
	AnnualPaymentIntentID  string `json:"annualPaymentIntentId"`
}

func (s *Service) issueSessionCookie(w http.ResponseWriter, ps *session.PaymentSession) error {
	claims := sessionCookieClaims{
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(spec.SessionTTL).Unix(),
		},
		UserID:                 ps.UserID,
		MonthlyPaymentIntentID: ps.MonthlyPaymentIntentID,
		AnnualPaymentIntentID:  ps.AnnualPaymentIntentID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.cookieKey)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(spec.SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// readSessionCookie verifies the signed session cookie for the given user.
// Returns nil without error when the cookie is absent, expired, or forged.
func (s *Service) readSessionCookie(r *http.Request, userID string) *sessionCookieClaims {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	claims := &sessionCookieClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (interface{}, error) {
		return s.cookieKey, nil
	})
	if err != nil || !token.Valid || token.Method != jwt.SigningMethodHS256 {
		return nil
	}
	if claims.UserID != userID {
		return nil
	}
	return claims
}

func (s *Service) expireSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
