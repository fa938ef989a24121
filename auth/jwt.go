package auth

import (
	"context"
	"net/http"
	"time"

	resp "github.com/makerhaus/memberd/response"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

var bearerPrefix = "Bearer "
var jwtSigningMethod = jwt.SigningMethodHS256

// credentialTTL bounds how long an invitee can hold a signup credential
// before following the invite link again
const credentialTTL = time.Hour * 24

// Claims is the struct for the signup credential token
type Claims struct {
	jwt.StandardClaims
	UserID       string `json:"userId"`
	InvitationID string `json:"invitationId"`
	Email        string `json:"email"`
}

// CreateTokenFromClaims will create a signed jwt token that contains the
// given Claims, and mark the credential live in redis so it can be revoked
// before expiry
func (a *Auth) CreateTokenFromClaims(claims Claims) (string, error) {
	expirationTime := time.Now().Add(credentialTTL)
	claims.StandardClaims = jwt.StandardClaims{
		ExpiresAt: expirationTime.Unix(),
	}
	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString(a.jwtKey)
	if err != nil {
		return "", err
	}
	if err := a.storeCredential(claims.UserID, credentialTTL); err != nil {
		return "", err
	}
	return signed, nil
}

func (a *Auth) verifyToken(token string) (*Claims, error) {
	claims := &Claims{}
	jwtToken, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return a.jwtKey, nil
	})
	if err != nil {
		if err == jwt.ErrSignatureInvalid {
			return nil, nil
		}
		if _, ok := err.(*jwt.ValidationError); ok {
			return nil, nil
		}
		return nil, err
	}
	if jwtToken.Method != jwtSigningMethod {
		return nil, nil
	}
	if !jwtToken.Valid {
		return nil, nil
	}
	return claims, nil
}

// Middleware returns a http middleware to verify the Bearer credential in
// the header, including that it has not been cleared by a finished signup
func (a *Auth) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			n := len(bearerPrefix)
			if len(auth) < n || auth[:n] != bearerPrefix {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}
			claims, err := a.verifyToken(auth[n:])
			if err != nil {
				a.Logger.Error("Cannot verify JWT token",
					zap.Error(err),
				)
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			if claims == nil {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}

			live, err := a.credentialLive(claims.UserID)
			if err != nil {
				a.Logger.Error("Cannot check credential liveness",
					zap.Error(err),
				)
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			if !live {
				resp.WriteError(w, r, resp.ErrUnauthorized().AddMessages("Signup credential is no longer valid"))
				return
			}

			ctx := context.WithValue(r.Context(), Context, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
