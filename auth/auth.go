package auth

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/johnsto/go-passwordless"
	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is the key used in context.Context containing the Claims
const Context ContextKey = "authContext"

// Environment is the type for defining the running environment
type Environment string

// define constants
const (
	EnvDevelopment Environment = "Dev"
	EnvProduction  Environment = "Prod"
)

// credentialKeyPrefix namespaces the redis keys marking live signup credentials
const credentialKeyPrefix = "signup:credential:"

// Auth delivers invitation links over email and issues the short-lived
// signup credential once a link is followed
type Auth struct {
	Options
	pw     *passwordless.Passwordless
	jwtKey []byte
}

// Options provides initialization parameters for Auth
type Options struct {
	Redis  redis.UniversalClient
	Logger *zap.Logger

	JWTSigningKey string

	Environment Environment
	SMTPAuth    smtp.Auth
	From        string
	Hostname    string
	EmailOption EmailOption
}

// EmailOption specifies the club name shown in the email and the
// LinkGenerator for the signup link
type EmailOption struct {
	Name          string
	LinkGenerator LinkGenerator
}

// LinkGenerator is used to generate a signup link from an invite token
type LinkGenerator func(uid, token string) string

func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("nil option is invalid")
	}
	if o.Redis == nil {
		return fmt.Errorf("nil redisClient is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if len(o.JWTSigningKey) < 16 {
		return fmt.Errorf("jwt signing key must be longer than 16 characters")
	}
	if o.Environment == "" {
		o.Environment = EnvDevelopment
	}
	if o.SMTPAuth == nil {
		return fmt.Errorf("nil SMTPAuth is invalid")
	}
	if o.From == "" {
		return fmt.Errorf("empty From is invalid")
	}
	if o.Hostname == "" {
		return fmt.Errorf("empty Hostname is invalid")
	}
	if o.EmailOption.Name == "" {
		return fmt.Errorf("empty EmailOption.Name is invalid")
	}
	if o.EmailOption.LinkGenerator == nil {
		return fmt.Errorf("nil EmailOption.LinkGenerator is invalid")
	}

	return nil
}

// New will return a new instance of Auth for invitee authentication
func New(option Options) (*Auth, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}

	pw := passwordless.New(passwordless.NewRedisStore(option.Redis))
	pw.SetTransport("Log", passwordless.LogTransport{
		MessageFunc: func(token, uid string) string {
			return option.EmailOption.LinkGenerator(uid, token)
		},
	}, passwordless.NewCrockfordGenerator(8), time.Hour*24)
	pw.SetTransport("Email", passwordless.NewSMTPTransport(
		option.Hostname,
		option.From,
		option.SMTPAuth,
		composeFuncGetter(option.EmailOption),
	), passwordless.NewCrockfordGenerator(32), time.Hour*24)

	return &Auth{
		Options: option,
		pw:      pw,
		jwtKey:  []byte(option.JWTSigningKey),
	}, nil
}

// ClearCredential revokes the invitee's temporary signup credential. Called
// once registration is finalized; the bearer token stops working even
// before its expiry.
func (a *Auth) ClearCredential(ctx context.Context, userID string) error {
	return a.Redis.Del(credentialKeyPrefix + userID).Err()
}

func (a *Auth) storeCredential(userID string, ttl time.Duration) error {
	return a.Redis.Set(credentialKeyPrefix+userID, time.Now().Format(time.RFC3339), ttl).Err()
}

func (a *Auth) credentialLive(userID string) (bool, error) {
	_, err := a.Redis.Get(credentialKeyPrefix + userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
