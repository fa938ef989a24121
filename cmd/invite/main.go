package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/smtp"
	"os"
	"time"

	"github.com/makerhaus/memberd/auth"
	"github.com/makerhaus/memberd/db"
	"github.com/makerhaus/memberd/external"
	"github.com/makerhaus/memberd/invitation"
	"github.com/makerhaus/memberd/member"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"github.com/lithammer/shortuuid/v3"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// Operator tool: issue an invitation to one person. Creates the Stripe
// customer, records the pending invitation, transitions their waitlist
// entry if they have one, and sends the invite-link email.
func main() {
	email := flag.String("email", "", "email address of the invitee")
	firstName := flag.String("first", "", "first name of the invitee")
	lastName := flag.String("last", "", "last name of the invitee")
	flag.Parse()

	if *email == "" || *firstName == "" || *lastName == "" {
		flag.Usage()
		os.Exit(2)
	}

	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	defer logger.Sync()

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	stripeClient := external.NewStripeClient(external.ClientOptions{
		Key: os.Getenv("STRIPE_KEY"),
	})
	gateway := external.NewGateway(stripeClient)

	dbInstance, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	smtpAuth := smtp.PlainAuth("", os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_HOST"))

	authManager, err := auth.New(auth.Options{
		Redis:  rdb,
		Logger: logger,

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),

		Environment: authEnvironment,
		SMTPAuth:    smtpAuth,
		From:        os.Getenv("SMTP_FROM"),
		Hostname:    os.Getenv("SMTP_HOST") + ":" + os.Getenv("SMTP_PORT"),
		EmailOption: auth.EmailOption{
			Name: os.Getenv("SITE_NAME"),
			LinkGenerator: func(uid, token string) string {
				return fmt.Sprintf("%s/signup/invite/%s/%s", os.Getenv("SITE_URL"), uid, token)
			},
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	invitationManager, err := invitation.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize InvitationManager",
			zap.Error(err),
		)
	}

	memberManager, err := member.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize MemberManager",
			zap.Error(err),
		)
	}

	ctx := context.Background()

	existing, err := invitationManager.GetByEmail(ctx, *email)
	if err != nil {
		logger.Fatal("Cannot check for existing invitation",
			zap.Error(err),
		)
	}
	if existing != nil {
		logger.Fatal("An invitation already exists for this person",
			zap.String("InvitationID", existing.ID),
			zap.String("Status", string(existing.Status)),
		)
	}

	customer, err := gateway.CreateCustomer(ctx, &stripe.CustomerParams{
		Email: stripe.String(*email),
		Name:  stripe.String(*firstName + " " + *lastName),
	})
	if err != nil {
		logger.Fatal("Cannot create customer in Stripe",
			zap.Error(err),
		)
	}

	userID := shortuuid.New()

	inv, err := invitationManager.Create(ctx, invitation.CreateOption{
		UserID:     userID,
		CustomerID: customer.ID,
		Email:      *email,
		FirstName:  *firstName,
		LastName:   *lastName,
	})
	if err != nil {
		logger.Fatal("Cannot create invitation",
			zap.Error(err),
		)
	}

	if err := memberManager.MarkWaitlistInvited(ctx, *email); err != nil {
		logger.Fatal("Cannot transition waitlist entry",
			zap.Error(err),
		)
	}

	if err := authManager.Request(ctx, userID, *email); err != nil {
		logger.Fatal("Cannot send invitation email",
			zap.Error(err),
		)
	}

	logger.Info("Invitation sent",
		zap.String("InvitationID", inv.ID),
		zap.String("UserID", userID),
		zap.String("CustomerID", customer.ID),
		zap.Time("ExpiresAt", inv.ExpiresAt),
	)
}
