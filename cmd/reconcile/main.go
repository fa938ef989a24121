package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/makerhaus/memberd/db"
	"github.com/makerhaus/memberd/external"
	"github.com/makerhaus/memberd/invitation"
	"github.com/makerhaus/memberd/pricing"
	"github.com/makerhaus/memberd/session"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Repair job: any invitee whose invitation is still pending but has no
// valid payment session gets one recreated. Safe to run repeatedly; it is
// not part of the request path.
func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
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

	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "reconcile",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zap core for sentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

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

	plan, err := pricing.LoadPlanFromFile(os.Getenv("PLAN_JSON_PATH"))
	if err != nil {
		logger.Fatal("Cannot load plan definition",
			zap.Error(err),
		)
	}

	engine, err := pricing.NewEngine(pricing.EngineOptions{
		Gateway: gateway,
		Plan:    plan,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize pricing Engine",
			zap.Error(err),
		)
	}

	invitationManager, err := invitation.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize InvitationManager",
			zap.Error(err),
		)
	}

	sessionManager, err := session.NewManager(session.ManagerOptions{
		Gateway: gateway,
		Engine:  engine,
		DB:      dbInstance,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SessionManager",
			zap.Error(err),
		)
	}

	ctx := context.Background()

	pending, err := invitationManager.ListPending(ctx)
	if err != nil {
		logger.Fatal("Cannot list pending invitations",
			zap.Error(err),
		)
	}

	created, err := sessionManager.Reconcile(ctx, pending)
	if err != nil {
		logger.Fatal("Reconciliation stopped on error",
			zap.Error(err),
			zap.Int("Created", created),
		)
	}

	logger.Info("Reconciliation finished",
		zap.Int("Pending", len(pending)),
		zap.Int("Created", created),
	)
}
