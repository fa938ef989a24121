package main

import (
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"time"

	"github.com/makerhaus/memberd/auth"
	"github.com/makerhaus/memberd/broker"
	"github.com/makerhaus/memberd/db"
	"github.com/makerhaus/memberd/external"
	"github.com/makerhaus/memberd/invitation"
	"github.com/makerhaus/memberd/member"
	"github.com/makerhaus/memberd/pricing"
	"github.com/makerhaus/memberd/session"
	"github.com/makerhaus/memberd/signup"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
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
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
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

	memberManager, err := member.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize MemberManager",
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

	finalizer, err := signup.NewFinalizer(signup.FinalizerOptions{
		DB:                dbInstance,
		Gateway:           gateway,
		SessionManager:    sessionManager,
		InvitationManager: invitationManager,
		MemberManager:     memberManager,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Finalizer",
			zap.Error(err),
		)
	}

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	signupRouter, err := signup.NewService(signup.ServiceOptions{
		Auth:              authManager,
		Engine:            engine,
		SessionManager:    sessionManager,
		InvitationManager: invitationManager,
		Finalizer:         finalizer,
		Producer:          amqpBroker,
		CookieSigningKey:  os.Getenv("COOKIE_SIGNING_KEY"),
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Signup Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{os.Getenv("SITE_URL")},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	rootRouter.Mount("/signup", signupRouter.Router())

	rootRouter.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok")
	})

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":42069",
	}

	logger.Info("API started")

	log.Fatalln(srv.ListenAndServe())
}
