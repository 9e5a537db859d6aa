package main

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"curbspot/internal/api"
	"curbspot/internal/auth"
	"curbspot/internal/config"
	"curbspot/internal/queue"
	"curbspot/internal/ratelimit"
	"curbspot/internal/repository"
	"curbspot/internal/service"
)

func main() {
	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to open DB")
	}
	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("failed to connect to DB")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	userRepo := repository.NewUserRepository(db)
	spotRepo := repository.NewSpotRepository(db)
	holdRepo := repository.NewHoldRepository(db)
	bookingRepo := repository.NewBookingRepository(db)

	publisher := queue.NewPublisher(cfg.AMQPURL, log)
	sender := service.NewSenderService(
		cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName,
		cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber,
	)
	go queue.StartNotificationConsumer(cfg.AMQPURL, sender, log)

	notifier := service.NewNotifyService(publisher, userRepo, log)
	payments := service.NewStripeProvider(cfg.StripeSecretKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)

	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)
	authSvc := service.NewAuthService(userRepo, tokens)
	bookingSvc := service.NewBookingService(
		spotRepo, holdRepo, bookingRepo, userRepo, payments, notifier,
		log, cfg.Currency, cfg.HoldTTL, cfg.ApprovalWindow,
	)
	jobs := service.NewJobService(holdRepo, bookingRepo, bookingSvc, log)

	limiter := ratelimit.New(rdb, log,
		ratelimit.Tier{Max: cfg.RateBurstMax, Window: cfg.RateBurstWindow},
		ratelimit.Tier{Max: cfg.RateHourlyMax, Window: cfg.RateHourlyWindow},
	)

	bookingHandler := api.NewBookingHandler(bookingSvc)
	hostHandler := api.NewHostHandler(bookingSvc)
	authHandler := api.NewAuthHandler(authSvc)
	webhookHandler := api.NewStripeWebhookHandler(cfg.StripeWebhookSecret, bookingSvc, log)

	c := cron.New()
	c.AddFunc("@every 1m", jobs.ExpireHolds)
	c.AddFunc("@every 1m", jobs.ReleaseExpiredApprovals)
	c.AddFunc("@every 5m", jobs.CompleteFinishedBookings)
	c.AddFunc("@every 1h", jobs.PurgeStalePending)
	c.Start()

	r := mux.NewRouter()

	// Host endpoints (protected). Registered before the general /api
	// subrouter; gorilla subrouters do not fall through on a prefix match.
	host := r.PathPrefix("/api/host").Subrouter()
	host.Use(tokens.Require)
	host.HandleFunc("/bookings", hostHandler.ListBookings).Methods("GET")
	host.HandleFunc("/bookings/{code}/approve", hostHandler.Approve).Methods("POST")
	host.HandleFunc("/bookings/{code}/decline", hostHandler.Decline).Methods("POST")

	// Public endpoints; bearer tokens are optional here, guest bookings
	// authenticate by booking code plus access token.
	pub := r.PathPrefix("/api").Subrouter()
	pub.Use(tokens.Optional)
	pub.Handle("/auth/register", limiter.Middleware("auth", http.HandlerFunc(authHandler.Register))).Methods("POST")
	pub.Handle("/auth/login", limiter.Middleware("auth", http.HandlerFunc(authHandler.Login))).Methods("POST")
	pub.HandleFunc("/quotes", bookingHandler.Quote).Methods("POST")
	pub.HandleFunc("/availability", bookingHandler.CheckAvailability).Methods("POST")
	pub.Handle("/bookings", limiter.Middleware("create", http.HandlerFunc(bookingHandler.Create))).Methods("POST")
	pub.HandleFunc("/bookings/{code}", bookingHandler.Get).Methods("GET")
	pub.Handle("/bookings/{code}", limiter.Middleware("cancel", http.HandlerFunc(bookingHandler.Cancel))).Methods("DELETE")
	pub.Handle("/bookings/{code}/departure", limiter.Middleware("departure", http.HandlerFunc(bookingHandler.ConfirmDeparture))).Methods("POST")
	pub.Handle("/bookings/{code}/messages", limiter.Middleware("message", http.HandlerFunc(bookingHandler.MessageHost))).Methods("POST")
	pub.HandleFunc("/webhooks/stripe", webhookHandler.HandleWebhook).Methods("POST")

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Access-Token"}),
	)

	log.WithField("port", cfg.Port).Info("server running")
	log.Fatal(http.ListenAndServe(":"+cfg.Port, cors(handlers.CombinedLoggingHandler(log.Writer(), r))))
}
