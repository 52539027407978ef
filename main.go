package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-booking/internal/analytics"
	"ticket-booking/internal/auth"
	"ticket-booking/internal/booking/booking_api"
	bookingdb "ticket-booking/internal/booking/db"
	booking "ticket-booking/internal/booking/service"
	"ticket-booking/internal/config"
	"ticket-booking/internal/database"
	"ticket-booking/internal/database/migrations"
	"ticket-booking/internal/kafka"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/payment/payment_api"
	paymentdb "ticket-booking/internal/payment/db"
	payment "ticket-booking/internal/payment/service"
	rediswrap "ticket-booking/internal/redis"
	"ticket-booking/internal/sse"
	"ticket-booking/internal/tickets/qr"
	ticketdb "ticket-booking/internal/tickets/db"
	tickets "ticket-booking/internal/tickets/service"
	"ticket-booking/internal/tickets/ticket_api"
	userdb "ticket-booking/internal/users/db"
	users "ticket-booking/internal/users/service"
	"ticket-booking/internal/users/user_api"
	"ticket-booking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
)

type publisher interface {
	Publish(topic string, key string, value []byte) error
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func runMigrations(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) {
	// The migrator closes its connection, so it gets a pool of its own.
	migDB, err := database.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	runner := migrations.NewRunner(migDB, migrations.Options{Dir: cfg.MigrationsDir}, log)
	if err := runner.Up(); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	if err := runner.Close(); err != nil {
		log.Warn("MIGRATE", err.Error())
	}
}

// setupMessaging returns the booking event publisher. With Kafka enabled the
// sales consumer reads from the broker; otherwise a loopback feeds it
// in-process.
func setupMessaging(ctx context.Context, cfg config.KafkaConfig, sales *analytics.Service, log *logger.Logger) (publisher, func()) {
	if !cfg.Enabled {
		loopback := kafka.NewLoopback(log)
		loopback.Subscribe(cfg.Topics.BookingPaid, sales.HandleBookingPaid)
		log.Warn("KAFKA", "Kafka disabled, booking events are delivered in-process")
		return loopback, func() {}
	}

	log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Brokers))
	if err := kafka.EnsureTopicsExist(cfg.Brokers, cfg.Topics.All(), log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		log.Info("KAFKA", "Required topics ensured successfully")
	}

	producer := kafka.NewProducer(cfg.Brokers, log)
	consumer := kafka.NewConsumer(cfg.Brokers, cfg.Topics.BookingPaid, cfg.GroupID, log)
	go consumer.Start(ctx, sales.HandleBookingPaid)
	log.Info("KAFKA", "Kafka producer and sales consumer initialized")

	return producer, func() {
		if err := consumer.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Failed to close consumer: %v", err))
		}
		if err := producer.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
}

func healthHandler(bunDB *bun.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"database": "up", "redis": "up"}
		code := http.StatusOK
		if err := bunDB.PingContext(ctx); err != nil {
			status["database"] = "down"
			code = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			status["redis"] = "down"
			code = http.StatusServiceUnavailable
		}
		if code != http.StatusOK {
			utils.WriteJSON(w, code, utils.APIResponse{
				Success:   false,
				Message:   "Service degraded",
				Data:      status,
				Timestamp: time.Now().UTC(),
			})
			return
		}
		utils.WriteSuccess(w, http.StatusOK, "Service healthy", status)
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️  .env file not found, using environment variables")
	}

	cfg := config.Load()
	log := logger.NewLogger(cfg.Logging.Dir, cfg.Logging.ServiceName)
	defer log.Close()

	log.Info("APP", "Starting Ticket Booking Service initialization")
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- PostgreSQL ---
	if cfg.Database.AutoMigrate {
		runMigrations(ctx, cfg.Database, log)
	}
	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	// --- Redis ---
	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	store := rediswrap.NewRedis(redisClient, log)
	store.CheckoutLockTTL = cfg.Booking.CheckoutLockTTL
	store.IdempotencyKeyTTL = cfg.Booking.IdempotencyKeyTTL
	store.LocationsTTL = cfg.Booking.LocationsCacheTTL

	// --- Initialize dependencies ---
	loc := cfg.Server.Timezone
	userStore := &userdb.DB{Bun: bunDB}
	ticketStore := &ticketdb.DB{Bun: bunDB}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiresIn)
	roles := auth.NewRedisRoleCache(redisClient, userStore, cfg.Auth.RoleCacheTTL)

	sales := analytics.NewService(analytics.NewDB(bunDB), loc, log)
	events, closeMessaging := setupMessaging(ctx, cfg.Kafka, sales, log)
	defer closeMessaging()

	userService := users.NewUserService(userStore, tokens, cfg.Auth.BcryptCost, log)
	userService.Roles = roles
	userService.Ads = ticketStore

	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		if _, created, err := userService.EnsureAdmin(ctx, cfg.Auth.AdminName, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			log.Error("APP", fmt.Sprintf("Failed to bootstrap admin %s: %v", cfg.Auth.AdminEmail, err))
		} else if created {
			log.Info("APP", fmt.Sprintf("Bootstrap admin %s created", cfg.Auth.AdminEmail))
		}
	}

	ticketService := tickets.NewTicketService(ticketStore, userService, cfg.Booking.MaxAdvertised, loc, log)
	ticketService.Cache = store
	ticketService.Kafka = events
	ticketService.StatusTopic = cfg.Kafka.Topics.TicketStatus

	emitter := sse.NewBookingEventEmitter()
	bookingService := booking.NewBookingService(&bookingdb.DB{Bun: bunDB}, ticketStore, cfg.Booking, loc, log)
	bookingService.Vendors = userService
	bookingService.Holds = store
	bookingService.Kafka = events
	bookingService.Topics = cfg.Kafka.Topics
	bookingService.Notifier = emitter
	bookingService.Revenue = sales
	bookingService.QR = qr.NewQRGenerator(cfg.Auth.QRSecretKey)

	var gateway payment.CheckoutGateway
	if stripeGateway, err := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, log); err != nil {
		log.Warn("STRIPE", fmt.Sprintf("Payments disabled: %v", err))
		gateway = payment.DisabledGateway{}
	} else {
		gateway = stripeGateway
	}
	paymentService := payment.NewPaymentService(bookingService, ticketStore, &paymentdb.DB{Bun: bunDB}, gateway, log)
	paymentService.Locker = store
	paymentService.Currency = cfg.Stripe.Currency
	paymentService.SiteDomain = cfg.Stripe.SiteDomain
	paymentService.Location = loc

	// --- Booking expiry ---
	if err := store.EnableExpiryNotifications(ctx); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications, relying on sweep: %v", err))
	}
	if err := store.SubscribeExpiredHolds(ctx, bookingService.OnHoldExpired); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Expired hold subscription failed, relying on sweep: %v", err))
	}
	go bookingService.RunSweeper(ctx, cfg.Booking.SweepInterval)

	// --- Router ---
	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", booking_api.IdempotencyHeader, "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authn := auth.Middleware(tokens, roles, log)
	r.Get("/health", healthHandler(bunDB, redisClient))
	r.Route("/api/v1", func(r chi.Router) {
		(&user_api.Handler{
			UserService:     userService,
			Logger:          log,
			SecureCookies:   cfg.Server.IsProduction(),
			DefaultPageSize: cfg.Booking.DefaultPageSize,
			MaxPageSize:     cfg.Booking.MaxPageSize,
		}).RegisterRoutes(r, authn)
		log.Info("ROUTER", "User routes registered under /api/v1/users")

		(&ticket_api.Handler{
			TicketService:   ticketService,
			Logger:          log,
			DefaultPageSize: cfg.Booking.DefaultPageSize,
			MaxPageSize:     cfg.Booking.MaxPageSize,
		}).RegisterRoutes(r, authn)
		log.Info("ROUTER", "Ticket routes registered under /api/v1/tickets")

		(&booking_api.Handler{
			BookingService:  bookingService,
			Events:          emitter,
			Logger:          log,
			DefaultPageSize: cfg.Booking.DefaultPageSize,
			MaxPageSize:     cfg.Booking.MaxPageSize,
		}).RegisterRoutes(r, authn)
		log.Info("ROUTER", "Booking routes registered under /api/v1/bookings")

		(&payment_api.Handler{
			PaymentService: paymentService,
			Logger:         log,
		}).RegisterRoutes(r, authn)
		log.Info("ROUTER", "Payment routes registered under /api/v1/payments")
	})

	// WriteTimeout stays zero so vendor event streams are not cut off.
	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	// --- Start HTTP Server ---
	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Ticket Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Ticket Booking Service shutdown complete")
	}
}
