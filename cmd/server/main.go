package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rewardsapp/withdrawals/docs"
	"github.com/rewardsapp/withdrawals/internal/audit"
	"github.com/rewardsapp/withdrawals/internal/config"
	"github.com/rewardsapp/withdrawals/internal/database"
	"github.com/rewardsapp/withdrawals/internal/handlers"
	"github.com/rewardsapp/withdrawals/internal/logger"
	"github.com/rewardsapp/withdrawals/internal/metrics"
	mW "github.com/rewardsapp/withdrawals/internal/middleware"
	"github.com/rewardsapp/withdrawals/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// @title Rewards Withdrawals API
// @version 1.0
// @description Withdrawal processing, manual review and payout callbacks
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY", "SUPABASE_JWT_SECRET")
	viper.BindEnv("jwt.admin_role", "JWT_ADMIN_ROLE")

	viper.BindEnv("withdrawal.default_min", "WITHDRAWAL_DEFAULT_MIN")
	viper.BindEnv("withdrawal.default_max", "WITHDRAWAL_DEFAULT_MAX")
	viper.BindEnv("withdrawal.default_auto_threshold", "WITHDRAWAL_DEFAULT_AUTO_THRESHOLD")
	viper.BindEnv("withdrawal.cooldown", "WITHDRAWAL_COOLDOWN")
	viper.BindEnv("withdrawal.default_network", "WITHDRAWAL_DEFAULT_NETWORK")
	viper.BindEnv("withdrawal.locale", "WITHDRAWAL_LOCALE")
	viper.BindEnv("withdrawal.idempotency_ttl", "WITHDRAWAL_IDEMPOTENCY_TTL")

	viper.BindEnv("nowpayments.base_url", "NOWPAYMENTS_BASE_URL")
	viper.BindEnv("nowpayments.api_key", "NOWPAYMENTS_API_KEY")
	viper.BindEnv("nowpayments.ipn_secret", "NOWPAYMENTS_IPN_SECRET")
	viper.BindEnv("nowpayments.callback_base_url", "NOWPAYMENTS_CALLBACK_BASE_URL", "SUPABASE_URL")
	viper.BindEnv("nowpayments.timeout", "NOWPAYMENTS_TIMEOUT")
	viper.BindEnv("nowpayments.max_retries", "NOWPAYMENTS_MAX_RETRIES")

	viper.BindEnv("settings.cache_ttl", "SETTINGS_CACHE_TTL")
	viper.BindEnv("settings.seal_key", "SETTINGS_SEAL_KEY")

	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("server.port", "PORT")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("server.port", "8080")

	configErr := viper.ReadInConfig()

	log := logger.NewLogger(viper.GetString("log.level"))
	defer log.Sync()

	if configErr != nil {
		log.Info("config file not found, using environment and defaults", zap.Error(configErr))
	}

	withdrawalCfg := config.LoadWithdrawalConfig()
	providerCfg := config.LoadProviderConfig()
	settingsCfg := config.LoadSettingsConfig()
	authCfg := config.LoadAuthConfig()

	if authCfg.SecretKey == "" {
		log.Fatal("jwt.secret_key is required")
	}
	if providerCfg.IPNSecret == "" {
		log.Warn("nowpayments.ipn_secret not set, payout callbacks will be rejected")
	}

	// Initialize swagger docs
	docs.SwaggerInfo.Host = "localhost:" + viper.GetString("server.port")

	db := database.InitDatabase(log)
	defer db.Close()

	redisClient := database.InitRedis(log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	sealer, err := services.NewKeySealer(settingsCfg.SealKey)
	if err != nil {
		log.Fatal("invalid settings seal key", zap.Error(err))
	}

	var settingsStore services.SettingsStore = services.NewPostgresSettingsStore(db)
	if redisClient != nil && settingsCfg.CacheTTL > 0 {
		settingsStore = services.NewCachedSettingsStore(settingsStore, redisClient, settingsCfg.CacheTTL, log)
		log.Info("admin settings cache enabled", zap.Duration("ttl", settingsCfg.CacheTTL))
	}

	callbackURL := ""
	if providerCfg.CallbackBaseURL != "" {
		callbackURL = strings.TrimRight(providerCfg.CallbackBaseURL, "/") + "/webhooks/nowpayments"
	}

	recorder := audit.NewActivityLogger(db, log)
	ledger := services.NewBalanceLedger(db)
	reconciler := services.NewLedgerReconciler(db, ledger, recorder, log)
	store := services.NewWithdrawalStore(db)
	provider := services.NewNowPaymentsClient(providerCfg, log)
	dispatcher := services.NewPayoutDispatcher(provider, reconciler, recorder, callbackURL, log)
	limits := services.NewLimitResolver(settingsStore, sealer, withdrawalCfg, providerCfg.APIKey, log)
	validator := services.NewWithdrawalValidator(withdrawalCfg)
	messages := services.NewMessages(withdrawalCfg.Locale)

	withdrawalService := services.NewWithdrawalService(ledger, limits, validator, reconciler, dispatcher,
		provider, store, messages, withdrawalCfg, log)
	reviewService := services.NewReviewService(reconciler, store, recorder, log)
	settingsService := services.NewSettingsService(settingsStore, sealer, recorder, log)
	ipnService := services.NewIPNService(providerCfg.IPNSecret, store, reconciler, recorder, log)

	var idempotency handlers.IdempotencyStore
	if redisClient != nil {
		idempotency = services.NewIdempotencyStore(redisClient, withdrawalCfg.IdempotencyTTL)
	}

	withdrawalHandler := handlers.NewWithdrawalHandler(withdrawalService, idempotency, messages, log)
	adminHandler := handlers.NewAdminHandler(reviewService, settingsService, log)
	webhookHandler := handlers.NewWebhookHandler(ipnService, log)
	auth := mW.NewAuthenticator(authCfg)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up"}
		code := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			status["status"], status["database"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["redis"] = "up"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status["redis"] = "down"
			}
		}
		services.SendJSON(w, code, status)
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%s/swagger/doc.json", viper.GetString("server.port"))),
	))

	// Provider callbacks, authenticated by signature
	r.Post("/webhooks/nowpayments", webhookHandler.NowPaymentsIPN)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware)

			r.Post("/withdrawals", withdrawalHandler.CreateWithdrawal)
			r.Get("/withdrawals", withdrawalHandler.ListWithdrawals)
			r.Get("/withdrawals/limits", withdrawalHandler.GetPolicy)
			r.Get("/transactions", withdrawalHandler.ListTransactions)

			// Admin endpoints
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Get("/settings/{key}", adminHandler.GetSetting)
				r.Put("/settings/{key}", adminHandler.UpsertSetting)
				r.Get("/withdrawals", adminHandler.ListReviewQueue)
				r.Post("/withdrawals/{id}/complete", adminHandler.CompleteWithdrawal)
				r.Post("/withdrawals/{id}/reject", adminHandler.RejectWithdrawal)
			})
		})
	})

	port := viper.GetString("server.port")

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*providerCfg.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
