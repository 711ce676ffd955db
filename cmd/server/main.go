package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/changliaotong/BotMatrix-sub001/internal/database"
	"github.com/changliaotong/BotMatrix-sub001/internal/logging"
	mW "github.com/changliaotong/BotMatrix-sub001/internal/middleware"
	"github.com/changliaotong/BotMatrix-sub001/internal/services"
)

func main() {
	logging.Init()

	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.lock_timeout", "DATABASE_LOCK_TIMEOUT")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("ledger.credit_overdraft_floor", "LEDGER_CREDIT_OVERDRAFT_FLOOR")
	viper.BindEnv("ledger.member_opening_credit", "LEDGER_MEMBER_OPENING_CREDIT")
	viper.BindEnv("ledger.checkin_credit", "LEDGER_CHECKIN_CREDIT")
	viper.BindEnv("ledger.grant_rate_limit", "LEDGER_GRANT_RATE_LIMIT")
	viper.BindEnv("ledger.grant_rate_window", "LEDGER_GRANT_RATE_WINDOW")
	viper.BindEnv("fairplay.max_wager", "FAIRPLAY_MAX_WAGER")

	if err := viper.ReadInConfig(); err != nil {
		log.Info().Err(err).Msg("config file not found, using defaults")
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db, redisClient)
	wagerService := services.NewWagerService(db, ledgerService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware)

		r.Get("/balance", ledgerService.GetBalance)
		r.Post("/adjust", ledgerService.Adjust)
		r.Post("/transfer", ledgerService.Transfer)
		r.Post("/checkin", ledgerService.CheckIn)
		r.Get("/ranking", ledgerService.Ranking)
		r.Get("/statement", ledgerService.Statement)

		r.Post("/wagers", wagerService.PlaceWager)
		r.Get("/wagers/{roundId}/verify", wagerService.VerifyRound)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("port", port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
