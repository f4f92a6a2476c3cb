package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tallypay/authcore/internal/config"
	"github.com/tallypay/authcore/internal/database"
	"github.com/tallypay/authcore/internal/handler"
	"github.com/tallypay/authcore/internal/jobs"
	"github.com/tallypay/authcore/internal/kvstore"
	"github.com/tallypay/authcore/internal/middleware"
	"github.com/tallypay/authcore/internal/notify"
	"github.com/tallypay/authcore/internal/ratelimit"
	"github.com/tallypay/authcore/internal/redis"
	"github.com/tallypay/authcore/internal/repository"
	"github.com/tallypay/authcore/internal/service"
	"github.com/tallypay/authcore/internal/util"
)

const notifyWorkerConcurrency = 4

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	companyRepo := repository.NewCompanyRepository(db.DB)
	roleRepo := repository.NewRoleRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)
	sessionRepo := repository.NewUserSessionRepository(db.DB)
	attemptRepo := repository.NewFailedAttemptRepository(db.DB)
	activityRepo := repository.NewActivityRepository(db.DB)

	var kv kvstore.Store
	switch cfg.KVBackend {
	case "memory":
		memKV := kvstore.NewMemory()
		memKV.Start(config.KVReapInterval)
		defer memKV.Stop()
		kv = memKV
	default:
		kv = kvstore.NewRedis(redisClient.Client)
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "memory":
		memLimiter := ratelimit.NewMemoryLimiter()
		memLimiter.Start(config.RateLimitSweepPeriod)
		defer memLimiter.Stop()
		limiter = memLimiter
	default:
		limiter = ratelimit.NewRedisLimiter(redisClient.Client)
	}

	notifier, stopNotifier := buildNotifier(cfg)
	defer stopNotifier()

	box := util.NewSecretBox(cfg.EncryptionKey)
	tokens := service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	securityGuard := service.NewSecurityGuard(userRepo, sessionRepo, attemptRepo, activityRepo)
	tenantGuard := service.NewTenantGuard(userRepo, roleRepo)
	registrationService := service.NewRegistrationService(
		kv, db, companyRepo, roleRepo, userRepo, securityGuard, notifier, box, cfg.TOTPIssuer,
	)
	loginService := service.NewLoginService(
		kv, userRepo, securityGuard, tokens, notifier, box, cfg.IsProduction(),
	)

	authMiddleware := middleware.NewAuthMiddleware(tokens)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())
	generalLimit := middleware.NewRateLimitMiddleware(limiter, ratelimit.GeneralPolicy)
	authLimit := middleware.NewRateLimitMiddleware(limiter, ratelimit.AuthPolicy)
	registrationLimit := middleware.NewRateLimitMiddleware(limiter, ratelimit.RegistrationPolicy)
	otpLimit := middleware.NewRateLimitMiddleware(limiter, ratelimit.OTPPolicy)

	registrationHandler := handler.NewRegistrationHandler(registrationService, registrationLimit.Handler)
	authHandler := handler.NewAuthHandler(loginService, securityGuard, authMiddleware.Handler, handler.AuthLimits{
		Login: authLimit.Handler,
		OTP:   otpLimit.Handler,
	})
	securityHandler := handler.NewSecurityHandler(tenantGuard, securityGuard, authMiddleware.Handler)
	healthHandler := handler.NewHealthHandler(config.DBPingTimeout, map[string]handler.Pinger{
		"database": db,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Method(http.MethodGet, "/health", healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(generalLimit.Handler)
		r.Mount("/auth/register", registrationHandler.Routes())
		r.Mount("/auth", authHandler.Routes())
		r.Mount("/security", securityHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(securityGuard, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.AppEnv).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// buildNotifier returns nil when no delivery channel is configured. With
// NOTIFY_ASYNC the channel sits behind an asynq queue drained in-process.
func buildNotifier(cfg *config.Config) (notify.Notifier, func()) {
	noop := func() {}
	if !cfg.NotifierEnabled() {
		log.Warn().Str("notifier", cfg.Notifier).Msg("no second-factor delivery channel configured")
		return nil, noop
	}

	var delivery notify.Notifier
	switch cfg.Notifier {
	case config.NotifierSMTP:
		delivery = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			FromAddress: cfg.SMTPFrom,
		})
	default:
		delivery = notify.NewLogNotifier()
	}
	delivery = notify.NewThrottled(delivery, cfg.NotifyRatePerSec, 1)

	if !cfg.NotifyAsync {
		return delivery, noop
	}

	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse redis url for notification queue")
	}
	client := asynq.NewClient(opt)
	worker := notify.NewWorker(opt, delivery, notifyWorkerConcurrency)
	if err := worker.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start notification worker")
	}

	return notify.NewQueue(client), func() {
		worker.Stop()
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close notification queue client")
		}
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
