package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"lms/auth-identity/internal/auth"
	"lms/auth-identity/internal/binding"
	"lms/auth-identity/internal/classroom"
	"lms/auth-identity/internal/config"
	"lms/auth-identity/internal/db"
	internalhttp "lms/auth-identity/internal/http"
	"lms/auth-identity/internal/policy"
	"lms/auth-identity/internal/recommend"
	"lms/auth-identity/internal/repository"
	"lms/auth-identity/internal/revocation"
	"lms/auth-identity/internal/session"
	"lms/auth-identity/internal/telemetry"
)

const serviceName = "auth-identity"

// store is everything the service needs from persistence.
type store interface {
	internalhttp.Store
	classroom.Store
	binding.Store
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}

	var st store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		st = repository.NewMemoryStore()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db connection failed")
		}
		defer pool.Close()
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, pool); err != nil {
				log.Fatal().Err(err).Msg("migration failed")
			}
			log.Info().Msg("schema applied")
		}
		st = repository.NewStore(pool)
	}

	signer, err := newSigner(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("signing key setup failed")
	}

	var revocations auth.RevocationList
	if cfg.RefreshRevocation {
		if cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer client.Close()
			if err := client.Ping(ctx).Err(); err != nil {
				log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
			}
			revocations = revocation.NewRedisList(client)
		} else {
			log.Warn().Msg("refresh revocation kept in process memory")
			revocations = revocation.NewMemoryList()
		}
	}

	tokens := auth.NewService(signer, st, auth.Options{
		Issuer:           cfg.JWTIssuer,
		AccessTTL:        cfg.AccessTokenTTL,
		RefreshTTL:       cfg.RefreshTokenTTL,
		Revocations:      revocations,
		SingleUseRefresh: revocations != nil,
		Logger:           log,
	})

	provider := binding.NewGraphProvider(binding.GraphOptions{
		BaseURL:        cfg.ExternalProviderURL,
		Fields:         cfg.ExternalFields,
		Timeout:        cfg.ExternalTimeout,
		MaxAttempts:    cfg.ExternalMaxAttempts,
		InitialBackoff: cfg.ExternalRetryInitial,
		Logger:         log,
	})

	var generator recommend.Generator = recommend.RuleGenerator{}
	if cfg.RecommenderURL != "" {
		generator = recommend.NewHTTPGenerator(cfg.RecommenderURL, cfg.RecommenderTimeout)
	}

	server, err := internalhttp.NewServer(cfg, internalhttp.Deps{
		Store:     st,
		Signer:    signer,
		Tokens:    tokens,
		Rotations: session.NewDedup(tokens, cfg.RotationTimeout),
		Binder:    binding.NewBinder(provider, st, log),
		Classroom: classroom.NewService(st, policy.NewEngine(st, log), generator, log),
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("server setup failed")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Bool("rsa", cfg.UsesRSA()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown error")
	}
}

func newSigner(cfg config.Config) (*auth.Signer, error) {
	if cfg.UsesRSA() {
		return auth.NewRSASigner(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	}
	return auth.NewHMACSigner(cfg.JWTSecret)
}
