package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"medilink/backend/internal/audit"
	"medilink/backend/internal/audit/producer"
	"medilink/backend/internal/config"
	"medilink/backend/internal/db"
	healthhandler "medilink/backend/internal/health/handler"
	identityhandler "medilink/backend/internal/identity/handler"
	identityservice "medilink/backend/internal/identity/service"
	"medilink/backend/internal/revocation"
	"medilink/backend/internal/security"
	"medilink/backend/internal/server"
	sessiondomain "medilink/backend/internal/session/domain"
	sessionservice "medilink/backend/internal/session/service"
	"medilink/backend/internal/store"
	userrepo "medilink/backend/internal/user/repository"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "medilink-auth").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	if cfg.Env != "production" {
		logger = logger.Level(zerolog.DebugLevel)
	}

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse JWT_PRIVATE_KEY")
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse JWT_PUBLIC_KEY")
	}
	issuer, err := security.NewIssuer(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, sessiondomain.AccessTokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("token issuer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	kv := store.NewRedisKV(redisClient, "")
	if err := kv.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer conn.Close()

	var emitter audit.Emitter
	if brokers := cfg.AuditKafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer, err := producer.NewKafkaProducer(brokers, cfg.AuditKafkaTopic)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka producer")
		}
		if kafkaProducer != nil {
			defer kafkaProducer.Close()
			emitter = kafkaProducer
			logger.Info().Strs("brokers", brokers).Str("topic", cfg.AuditKafkaTopic).Msg("audit events enabled")
		}
	}

	identity := identityservice.NewIdentityService(userrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	blacklist := revocation.NewBlacklist(kv)
	manager := sessionservice.NewManager(kv, identity, issuer, blacklist, emitter, logger)
	authHandler := identityhandler.NewAuthHandler(identity, manager, cfg.SecureCookies, logger)

	health := healthhandler.Health(
		healthhandler.Check{Name: "redis", Ping: kv.Ping},
		healthhandler.Check{Name: "postgres", Ping: conn.PingContext},
	)

	srv := server.New(cfg.HTTPAddr, authHandler, issuer, blacklist, health, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("http server")
	}

	// Give in-flight async audit emits time to land before the producer closes.
	time.Sleep(audit.ShutdownDrainDuration)
	logger.Info().Msg("server stopped")
}
