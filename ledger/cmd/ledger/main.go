package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/anchor"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/archive"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/auth"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/besteffort"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/config"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/handlers"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/keys"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/metrics"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/signer"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/stream"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/tlsutil"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ledger: startup failed")
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx := context.Background()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	auditStore := audit.NewStore(cfg.Storage.AuditLogPath(), audit.WithChunkSize(cfg.Storage.ChunkSize))
	metricsStore := metrics.NewStore(cfg.Storage.MetricsLogPath(), metrics.WithChunkSize(cfg.Storage.ChunkSize))
	log.Info().
		Str("audit_log", auditStore.Path()).
		Str("metrics_log", metricsStore.Path()).
		Msg("ledger: stores opened")

	background := besteffort.New(besteffort.Config{
		Timeout:        cfg.Background.Timeout,
		MaxConcurrency: cfg.Background.MaxConcurrency,
	})

	deps := handlers.Deps{
		Audit:        auditStore,
		Metrics:      metricsStore,
		Archive:      archive.New(cfg.Archive.Root, archive.WithKinds(cfg.Archive.Kinds...)),
		Background:   background,
		CORSOrigins:  cfg.Server.CORSOrigins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}

	if cfg.Archive.Enabled {
		replicas, err := buildReplicas(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		deps.Dispatcher = archive.NewDispatcher(deps.Archive, background, replicas...)
		log.Info().Str("root", cfg.Archive.Root).Int("replicas", len(replicas)).Msg("ledger: archival enabled")
	} else {
		log.Info().Msg("ledger: archival disabled")
	}

	var publisher *stream.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := stream.NewKafkaProducer(stream.KafkaProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		publisher = stream.NewPublisher(producer)
		deps.Publisher = publisher
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("ledger: kafka publishing enabled")
	}

	sgn, err := anchorSigner(ctx, cfg.Anchor)
	if err != nil {
		return err
	}
	reg := keys.NewRegistry()
	reg.AddSigner(sgn.ID(), sgn.PublicKey(), signer.Algorithm)
	deps.Keys = reg.StatusHandler()

	var db *sql.DB
	if cfg.Anchor.Enabled() {
		db, err = openPostgres(ctx, cfg.Anchor.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		ks, err := keys.NewStore(ctx, db)
		if err != nil {
			return err
		}
		if err := ks.AddSigner(ctx, sgn.ID(), sgn.PublicKey(), signer.Algorithm); err != nil {
			return err
		}
		known, err := ks.ListSigners(ctx)
		if err != nil {
			return err
		}
		reg.Load(known)
		anchors := anchor.NewPGStore(db)
		if err := anchors.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Anchorer = anchor.NewAnchorer(anchors, sgn)
		deps.AnchorVerifier = anchor.NewVerifier(anchors, ks)
		deps.Ready = append(deps.Ready, anchors)
		log.Info().Str("signer", sgn.ID()).Msg("ledger: chain anchoring enabled")
	}

	if cfg.Auth.Enabled {
		v, err := auth.NewVerifier(auth.VerifierConfig{
			HMACSecret:    cfg.Auth.HMACSecret,
			PublicKeyFile: cfg.Auth.PublicKeyFile,
			Issuer:        cfg.Auth.Issuer,
			Audience:      cfg.Auth.Audience,
			Leeway:        cfg.Auth.Leeway,
		})
		if err != nil {
			return fmt.Errorf("init token verifier: %w", err)
		}
		deps.Auth = handlers.AuthOptions{Verifier: v, RBAC: cfg.Auth.RBACEnabled, RequireMTLS: cfg.Server.RequireMTLS}
		log.Info().Bool("rbac", cfg.Auth.RBACEnabled).Msg("ledger: write endpoints require a bearer token")
	} else {
		deps.Auth.RequireMTLS = cfg.Server.RequireMTLS
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handlers.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	if cfg.Server.TLSCertFile != "" {
		tlsCfg, err := tlsutil.NewServerConfig(tlsutil.ServerFiles{
			CertFile:     cfg.Server.TLSCertFile,
			KeyFile:      cfg.Server.TLSKeyFile,
			ClientCAFile: cfg.Server.ClientCAFile,
		}, cfg.Server.RequireMTLS)
		if err != nil {
			return fmt.Errorf("init TLS config: %w", err)
		}
		srv.TLSConfig = tlsCfg
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("ledger: serving (TLS)")
			serveErr <- srv.ListenAndServeTLS("", "")
		}()
	} else {
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("ledger: serving")
			serveErr <- srv.ListenAndServe()
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-stop:
	}
	log.Info().Msg("ledger: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ledger: http shutdown")
	}
	// Requests are drained; let their archive, stream and anchor follow-ups finish.
	if err := background.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ledger: background work still running at shutdown")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("ledger: close kafka producer")
		}
	}
	log.Info().Msg("ledger: stopped")
	return nil
}

func setupLogging(c config.LogConfig) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func buildReplicas(ctx context.Context, c config.ArchiveConfig) ([]archive.Replica, error) {
	retention := archive.Retention{Days: c.RetentionDays}
	switch c.Replica {
	case config.ReplicaS3:
		r, err := archive.NewS3Replica(ctx, archive.S3Config{
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			Retention: retention,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 replica: %w", err)
		}
		log.Info().Str("bucket", c.S3.Bucket).Str("prefix", c.S3.Prefix).Msg("ledger: s3 archive replica configured")
		return []archive.Replica{r}, nil
	case config.ReplicaMinio:
		r, err := archive.NewMinioReplica(archive.MinioConfig{
			Endpoint:  c.Minio.Endpoint,
			AccessKey: c.Minio.AccessKey,
			SecretKey: c.Minio.SecretKey,
			Region:    c.Minio.Region,
			UseSSL:    c.Minio.UseSSL,
			Bucket:    c.Minio.Bucket,
			Prefix:    c.Minio.Prefix,
			Retention: retention,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio replica: %w", err)
		}
		log.Info().Str("endpoint", c.Minio.Endpoint).Str("bucket", c.Minio.Bucket).Msg("ledger: minio archive replica configured")
		return []archive.Replica{r}, nil
	}
	return nil, nil
}

func anchorSigner(ctx context.Context, c config.AnchorConfig) (signer.Signer, error) {
	if c.KMS.Endpoint != "" {
		s, err := signer.NewKMSSigner(ctx, signer.KMSConfig{
			Endpoint:    c.KMS.Endpoint,
			SignerID:    c.SignerID,
			BearerToken: c.KMS.BearerToken,
			Timeout:     c.KMS.Timeout,
			CertFile:    c.KMS.CertFile,
			KeyFile:     c.KMS.KeyFile,
			CAFile:      c.KMS.CAFile,
		})
		if err != nil {
			return nil, fmt.Errorf("init kms anchor signer: %w", err)
		}
		log.Info().Str("signer", s.ID()).Str("endpoint", c.KMS.Endpoint).Msg("ledger: anchors signed by kms")
		return s, nil
	}
	if c.SigningKey != "" {
		s, err := signer.NewLocalSignerFromSeed(c.SignerID, c.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("load anchor signing key: %w", err)
		}
		return s, nil
	}
	if c.Enabled() {
		log.Warn().Str("signer", c.SignerID).
			Msg("ledger: LEDGER_ANCHOR_SIGNING_KEY not set, anchors are signed with an ephemeral key (dev only)")
	}
	return signer.NewLocalSigner(c.SignerID), nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info().Msg("ledger: connected to postgres")
	return db, nil
}
