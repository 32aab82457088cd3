// Command sk-server starts the slotkeeper gRPC server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	pb "github.com/and161185/slotkeeper/api/slotkeeper/v1"
	"github.com/and161185/slotkeeper/internal/archive"
	"github.com/and161185/slotkeeper/internal/blobstore"
	"github.com/and161185/slotkeeper/internal/config"
	pkgcrypto "github.com/and161185/slotkeeper/internal/crypto"
	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/generation"
	"github.com/and161185/slotkeeper/internal/limiter"
	"github.com/and161185/slotkeeper/internal/migrate"
	"github.com/and161185/slotkeeper/internal/moderation"
	"github.com/and161185/slotkeeper/internal/presence"
	"github.com/and161185/slotkeeper/internal/repository"
	"github.com/and161185/slotkeeper/internal/repository/memory"
	"github.com/and161185/slotkeeper/internal/repository/postgres"
	grpcserver "github.com/and161185/slotkeeper/internal/server/grpc"
	"github.com/and161185/slotkeeper/internal/service"
	"github.com/and161185/slotkeeper/internal/slotlock"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// stores groups the persistence collaborators picked by STORE.
type stores struct {
	users    repository.UserRepository
	slots    repository.SlotRepository
	settings repository.SettingsRepository
	lim      limiter.Limiter
	close    func()
}

// main loads configuration, wires the stores and services, and serves gRPC
// until SIGINT/SIGTERM.
func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	addr := flag.String("addr", "", "listen address (overrides SLOTKEEPER_ADDR)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides DATABASE_DSN)")
	store := flag.String("store", "", "postgres | memory (overrides STORE)")
	dev := flag.Bool("dev", false, "development logger")
	plaintext := flag.Bool("plaintext", false, "serve without TLS (local use only)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if *store != "" {
		cfg.Store = *store
	}

	var logger *zap.Logger
	if *dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
		zap.String("blobs", cfg.BlobBackend),
		zap.String("exitMode", cfg.ExitMode),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	creds := insecure.NewCredentials()
	if !*plaintext {
		creds, err = credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open stores", zap.Error(err))
	}
	defer st.close()

	blobs, err := openBlobs(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open blob store", zap.Error(err))
	}

	cls, gen, err := openModels(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open models", zap.Error(err))
	}

	// Both services share one lock table and one presence tracker.
	locks := slotlock.New()
	pres := presence.New(2 * cfg.GenerationTimeout)

	authSvc := service.NewAuthService(st.users, st.settings, []byte(cfg.JWTKey), cfg.AccessTTL, st.lim, logger)
	slotSvc := service.NewSlotService(service.SlotDeps{
		Slots:     st.slots,
		Settings:  st.settings,
		Moderator: moderation.NewGate(cls, cfg.ModerationTimeout, logger),
		Generator: gen,
		Blobs:     blobs,
		Encoder:   archive.New(cfg.ArchiveMaxDim, cfg.ArchiveQuality),
		Locks:     locks,
		Presence:  pres,
		Log:       logger,
	}, service.SlotConfig{
		SlotCount:         cfg.SlotCount,
		ExitPolicy:        cfg.ExitMode,
		GenerationTimeout: cfg.GenerationTimeout,
	})
	adminSvc := service.NewAdminService(st.slots, st.users, blobs, locks, pres, logger)
	gateSvc := service.NewGateService(st.settings, cfg.GatePoll, logger)

	if cfg.AdminUsername != "" {
		if err := bootstrapAdmin(ctx, st.users, authSvc, cfg, logger); err != nil {
			logger.Fatal("bootstrap admin", zap.Error(err))
		}
	}

	// gRPC server with interceptors
	opts := append([]grpc.ServerOption{grpc.Creds(creds)},
		grpcserver.Chain(logger, grpcserver.NewAuthenticator([]byte(cfg.JWTKey)))...)
	s := grpc.NewServer(opts...)

	grpcserver.New(grpcserver.Deps{
		Auth:  authSvc,
		Slots: slotSvc,
		Admin: adminSvc,
		Gate:  gateSvc,
		Links: blobs,
		Log:   logger,
	}).Register(s)

	hs := health.NewServer()
	hs.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", !*plaintext))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (stores, error) {
	if cfg.Store == "memory" {
		log.Warn("memory store: state is lost on restart")
		return stores{
			users:    memory.NewUserRepo(),
			slots:    memory.NewSlotRepo(),
			settings: memory.NewSettingsRepo(),
			lim:      limiter.NewMemory(limiter.Policy{}),
			close:    func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DSN, log); err != nil {
		return stores{}, err
	}
	db, err := postgres.New(ctx, cfg.DSN, postgres.Options{})
	if err != nil {
		return stores{}, err
	}
	return stores{
		users:    postgres.NewUserRepo(db),
		slots:    postgres.NewSlotRepo(db),
		settings: postgres.NewSettingsRepo(db),
		lim:      limiter.NewPG(db.Pool, limiter.Policy{}),
		close:    db.Close,
	}, nil
}

func openBlobs(ctx context.Context, cfg *config.Config, log *zap.Logger) (blobstore.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		s, err := blobstore.NewS3(ctx, blobstore.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			PresignTTL:      cfg.S3PresignTTL,
		}, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "local":
		l, err := blobstore.NewLocal(cfg.LocalBlobPath, cfg.LocalBlobBaseURL)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		log.Warn("memory blob store: artifacts are lost on restart")
		return blobstore.NewMemory(), nil
	}
}

func openModels(ctx context.Context, cfg *config.Config, log *zap.Logger) (moderation.Classifier, generation.Generator, error) {
	var cls moderation.Classifier = moderation.NewRuleClassifier()
	if cfg.Classifier == "gemini" {
		g, err := moderation.NewGenAIClassifier(ctx, cfg.GoogleAPIKey, cfg.ModerationModel)
		if err != nil {
			return nil, nil, err
		}
		cls = g
	}

	if cfg.GoogleAPIKey == "" {
		log.Warn("GOOGLE_API_KEY not set, using placeholder generator")
		return cls, generation.NewPlaceholder(), nil
	}
	gen, err := generation.NewGenAI(ctx, cfg.GoogleAPIKey, cfg.ImageModel)
	if err != nil {
		return nil, nil, err
	}
	return cls, gen, nil
}

// bootstrapAdmin creates the configured admin unless it exists. Without
// ADMIN_PASSWORD a random one is generated and logged once, only when the
// account is actually created.
func bootstrapAdmin(ctx context.Context, users repository.UserRepository, auth *service.AuthServiceImpl,
	cfg *config.Config, log *zap.Logger) error {
	_, err := users.GetByUsername(ctx, cfg.AdminUsername)
	switch {
	case err == nil:
		log.Info("bootstrap admin exists", zap.String("user", cfg.AdminUsername))
		return nil
	case !errors.Is(err, errs.ErrNotFound):
		return fmt.Errorf("lookup admin: %w", err)
	}

	pw := cfg.AdminPassword
	generated := pw == ""
	if generated {
		if pw, err = pkgcrypto.GeneratePassword(16); err != nil {
			return err
		}
	}
	if err := auth.EnsureAdmin(ctx, cfg.AdminUsername, pw); err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	if generated {
		log.Warn("ADMIN_PASSWORD not set, generated one", zap.String("user", cfg.AdminUsername), zap.String("password", pw))
	}
	return nil
}
