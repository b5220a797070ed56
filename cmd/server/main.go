package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"soundshelf/internal/config"
	apphttp "soundshelf/internal/http"
	"soundshelf/internal/ingest"
	"soundshelf/internal/metrics"
	"soundshelf/internal/push"
	"soundshelf/internal/repository/sqlite"
	"soundshelf/internal/service"
	"soundshelf/internal/soundcloud"
	"soundshelf/internal/storage"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to a config file (yaml, toml or json)")
	pflag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatalf("log level: %v", err)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	libraryRepo := sqlite.NewLibraryRepository(db)
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := libraryRepo.Init(ctx); err != nil {
		logger.Fatalf("init library repository: %v", err)
	}

	userService := service.NewUserService(userRepo)
	libraryService := service.NewLibraryService(libraryRepo)

	m := metrics.New(prometheus.DefaultRegisterer)

	hub := push.NewHub(push.Config{
		Secret:   []byte(cfg.Auth.SessionSecret + ":push"),
		TokenTTL: time.Duration(cfg.Push.TokenTTLSeconds) * time.Second,
		Buffer:   cfg.Push.Buffer,
		Logger:   logger,
		Metrics:  m,
	})

	client, err := soundcloud.NewClient(soundcloud.Config{
		BaseURL:           cfg.SoundCloud.BaseURL,
		PageSize:          cfg.SoundCloud.PageSize,
		RequestsPerSecond: cfg.SoundCloud.RequestsPerSecond,
	})
	if err != nil {
		logger.Fatalf("setup soundcloud client: %v", err)
	}

	var (
		archive  storage.Service
		archiver ingest.Archiver
	)
	if cfg.ArchiveEnabled() {
		s3svc, err := buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
		archive, archiver = s3svc, s3svc
	} else {
		logger.Info("storage bucket not configured, snapshot archiving disabled")
	}

	orchestrator := ingest.NewOrchestrator(ingest.Config{
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
		Logger:        logger,
		Metrics:       m,
	}, userRepo, libraryRepo, client, hub, archiver)
	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatalf("start orchestrator: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(apphttp.Deps{
		Users:          userService,
		Library:        libraryService,
		Ingester:       orchestrator,
		Hub:            hub,
		Archive:        archive,
		Logger:         logger,
		Metrics:        m,
		SessionSecret:  []byte(cfg.Auth.SessionSecret),
		SessionTTL:     time.Duration(cfg.Auth.SessionTTLHours) * time.Hour,
		CookieSecure:   cfg.Auth.CookieSecure,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	// open progress streams never finish on their own
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	orchestrator.Shutdown(shutdownCtx)

	logger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*storage.S3Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving snapshots to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix)
}
