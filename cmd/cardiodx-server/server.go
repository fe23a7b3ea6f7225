package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/config"
	"github.com/cardiodx/cardiodx/internal/domain/activity"
	"github.com/cardiodx/cardiodx/internal/domain/diagnosis"
	"github.com/cardiodx/cardiodx/internal/domain/document"
	"github.com/cardiodx/cardiodx/internal/domain/inbox"
	"github.com/cardiodx/cardiodx/internal/domain/mlmodel"
	"github.com/cardiodx/cardiodx/internal/domain/patient"
	"github.com/cardiodx/cardiodx/internal/domain/users"
	"github.com/cardiodx/cardiodx/internal/inference"
	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
	"github.com/cardiodx/cardiodx/internal/platform/cache"
	"github.com/cardiodx/cardiodx/internal/platform/db"
	"github.com/cardiodx/cardiodx/internal/platform/logging"
	"github.com/cardiodx/cardiodx/internal/platform/middleware"
	"github.com/cardiodx/cardiodx/internal/platform/notification"
	"github.com/cardiodx/cardiodx/internal/platform/telemetry"
)

// services holds every domain service, wired once per process.
type services struct {
	patients  *patient.Service
	diagnoses *diagnosis.Service
	models    *mlmodel.Service
	inbox     *inbox.Service
	documents *document.Service
	users     *users.Service
	activity  *activity.Service
}

// newServices wires repositories and services. llm may be nil; OCR
// clients are built only for configured endpoints.
func newServices(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger, c cache.Cache,
	blobs blobstore.BlobStore, mail *notification.Dispatcher, llm inference.Predictor) *services {
	tx := db.ConnTxRunner{}
	client := &http.Client{Timeout: cfg.InferenceTimeout}

	patientRepo := patient.NewPatientRepoPG(pool)
	patientSvc := patient.NewService(patientRepo, patient.NewNoteRepoPG(pool), patient.NewFileRepoPG(pool),
		blobs, cfg.PhoneRegion, logger)

	usersSvc := users.NewService(users.NewUserRepoPG(pool), users.NewInvitationRepoPG(pool), mail, tx, logger)
	usersSvc.SetPublicURL(cfg.PublicURL)

	inboxSvc := inbox.NewService(inbox.NewNotificationRepoPG(pool), mail, usersSvc, logger)

	modelSvc := mlmodel.NewService(mlmodel.NewModelRepoPG(pool), mlmodel.NewSettingRepoPG(pool),
		c, cfg.SettingsCache, blobs, inboxSvc, tx, logger)
	router := inference.NewRouter(modelSvc, llm, client)

	diagSvc := diagnosis.NewService(diagnosis.NewDiagnosisRepoPG(pool), diagnosis.NewTrainingRepoPG(pool),
		patientRepo, router, inboxSvc, tx, logger)
	diagSvc.SetPublicURL(cfg.PublicURL)

	var cloud, hybrid inference.Extractor
	if cfg.CloudOCREndpoint != "" {
		cloud = inference.NewCloudOCR(cfg.CloudOCREndpoint, cfg.CloudOCRAPIKey, client)
	}
	if cfg.HybridOCRURL != "" {
		hybrid = inference.NewHybridOCR(cfg.HybridOCRURL, client)
	}
	docSvc := document.NewService(patientRepo, diagSvc, modelSvc, cloud, hybrid, router, blobs, logger)

	activitySvc := activity.NewService(diagSvc, patientSvc, usersSvc, modelSvc, inboxSvc, logger)

	return &services{
		patients:  patientSvc,
		diagnoses: diagSvc,
		models:    modelSvc,
		inbox:     inboxSvc,
		documents: docSvc,
		users:     usersSvc,
		activity:  activitySvc,
	}
}

// serverDeps are the process-level resources the HTTP server needs.
type serverDeps struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	svc     *services
	limiter middleware.Limiter
	metrics http.Handler
}

func newEcho(d serverDeps) (*echo.Echo, error) {
	cfg, logger := d.cfg, d.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.ClinicHeader},
	}))
	e.Use(middleware.BodyLimit("2M", cfg.MaxUploadBytes()))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(d.pool))
	if d.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.metrics))
	}

	policy, err := auth.NewPolicy()
	if err != nil {
		return nil, err
	}

	api := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	api.Use(middleware.RateLimit(d.limiter, rl, logger))
	api.Use(db.ClinicMiddleware(d.pool, cfg.DefaultClinic))
	api.Use(middleware.Audit(logger, middleware.PGAuditRecorder{}))

	patient.NewHandler(d.svc.patients, policy).RegisterRoutes(api)
	diagnosis.NewHandler(d.svc.diagnoses, policy).RegisterRoutes(api)
	document.NewHandler(d.svc.documents, policy).RegisterRoutes(api)
	mlmodel.NewHandler(d.svc.models, policy).RegisterRoutes(api)
	inbox.NewHandler(d.svc.inbox, policy).RegisterRoutes(api)
	users.NewHandler(d.svc.users, policy).RegisterRoutes(api)
	activity.NewHandler(d.svc.activity, policy).RegisterRoutes(api)

	return e, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Dev:        cfg.IsDev(),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Service:    "cardiodx-server",
		Version:    version,
	})
	defer closer.Close()

	ctx := context.Background()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "cardiodx-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
		SamplingRate:   cfg.OTELSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if err := telemetry.RegisterPoolGauges(func() (int64, int64, int64) {
		s := pool.Stat()
		return int64(s.TotalConns()), int64(s.IdleConns()), int64(s.AcquiredConns())
	}); err != nil {
		logger.Warn().Err(err).Msg("pool gauges not registered")
	}

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	var (
		settingsCache cache.Cache = cache.NewMemory()
		limiter       middleware.Limiter
		redisClient   *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		settingsCache = cache.NewRedis(redisClient, "cardiodx:")
		limiter = middleware.NewRedisLimiter(redisClient, rl)
		logger.Info().Msg("using redis for settings cache and rate limits")
	} else {
		limiter = middleware.NewMemoryLimiter(rl)
	}

	var blobs blobstore.BlobStore
	if cfg.S3Bucket != "" {
		blobs, err = blobstore.NewS3BlobStore(ctx, blobstore.S3Config{
			Endpoint:   cfg.S3Endpoint,
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			PresignTTL: cfg.S3PresignTTL,
			MaxSize:    cfg.MaxUploadBytes(),
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure object storage")
		}
	} else {
		logger.Warn().Msg("S3_BUCKET not set, files are kept in memory")
		blobs = blobstore.NewInMemoryBlobStore(cfg.MaxUploadBytes(), cfg.PublicURL+"/files")
	}

	var mailer notification.Mailer
	if cfg.SMTPHost != "" {
		mailer = notification.NewSMTPMailer(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		mailer = notification.NewLogMailer(logger)
	}
	mail := notification.NewDispatcher(mailer, nil, logger, 128)

	var llm inference.Predictor
	if cfg.GeminiAPIKey != "" {
		g, err := inference.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create gemini client")
		}
		llm = g
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set, default LLM targets report no model active")
	}

	svc := newServices(pool, cfg, logger, settingsCache, blobs, mail, llm)
	e, err := newEcho(serverDeps{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		svc:     svc,
		limiter: limiter,
		metrics: tel.MetricsHandler(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if err := mail.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("mail queue not drained")
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown error")
	}
	return nil
}
