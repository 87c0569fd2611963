package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/internal/core/services"
	httphandlers "liveclass/internal/handlers/http"
	"liveclass/internal/infrastructure/distributed"
	"liveclass/internal/infrastructure/middleware"
	"liveclass/internal/infrastructure/monitoring"
	"liveclass/internal/infrastructure/repositories"
	"liveclass/internal/infrastructure/signal"
	"liveclass/internal/infrastructure/storage"
	"liveclass/pkg/config"
	"liveclass/pkg/logger"
	"liveclass/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	webrtc "github.com/pion/webrtc/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/liveclass/config.yaml",
	"config.yaml",
}

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "path to config file",
		EnvVars: []string{"LIVECLASS_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "overrides logging.level",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "debug logging with the console encoder",
	},
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "liveclass-coordinator",
		Usage:  "live classroom session coordinator",
		Flags:  baseFlags,
		Action: runServer,
		Commands: []*cli.Command{
			{
				Name:   "token",
				Usage:  "issue an access token for development use",
				Action: createToken,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "user id", Required: true},
					&cli.StringFlag{Name: "name", Usage: "display name"},
					&cli.StringFlag{Name: "role", Usage: "instructor, student or admin", Value: string(domain.UserRoleStudent)},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, string, error) {
	path := c.String("config")
	if path == "" {
		for _, candidate := range configPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	// Without a file Load still applies defaults and the environment.
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if c.Bool("dev") {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
	}
	return cfg, path, nil
}

func createToken(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.SessionTokenTTL)

	userID := domain.UserID(c.String("user"))
	name := c.String("name")
	if name == "" {
		name = string(userID)
	}
	token, err := auth.GenerateToken(userID, name, domain.UserRole(c.String("role")))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runServer(c *cli.Context) error {
	cfg, path, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	zl, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer zl.Sync()
	log := zl.Sugar()
	if path != "" {
		log.Infow("loaded config", "path", path)
	} else {
		log.Info("no config file found, using defaults")
	}

	instanceID := uuid.NewString()
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "liveclass-coordinator",
		InstanceID:  instanceID,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warnw("failed to shut down tracer", "error", err)
		}
	}()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create repositories: %w", err)
	}
	defer repoFactory.Close()
	streamRepo := repoFactory.CreateStreamRepository()

	blobs, err := storage.NewFileStore(cfg.Recording.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to open recording storage: %w", err)
	}

	var metrics ports.CoordinatorMetrics = services.NoopMetrics{}
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
		metrics = collector
	}

	var events ports.EventPublisher = services.NoopEventPublisher{}
	var bus *distributed.EventBus
	if client := repoFactory.RedisClient(); client != nil {
		bus = distributed.NewEventBus(client, instanceID, cfg.Redis.Channel, log)
		events = bus
	}

	recordingCfg := services.DefaultRecordingConfig()
	recordingCfg.FileExtension = cfg.Recording.FileExtension
	recordingCfg.Workers = cfg.Recording.Workers
	recordingCfg.Retry.MaxAttempts = cfg.Recording.RetryAttempts
	recordings := services.NewRecordingOrchestrator(repoFactory.CreateRecordingRepository(), blobs, recordingCfg, metrics, log)

	heartbeats := services.NewHeartbeatMonitor(cfg.Session.HeartbeatInterval, cfg.Session.HeartbeatTimeout, log)
	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.SessionTokenTTL)
	hub := signal.NewHub(log)

	coord, err := services.NewCoordinator(streamRepo, recordings, heartbeats, hub, events, auth, metrics,
		services.CoordinatorConfig{
			DefaultCapacity:   cfg.Session.DefaultCapacity,
			SampleRetention:   cfg.Session.SampleRetention,
			DepartedCacheSize: cfg.Session.DepartedCacheSize,
			StatsPersistDelay: cfg.Session.StatsPersistDelay,
		}, log)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	if client := repoFactory.RedisClient(); client != nil {
		coord.UseLocker(distributed.NewLockManager(client, "liveclass:lock:", 10*time.Second, log))
	}

	health := monitoring.NewHealthChecker()
	health.AddRepositoryCheck(streamRepo, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	signalServer := signal.NewServer(coord, auth, hub, signal.ConfigFrom(cfg), log)
	router := newRouter(cfg, log, zl, coord, auth, signalServer, health, collector)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("starting coordinator",
			"address", cfg.Server.Address,
			"instance_id", instanceID,
			"storage", repoFactory.Backend(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return heartbeats.Run(gctx)
	})
	if bus != nil {
		g.Go(func() error {
			return bus.Subscribe(gctx, func(event *domain.StreamEvent) error {
				log.Debugw("remote stream event",
					"type", event.Type,
					"stream_id", event.StreamID,
					"participant_id", event.ParticipantID,
				)
				return nil
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down coordinator")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		hub.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	heartbeats.Stop()
	coord.Close()
	recordings.Close()
	if err != nil {
		log.Errorw("coordinator stopped with error", "error", err)
		return err
	}
	log.Info("coordinator stopped")
	return nil
}

func newRouter(
	cfg *config.Config,
	log *zap.SugaredLogger,
	zl *zap.Logger,
	coord *services.Coordinator,
	auth services.AuthService,
	signalServer *signal.Server,
	health *monitoring.HealthChecker,
	collector *monitoring.PrometheusCollector,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	cl := logger.NewContextLogger(zl)

	router := gin.New()
	router.Use(
		middleware.RequestLogger(cl),
		middleware.RecoveryMiddleware(cl),
		middleware.ErrorHandlerMiddleware(cl),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	started := time.Now()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if collector != nil {
		router.GET("/metrics", gin.WrapH(collector.Handler()))
	}
	router.GET("/ws", gin.WrapF(signalServer.HandleWebSocket))

	api := router.Group("/api/v1", middleware.AuthMiddleware(auth))
	httphandlers.NewStreamHandler(coord, iceServers(cfg), log).SetupRoutes(api)

	return router
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: []string{"stun:stun.l.google.com:19302"}})
	}
	return servers
}
