package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/mediaforge/internal/archive"
	"github.com/makeasinger/mediaforge/internal/config"
	"github.com/makeasinger/mediaforge/internal/handler"
	"github.com/makeasinger/mediaforge/internal/job"
	"github.com/makeasinger/mediaforge/internal/logging"
	"github.com/makeasinger/mediaforge/internal/middleware"
	"github.com/makeasinger/mediaforge/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Base().Fatal().Err(err).Msg("failed to load config")
	}

	logging.Configure(logging.Config{Level: cfg.Log.Level})
	log := logging.WithComponent("main")

	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		log.Fatal().Err(err).Str("work_root", cfg.WorkRoot).Msg("failed to create work root")
	}

	backend := job.NewMemoryBackend(cfg.Job.QueueCap)

	var archiver *archive.Store
	if cfg.Archive.Enabled {
		archiver, err = archive.New(context.Background(), archive.Config{
			Enabled:         cfg.Archive.Enabled,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			Bucket:          cfg.Archive.Bucket,
			PublicURL:       cfg.Archive.PublicURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure artifact archiver")
		}
	}

	manager := job.NewManager(job.Config{
		Workers:        cfg.Worker.Count,
		QueueCap:       cfg.Job.QueueCap,
		WorkRoot:       cfg.WorkRoot,
		JobTimeout:     cfg.Job.Timeout,
		FFmpegPath:     cfg.FFmpeg.Path,
		ProbePath:      cfg.FFmpeg.ProbePath,
		ThreadHint:     cfg.FFmpeg.ThreadHint,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		RetentionGrace: 2 * time.Minute,
		Archiver:       archiver,
	}, backend)

	if err := manager.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start job manager")
	}
	defer manager.Stop()

	sweeper := job.NewSweeper(cfg.WorkRoot, cfg.Cleanup.Interval, cfg.Cleanup.MaxAge)
	go sweeper.Run()
	defer sweeper.Stop()

	var ipCapRedis *redis.Client
	if cfg.Redis.Enabled {
		ipCapRedis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	hub := session.NewHub(cfg.WS.MaxConns, cfg.WS.MaxConnsPerIP, ipCapRedis)
	gate := middleware.NewWSGate(cfg.Auth.APIKey)
	wsHandler := handler.NewWSHandler(manager, hub, gate)
	healthHandler := handler.NewHealthHandler(manager)

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    int(cfg.WS.FrameSizeCap),
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET",
	}))

	app.Get("/healthz", healthHandler.Healthz)

	app.Use("/ws", wsHandler.Upgrade)
	app.Get("/ws", websocket.New(wsHandler.Handle))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		hub.CloseAll()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
