package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/property-listings/internal/audit"
	"github.com/aman-churiwal/property-listings/internal/config"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/aman-churiwal/property-listings/internal/server"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slog.SetDefault(cfg.Logging.NewLogger(os.Stdout))

	db, err := storage.NewDatabase(cfg.Database.URL, cfg.Database.GormLogLevel())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.WaitReady(context.Background(), cfg.Database.WaitTimeout.Std(), cfg.Database.WaitInterval.Std()); err != nil {
		log.Fatalf("Database never became ready: %v", err)
	}
	if err := db.AutoMigrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redis, err := storage.NewRedis(storage.RedisOptions{
		Addr:         cfg.Redis.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout.Std(),
		ReadTimeout:  cfg.Redis.Timeout.Std(),
		WriteTimeout: cfg.Redis.Timeout.Std(),
	})
	if err != nil {
		// Health reports the cache as down and rate limiting follows its fail_open policy
		slog.Warn("Redis unavailable at startup", "addr", cfg.Redis.GetRedisAddr(), "error", err)
	} else {
		slog.Info("Connected to redis successfully", "addr", cfg.Redis.GetRedisAddr())
	}
	defer redis.Close()

	recorder := audit.NewRecorder(repository.NewSecurityEventRepository(db), audit.Config{
		BufferSize:      cfg.Security.AuditBufferSize,
		EventsPerSecond: cfg.Security.AuditEventsPerSec,
	})
	recorder.Start()

	srv, err := server.New(cfg, server.Deps{
		DB:       db,
		Redis:    redis,
		Recorder: recorder,
	})
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.StartJanitor(ctx, time.Minute)

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := recorder.Stop(shutdownCtx); err != nil {
		slog.Error("Security events not flushed", "error", err, "dropped", recorder.Dropped())
	}

	slog.Info("Server exited")
}
