package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/helsenia/lunasync/internal/api"
	"github.com/helsenia/lunasync/internal/async"
	"github.com/helsenia/lunasync/internal/chatlist"
	"github.com/helsenia/lunasync/internal/enrich"
	"github.com/helsenia/lunasync/internal/models"
	"github.com/helsenia/lunasync/internal/stage"
	"github.com/helsenia/lunasync/internal/storage"
	"github.com/helsenia/lunasync/pkg/config"
)

// consoleListener prints the synchronized view as it settles. It is the
// reference surface; real frontends implement chatlist.Listener themselves.
type consoleListener struct {
	chatlist.NopListener
}

func (consoleListener) ChatHydrated(h models.Hydration) {
	fmt.Printf("%-8s  %-24s  %s\n", h.TimeLabel, h.Name, h.Preview)
}

func (consoleListener) StageCountsChanged(counts map[stage.Stage]int) {
	fmt.Printf("stages: contatos=%d lead=%d lead_quente=%d\n",
		counts[stage.StageContact], counts[stage.StageLead], counts[stage.StageHotLead])
}

func (consoleListener) StreamFailed(err error) {
	fmt.Fprintf(os.Stderr, "stream failed: %v\n", err)
}

func newCache(cfg *config.Config, logger *zap.Logger) (storage.Cache, error) {
	switch cfg.Cache.Backend {
	case "postgres":
		return storage.NewPostgresCache(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
	case "redis":
		return storage.NewRedisCache(storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
	default:
		return storage.NewMemoryCache(), nil
	}
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting lunasync")

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	cache, err := newCache(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer cache.Close()
	logger.Info("Cache initialized", zap.String("backend", cfg.Cache.Backend))

	client := api.NewClient(cfg.Backend.URL, cfg.Backend.Token, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stages := stage.NewStore()
	batcher := stage.NewBatcher(stages, client, logger)
	hydrator := enrich.NewHydrator(client, cache, logger)
	queue := async.NewQueue(ctx, logger)

	engine := chatlist.NewEngine(client, batcher, stages, hydrator, queue, consoleListener{}, logger)

	if err := engine.LoadChats(ctx); err != nil {
		logger.Fatal("Failed to load chats", zap.Error(err))
	}
	queue.Wait()

	for _, chat := range engine.ChatsByRecency() {
		logger.Debug("Chat synchronized", zap.String("chat_id", chat.ID))
	}
	logger.Info("Sync complete", zap.Int("chats", len(engine.Chats())))
}
