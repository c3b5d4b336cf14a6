package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/edulink/profile-cache/internal/api"
	"github.com/edulink/profile-cache/internal/cache"
	"github.com/edulink/profile-cache/internal/config"
	"github.com/edulink/profile-cache/internal/repository/postgres"
	"github.com/edulink/profile-cache/internal/tracker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := postgres.NewRepo(db)
	c := cache.New(repo, cfg.Cache.ForwardWindow())

	// Block startup on the first load; readiness depends on it anyway.
	if err := c.LoadWithRetry(ctx); err != nil {
		log.Fatalf("initial load: %v", err)
	}

	sub := cache.NewSubscriber(cfg.Database.URL, c)
	if err := sub.Start(ctx); err != nil {
		log.Fatalf("subscriber: %v", err)
	}

	c.StartCleaner(ctx, cfg.Cache.CleanupStartupDelay(), cfg.Cache.CleanupInterval())

	registry := tracker.NewRegistry(repo, cfg.Tracker)
	go registry.Run(ctx)

	srv := api.NewServer(api.NewHandlers(c, registry, db))

	go func() {
		log.Printf("profile cache listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	// Stop the subscriber, cleaner, and tracker tickers first, then flush
	// any ended session aggregates before the pool closes.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	registry.Flush(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
