package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"reel-pipeline/internal/api"
	"reel-pipeline/internal/config"
	"reel-pipeline/internal/push"
	"reel-pipeline/internal/ratelimit"
	"reel-pipeline/internal/relay"
	"reel-pipeline/internal/store"
	"reel-pipeline/internal/watch"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	dispatcher := push.NewDispatcher(cfg.PushGatewayURL, cfg.PushTimeout)
	watcher := watch.New(dispatcher, watch.NewRedisDeduper(redisClient, cfg.DedupeTTL))
	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	go func() {
		if err := relay.New(st.Pool(), watcher, cfg.NotifyChannel).Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("relay stopped: %v", err)
		}
	}()

	server := api.New(cfg, st, watcher, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
