package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/config"
	"pdv/backend/internal/httpapi"
	"pdv/backend/internal/service"
	"pdv/backend/internal/store"
	"pdv/backend/internal/store/memory"
	pgstore "pdv/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
		pg.SetOrderNumberPrefix(cfg.OrderNumberPrefix)
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		mem := memory.NewSeeded()
		mem.SetOrderNumberPrefix(cfg.OrderNumberPrefix)
		repo = mem
		log.Println("repository: in-memory")
	}

	opts := service.Options{
		StatsTTL:          time.Duration(cfg.StatsTTLSeconds) * time.Second,
		LowStockThreshold: cfg.LowStockThreshold,
	}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			if cfg.OrderNumberSource == config.OrderNumbersFromRedis {
				log.Fatalf("redis unavailable (%v) and ORDER_NUMBER_SOURCE=redis", err)
			}
			log.Printf("redis unavailable (%v), using noop cache", err)
			_ = client.Close()
		} else {
			opts.Cache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
			if cfg.OrderNumberSource == config.OrderNumbersFromRedis {
				opts.Numbers = cache.NewRedisOrderNumbers(client, cfg.OrderNumberPrefix)
				log.Println("order numbers: redis")
			}
		}
	} else {
		log.Println("cache: noop")
	}

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("PDV backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}
	log.Println("server stopped")
}

func validateConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	switch cfg.OrderNumberSource {
	case config.OrderNumbersFromDatabase:
	case config.OrderNumbersFromRedis:
		if cfg.RedisAddr == "" {
			return fmt.Errorf("ORDER_NUMBER_SOURCE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("ORDER_NUMBER_SOURCE must be %q or %q, got %q", config.OrderNumbersFromDatabase, config.OrderNumbersFromRedis, cfg.OrderNumberSource)
	}
	if cfg.OrderNumberPrefix == "" {
		return fmt.Errorf("ORDER_NUMBER_PREFIX must not be empty")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name the register UI origin, not *")
	}
	return nil
}
