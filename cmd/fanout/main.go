// Command fanout relays grabber batch progress from Redis to websocket
// clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
)

func main() {
	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{TimeFormat: time.TimeOnly}))
	if err := run(log); err != nil {
		log.Error("fanout stopped", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisAddr := fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379"))
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       redisDB,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", redisAddr, err)
	}
	log.Info("redis connected", "addr", redisAddr)

	hub := NewHub(log)
	go hub.Run(ctx)

	subscriber := NewRedisSubscriber(redisClient, hub, log)
	subErr := make(chan error, 1)
	go func() { subErr <- subscriber.Run(ctx) }()

	var origins []string
	if v := getEnv("ALLOWED_ORIGINS", ""); v != "" {
		origins = strings.Split(v, ",")
	}
	server := NewServer(hub, origins, log)

	addr := ":" + getEnv("FANOUT_PORT", "8084")
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Routes(),
		// websocket connections are long-lived
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("fanout listening", "addr", addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case err := <-subErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down fanout")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
