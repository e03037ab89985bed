package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danielcroft/chatline/internal/config"
	"github.com/danielcroft/chatline/internal/server"
	"github.com/danielcroft/chatline/internal/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	opts := []server.Option{
		server.WithMaxConns(cfg.MaxConns),
		server.WithRateLimit(cfg.RegisterLimit, cfg.RegisterWindow.Std()),
	}

	switch {
	case cfg.SQLitePath != "":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open SQLite at %s: %v", cfg.SQLitePath, err)
		}
		defer db.Close()
		log.Printf("Using SQLite store at %s", cfg.SQLitePath)
		opts = append(opts, server.WithSQLite(db))

	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		log.Printf("Connected to Redis at %s", cfg.RedisAddr)
		opts = append(opts, server.WithRedis(rdb))

	default:
		log.Printf("No store configured, using in-memory backends")
	}

	srv := server.New(cfg.ListenAddr, opts...)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Printf("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Starting chatline server on %s", cfg.ListenAddr)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
