package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/altrentals/deedgate/internal/auth"
	"github.com/altrentals/deedgate/internal/casstore"
	"github.com/altrentals/deedgate/internal/config"
	"github.com/altrentals/deedgate/internal/database"
	"github.com/altrentals/deedgate/internal/gateway"
	"github.com/altrentals/deedgate/internal/privstore"
	"github.com/altrentals/deedgate/internal/queue"
	"github.com/altrentals/deedgate/internal/repository"
	"github.com/altrentals/deedgate/internal/signing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	records := repository.NewFileRepository(pool)

	private, err := privstore.New(cfg)
	if err != nil {
		log.Fatalf("init private store: %v", err)
	}
	if err := private.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure private bucket: %v", err)
	}
	public, err := casstore.New(cfg)
	if err != nil {
		log.Fatalf("init public store: %v", err)
	}
	if err := public.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure public bucket: %v", err)
	}

	tasks := queue.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer tasks.Close()

	verifier := auth.NewVerifier(cfg.TokenSecret)
	signer := signing.NewSigner(cfg.TokenSecret)

	srv := gateway.New(cfg, verifier, signer, records, private, public, tasks)
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
