package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cartlabs/storefront/internal/catalog"
	"github.com/cartlabs/storefront/internal/config"
	"github.com/cartlabs/storefront/internal/events"
	kafkax "github.com/cartlabs/storefront/internal/kafka"
	"github.com/cartlabs/storefront/internal/notify"
	"github.com/cartlabs/storefront/internal/orders"
	"github.com/cartlabs/storefront/internal/postgres"
	"github.com/cartlabs/storefront/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Service
	svc := &notify.Service{
		Orders:      &orders.Repo{DB: db},
		Catalog:     &catalog.Repo{DB: db},
		Cache:       &redisx.CheckoutCache{R: rdb},
		ServiceName: cfg.ServiceName + "-notifier",
	}

	// Consumer
	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, events.TopicOrderConfirmed, workers)

	go func() {
		log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, events.TopicOrderConfirmed, workers)
		if err := cons.Start(ctx, svc.HandleOrderConfirmed); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
