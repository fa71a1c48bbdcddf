package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/cartlabs/storefront/internal/cart"
	"github.com/cartlabs/storefront/internal/catalog"
	"github.com/cartlabs/storefront/internal/checkout"
	"github.com/cartlabs/storefront/internal/config"
	"github.com/cartlabs/storefront/internal/events"
	"github.com/cartlabs/storefront/internal/httpx"
	kafkax "github.com/cartlabs/storefront/internal/kafka"
	"github.com/cartlabs/storefront/internal/orders"
	"github.com/cartlabs/storefront/internal/payments"
	"github.com/cartlabs/storefront/internal/postgres"
	"github.com/cartlabs/storefront/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrderConfirmed, 1024)
	prod.Start(ctx)

	// Stores & services
	orderRepo := &orders.Repo{DB: db}
	catalogRepo := &catalog.Repo{DB: db}
	cartRepo := &cart.Repo{DB: db, Catalog: catalogRepo}
	cache := &redisx.CheckoutCache{R: rdb}
	svc := &checkout.Service{
		Gateway:  payments.NewStripe(cfg.StripeSecretKey),
		Ledger:   &checkout.SQLLedger{DB: db, Orders: orderRepo},
		Carts:    cartRepo,
		Cache:    cache,
		Producer: prod,
		Policy: checkout.Policy{
			TaxRate:               cfg.TaxRate,
			FreeShippingThreshold: cfg.FreeShippingThreshold,
			ShippingFlatFee:       cfg.ShippingFlatFee,
		},
		Currency:    cfg.Currency,
		ServiceName: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	router.Route("/api", func(api chi.Router) {
		api.Use(httpx.AuthMiddleware(cfg.JWTSecret))
		(&httpx.CheckoutHandler{Service: svc, Gateway: svc.Gateway, Currency: cfg.Currency}).Register(api)
		(&httpx.CartHandler{Carts: cartRepo}).Register(api)
		(&httpx.OrdersHandler{Orders: orderRepo, Cache: cache}).Register(api)
	})

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
