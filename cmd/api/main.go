package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"rewardengine/internal/bootstrap"
	"rewardengine/internal/handlers"
	"rewardengine/internal/messaging"
	"rewardengine/internal/middleware"
	"rewardengine/internal/routes"
	"rewardengine/pkg/cache"
	"rewardengine/pkg/config"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.New(ctx, settings)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer engine.Close()

	clock := clockwork.NewRealClock()
	hub := handlers.NewFundPoolHub(settings.AllowedOrigins)
	engine.Notifier.Subscribe(hub)

	var balances cache.BalanceReader = engine.Ledger
	if engine.Redis != nil {
		balanceCache := cache.NewBalanceCache(engine.Redis, engine.Ledger, 0)
		engine.Notifier.Subscribe(balanceCache)
		balances = balanceCache
	}

	// settlements committed by the worker reach the hub and cache through the exchange
	if engine.AMQP != nil {
		events, err := config.NewBroadcastConsumer(engine.AMQP, config.ExchangeLedgerEvents)
		if err != nil {
			log.Fatalf("Failed to bind ledger event consumer: %v", err)
		}
		defer events.Close()
		relay := messaging.NewLedgerEventRelay(engine.Notifier, engine.InstanceID)
		go func() {
			if err := events.Consume(ctx, relay.Handle); err != nil {
				log.WithError(err).Error("Ledger event consumer stopped")
			}
		}()
	}

	r := routes.SetupRouter(routes.Deps{
		Settlement:     handlers.NewSettlementHandler(engine.Settlement, engine.Auto, clock),
		FundPool:       handlers.NewFundPoolHandler(engine.Ledger, balances, clock),
		Activity:       handlers.NewActivityHandler(engine.Store),
		Hub:            hub,
		AllowedOrigins: settings.AllowedOrigins,
		ExecuteLimit: middleware.RateLimiterConfig{
			RequestsPerSecond: settings.ExecuteRateLimit,
			Burst:             settings.ExecuteBurst,
		},
	})

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("API listening on :%s", settings.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}
