package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"rewardengine/internal/bootstrap"
	"rewardengine/internal/messaging"
	"rewardengine/pkg/config"
	"rewardengine/pkg/utils"

	logrus "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const creditRetryInterval = 10 * time.Minute

func main() {
	// Initialize logger
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	settings, err := config.LoadSettings()
	if err != nil {
		logrus.Fatal("Failed to load settings: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.New(ctx, settings)
	if err != nil {
		logrus.Fatal("Failed to initialize engine: ", err)
	}
	defer engine.Close()

	if err := engine.Auto.Start(); err != nil {
		logrus.Fatal("Failed to start auto settlement: ", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		engine.Auto.Stop(stopCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	if engine.AMQP != nil {
		msgConsumer, err := config.NewConsumer(engine.AMQP, config.QueueSettlementCommands)
		if err != nil {
			logrus.Fatal("Failed to create consumer: ", err)
		}
		defer msgConsumer.Close()

		commands := messaging.NewCommandHandler(engine.Settlement, engine.Auto)
		g.Go(func() error {
			return msgConsumer.Consume(gctx, commands.Handle)
		})
	} else {
		logrus.Info("RabbitMQ not configured, settlement command queue disabled")
	}

	// Pending wallet credits are retried in the background.
	g.Go(func() error {
		ticker := time.NewTicker(creditRetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := engine.Settlement.RetryFailedCredits(gctx, ""); err != nil {
					logrus.WithError(err).Warn("Wallet credit retry failed")
				}
			}
		}
	})

	if settings.OCoinPriceURL != "" {
		prices := utils.NewPriceClient(settings.OCoinPriceURL, 10*time.Second)
		g.Go(func() error {
			ticker := time.NewTicker(settings.OCoinPriceInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					price, cached, err := prices.GetPrice(gctx)
					if err != nil {
						logrus.WithError(err).Warn("O-Coin price fetch failed")
						continue
					}
					if cached {
						continue
					}
					if err := engine.Ledger.RecordOCoinPrice(gctx, price); err != nil {
						logrus.WithError(err).Warn("O-Coin price record failed")
					}
				}
			}
		})
	}

	logrus.Info("Settlement worker started")
	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Settlement worker stopped with error")
		return
	}
	logrus.Info("Settlement worker stopped")
}
