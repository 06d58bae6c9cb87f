package bootstrap

import (
	"context"
	"fmt"

	"rewardengine/internal/handlers/business"
	"rewardengine/internal/messaging"
	"rewardengine/internal/repository"
	"rewardengine/pkg/config"
	"rewardengine/schedule"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Engine is the wired settlement engine shared by the api and worker binaries.
type Engine struct {
	// InstanceID tags ledger events broadcast by this process.
	InstanceID string
	Settings   *config.Settings
	Store      repository.Store
	Notifier   *business.Notifier
	Ledger     *business.FundPoolLedger
	Settlement *business.SettlementEngine
	Auto       *schedule.AutoSettler
	Redis      *redis.Client
	AMQP       *amqp.Connection
	Publisher  *config.Publisher

	closers []func() error
}

// New connects storage and optional brokers, seeds the ledger genesis and
// wires the engine.
func New(ctx context.Context, settings *config.Settings) (*Engine, error) {
	e := &Engine{InstanceID: uuid.NewString(), Settings: settings}

	switch settings.Storage {
	case config.StorageMemory:
		e.Store = repository.NewMemoryStore()
		log.Warn("Using in-memory storage; state is lost on exit")
	default:
		db, err := config.InitDB()
		if err != nil {
			return nil, err
		}
		e.Store = repository.NewGormRepository(db)
		if sqlDB, err := db.DB(); err == nil {
			e.closers = append(e.closers, sqlDB.Close)
		}
	}

	var wallet business.WalletSink = business.LogWalletSink{Logger: log.WithField("module", "wallet_sink")}
	if settings.RabbitMQHost != "" {
		conn, err := config.InitRabbitMQ(ctx)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.AMQP = conn
		e.closers = append(e.closers, conn.Close)

		pub, err := config.NewPublisher(conn)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Publisher = pub
		e.closers = append(e.closers, pub.Close)
		wallet = messaging.NewWalletCreditSink(pub)
	} else {
		log.Info("RabbitMQ not configured, wallet credits are only logged")
	}

	if settings.RedisURL != "" {
		rdb, err := config.InitRedis(ctx, settings.RedisURL)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Redis = rdb
		e.closers = append(e.closers, rdb.Close)
	}

	e.Notifier = business.NewNotifier(log.WithField("module", "ledger_notifier"))
	if e.Publisher != nil {
		e.Notifier.Subscribe(messaging.NewLedgerEventPublisher(e.Publisher, e.InstanceID))
	}

	e.Ledger = business.NewFundPoolLedger(e.Store, e.Notifier,
		business.WithLedgerLocation(settings.Location),
		business.WithLedgerLogger(log.NewEntry(log.StandardLogger())),
	)
	if _, err := e.Ledger.Seed(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("seed ledger: %w", err)
	}

	e.Settlement = business.NewSettlementEngine(
		e.Store,
		e.Ledger,
		business.NewRepositoryActivitySource(e.Store),
		business.NewLedgerIncomeSource(e.Store, settings.Location),
		wallet,
		business.WithSettlementParams(business.SettlementParams{
			PoolRatio:         settings.PoolRatio,
			ProcessingTimeout: settings.ProcessingTimeout,
			Location:          settings.Location,
		}),
		business.WithDistributionPolicy(business.DistributionPolicy{
			MinUnit:   settings.MinUnit,
			Precision: business.CurrencyPrecision,
		}),
	)
	e.Auto = schedule.NewAutoSettler(e.Settlement, schedule.WithSpec(settings.SettlementCron))
	return e, nil
}

// Close releases connections in reverse order of acquisition.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.WithError(err).Warn("Close failed")
		}
	}
	e.closers = nil
}
