package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"rewardengine/internal/handlers/business"
	"rewardengine/internal/models"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	balanceKey        = "fund_pool:balance"
	balanceGenKey     = "fund_pool:balance:gen"
	defaultBalanceTTL = 30 * time.Second
)

// snapshot is stored under balanceKey. It is only served while Generation
// matches balanceGenKey, so a snapshot loaded before a ledger change and
// written after it is never read.
type snapshot struct {
	Generation int64                   `json:"generation"`
	Balance    *models.FundPoolBalance `json:"balance"`
}

// BalanceReader reads the live fund pool balance.
type BalanceReader interface {
	GetPublicFundPoolBalance(ctx context.Context) (*models.FundPoolBalance, error)
}

// BalanceCache keeps the public balance snapshot in redis. It subscribes to
// ledger events and drops the snapshot after every committed change.
type BalanceCache struct {
	rdb    *redis.Client
	next   BalanceReader
	ttl    time.Duration
	logger *log.Entry
}

func NewBalanceCache(rdb *redis.Client, next BalanceReader, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &BalanceCache{
		rdb:    rdb,
		next:   next,
		ttl:    ttl,
		logger: log.WithField("module", "balance_cache"),
	}
}

// GetPublicFundPoolBalance serves from redis and falls back to the ledger on
// a miss or any redis error.
func (c *BalanceCache) GetPublicFundPoolBalance(ctx context.Context) (*models.FundPoolBalance, error) {
	var gen int64
	cacheable := false
	vals, err := c.rdb.MGet(ctx, balanceGenKey, balanceKey).Result()
	if err != nil {
		c.logger.WithError(err).Warn("Balance cache read failed")
	} else if g, ok := parseGeneration(vals[0]); !ok {
		c.logger.WithField("generation", vals[0]).Warn("Ignoring invalid balance generation")
	} else {
		gen, cacheable = g, true
		if cached, ok := freshSnapshot(vals[1], gen); ok {
			return cached, nil
		}
	}

	balance, err := c.next.GetPublicFundPoolBalance(ctx)
	if err != nil {
		return nil, err
	}
	if !cacheable {
		return balance, nil
	}
	if payload, err := json.Marshal(snapshot{Generation: gen, Balance: balance}); err == nil {
		if err := c.rdb.Set(ctx, balanceKey, payload, c.ttl).Err(); err != nil {
			c.logger.WithError(err).Warn("Balance cache write failed")
		}
	}
	return balance, nil
}

// OnLedgerChange bumps the generation and drops the snapshot.
func (c *BalanceCache) OnLedgerChange(ctx context.Context, evt business.LedgerEvent) {
	ctx = context.WithoutCancel(ctx)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, balanceGenKey)
		pipe.Del(ctx, balanceKey)
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("event", evt.Type).Warn("Balance cache invalidation failed")
	}
}

// parseGeneration reads an MGET value; a missing counter is generation 0.
func parseGeneration(v interface{}) (int64, bool) {
	switch raw := v.(type) {
	case nil:
		return 0, true
	case string:
		gen, err := strconv.ParseInt(raw, 10, 64)
		return gen, err == nil
	default:
		return 0, false
	}
}

func freshSnapshot(v interface{}, gen int64) (*models.FundPoolBalance, bool) {
	raw, ok := v.(string)
	if !ok {
		return nil, false
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil || snap.Balance == nil {
		return nil, false
	}
	if snap.Generation != gen {
		return nil, false
	}
	return snap.Balance, true
}

var _ business.LedgerObserver = (*BalanceCache)(nil)
