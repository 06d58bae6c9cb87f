package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rewardengine/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store used for local runs (STORAGE=memory) and tests.
type MemoryStore struct {
	mu          sync.Mutex
	settlements map[string]models.DailySettlement
	records     map[string][]models.DistributionRecord
	credits     map[string]models.WalletCredit
	creditOrder []string
	txs         []models.FundPoolTransaction
	balances    models.Balances
	stats       map[models.Currency]models.CoinStats
	holders     map[string]struct{}
	activities  map[string]models.UserActivity
	nextID      uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settlements: make(map[string]models.DailySettlement),
		records:     make(map[string][]models.DistributionRecord),
		credits:     make(map[string]models.WalletCredit),
		stats:       make(map[models.Currency]models.CoinStats),
		holders:     make(map[string]struct{}),
		activities:  make(map[string]models.UserActivity),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) GetSettlement(_ context.Context, date string) (*models.DailySettlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[date]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSettlementNotFound, date)
	}
	return &s, nil
}

func (m *MemoryStore) CreateSettlement(_ context.Context, s *models.DailySettlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settlements[s.Date]; ok {
		return fmt.Errorf("%w: %s", models.ErrDuplicateSettlement, s.Date)
	}
	m.nextID++
	s.ID = m.nextID
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.settlements[s.Date] = *s
	return nil
}

func (m *MemoryStore) PromoteSettlement(_ context.Context, date string, income, pool decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[date]
	if !ok {
		return false, fmt.Errorf("%w: %s", models.ErrSettlementNotFound, date)
	}
	if s.Status != models.SettlementStatusInsufficientIncome {
		return false, nil
	}
	s.Status = models.SettlementStatusReady
	s.PlatformNetIncome = income
	s.DistributionPool = pool
	s.UpdatedAt = time.Now()
	m.settlements[date] = s
	return true, nil
}

func (m *MemoryStore) TransitionSettlement(_ context.Context, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[t.Date]
	if !ok {
		return false, fmt.Errorf("%w: %s", models.ErrSettlementNotFound, t.Date)
	}
	if !statusIn(s.Status, t.From) {
		return false, nil
	}
	if t.StartedBefore != nil && (s.ProcessingStartedAt == nil || !s.ProcessingStartedAt.Before(*t.StartedBefore)) {
		return false, nil
	}

	s.Status = t.To
	switch t.To {
	case models.SettlementStatusProcessing:
		at := t.At
		s.ProcessingStartedAt = &at
		s.Attempts++
		s.LastError = ""
	case models.SettlementStatusFailed:
		s.LastError = t.LastError
	}
	s.UpdatedAt = time.Now()
	m.settlements[t.Date] = s
	return true, nil
}

func (m *MemoryStore) ListSettlements(_ context.Context, limit int) ([]models.DailySettlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.DailySettlement, 0, len(m.settlements))
	for _, s := range m.settlements {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListDistributionRecords(_ context.Context, date string) ([]models.DistributionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.DistributionRecord(nil), m.records[date]...), nil
}

func (m *MemoryStore) ListPendingCredits(_ context.Context, date string) ([]models.WalletCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.WalletCredit
	for _, id := range m.creditOrder {
		c := m.credits[id]
		if c.Status != models.WalletCreditPending {
			continue
		}
		if date != "" && c.SettlementDate != date {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) MarkCreditDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credits[id]
	if !ok {
		return fmt.Errorf("wallet credit %s not found", id)
	}
	c.Status = models.WalletCreditDelivered
	c.Attempts++
	c.LastError = ""
	c.DeliveredAt = &at
	m.credits[id] = c
	return nil
}

func (m *MemoryStore) MarkCreditFailed(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credits[id]
	if !ok {
		return fmt.Errorf("wallet credit %s not found", id)
	}
	c.Attempts++
	c.LastError = reason
	m.credits[id] = c
	return nil
}

func (m *MemoryStore) AppendTransactions(_ context.Context, txs []models.FundPoolTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := ApplyTransactions(m.balances, txs)
	if err != nil {
		return err
	}
	stats := make(map[models.Currency]models.CoinStats)
	for coin, delta := range CirculationDeltas(txs) {
		if delta.IsZero() {
			continue
		}
		c := models.Currency(coin)
		current, ok := m.stats[c]
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrCoinStatsNotFound, c)
		}
		updated, err := ApplyCirculation(current, delta)
		if err != nil {
			return err
		}
		updated.UpdatedAt = time.Now()
		stats[c] = updated
	}

	m.balances = next
	m.txs = append(m.txs, txs...)
	for c, s := range stats {
		m.stats[c] = s
	}
	return nil
}

func (m *MemoryStore) CommitSettlement(_ context.Context, c SettlementCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[c.Date]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSettlementNotFound, c.Date)
	}
	if s.Status != models.SettlementStatusProcessing {
		return fmt.Errorf("%w: %s is %s", models.ErrSettlementStateChanged, c.Date, s.Status)
	}

	next, err := ApplyTransactions(m.balances, c.Transactions)
	if err != nil {
		return err
	}

	var stats models.CoinStats
	if c.Distributed.IsPositive() {
		var ok bool
		stats, ok = m.stats[c.Coin]
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrCoinStatsNotFound, c.Coin)
		}
		stats.CirculatingSupply = stats.CirculatingSupply.Add(c.Distributed)
		if stats.CirculatingSupply.GreaterThan(stats.TotalSupply) {
			return fmt.Errorf("%w: %s", models.ErrSupplyExceeded, c.Coin)
		}
		stats.TotalDistributed = stats.TotalDistributed.Add(c.Distributed)
		for _, r := range c.Records {
			if !r.AmountDistributed.IsPositive() {
				continue
			}
			if _, seen := m.holders[r.UserID]; !seen {
				stats.HoldersCount++
			}
		}
		stats.UpdatedAt = c.ExecutedAt
	}

	// nothing below can fail
	m.balances = next
	m.txs = append(m.txs, c.Transactions...)
	if c.Distributed.IsPositive() {
		m.stats[c.Coin] = stats
	}
	for _, r := range c.Records {
		m.nextID++
		r.ID = m.nextID
		r.CreatedAt = c.ExecutedAt
		m.records[c.Date] = append(m.records[c.Date], r)
		if r.AmountDistributed.IsPositive() {
			m.holders[r.UserID] = struct{}{}
		}
	}
	for _, credit := range c.Credits {
		credit.CreatedAt = c.ExecutedAt
		m.credits[credit.ID] = credit
		m.creditOrder = append(m.creditOrder, credit.ID)
	}
	executedAt := c.ExecutedAt
	s.Status = models.SettlementStatusCompleted
	s.ExecutedAt = &executedAt
	s.DistributedAmount = c.Distributed
	s.RecipientsCount = c.RecipientsCount
	s.TotalNetworkContributionScore = c.TotalScore
	s.ActiveUserCount = c.ActiveUserCount
	s.LastError = ""
	s.UpdatedAt = executedAt
	m.settlements[c.Date] = s
	return nil
}

func (m *MemoryStore) SeedGenesis(_ context.Context, txs []models.FundPoolTransaction, stats []models.CoinStats) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range m.txs {
		if tx.Category == models.CategoryGenesis {
			return false, nil
		}
	}
	next, err := ApplyTransactions(m.balances, txs)
	if err != nil {
		return false, err
	}
	m.balances = next
	m.txs = append(m.txs, txs...)
	for _, s := range stats {
		if _, ok := m.stats[s.Coin]; !ok {
			m.stats[s.Coin] = s
		}
	}
	return true, nil
}

func (m *MemoryStore) GetBalances(_ context.Context) (models.Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balances, nil
}

func (m *MemoryStore) SumTransactions(_ context.Context) (models.Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sums models.Balances
	for _, tx := range m.txs {
		sums[tx.Currency] = sums[tx.Currency].Add(tx.Signed())
	}
	return sums, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, filter TransactionFilter) ([]models.FundPoolTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.FundPoolTransaction
	for _, tx := range m.txs {
		if filter.match(tx) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetCoinStats(_ context.Context, coin models.Currency) (*models.CoinStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[coin]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrCoinStatsNotFound, coin)
	}
	return &s, nil
}

func (m *MemoryStore) UpdateCoinPrice(_ context.Context, coin models.Currency, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[coin]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrCoinStatsNotFound, coin)
	}
	s.LastPrice = price
	s.UpdatedAt = time.Now()
	m.stats[coin] = s
	return nil
}

func (m *MemoryStore) RecordActivity(_ context.Context, a models.UserActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.UserID + "|" + a.ActivityDate
	existing, ok := m.activities[key]
	if !ok {
		m.nextID++
		a.ID = m.nextID
		a.CreatedAt = time.Now()
		a.UpdatedAt = a.CreatedAt
		m.activities[key] = a
		return nil
	}
	existing.GameCoinsEarned = existing.GameCoinsEarned.Add(a.GameCoinsEarned)
	existing.ComputingPowerEarned = existing.ComputingPowerEarned.Add(a.ComputingPowerEarned)
	existing.TransactionVolume = existing.TransactionVolume.Add(a.TransactionVolume)
	existing.UpdatedAt = time.Now()
	m.activities[key] = existing
	return nil
}

func (m *MemoryStore) ListActivities(_ context.Context, date string) ([]models.UserActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.UserActivity
	for _, a := range m.activities {
		if a.ActivityDate == date {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
