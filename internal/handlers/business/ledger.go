package business

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rewardengine/internal/metrics"
	"rewardengine/internal/models"
	"rewardengine/internal/repository"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultTotalSupply is the fixed supply of both platform coins.
var DefaultTotalSupply = decimal.New(1_000_000_000, 0)

// PriceTable values one unit of each currency in cash.
type PriceTable [models.CurrencyCount]decimal.Decimal

// DefaultPriceTable values cash and A-Coin at par and everything else at zero
// until a quote is recorded.
func DefaultPriceTable() PriceTable {
	var p PriceTable
	for i := range p {
		p[i] = decimal.Zero
	}
	p[models.CurrencyCash] = decimal.NewFromInt(1)
	p[models.CurrencyACoins] = decimal.NewFromInt(1)
	return p
}

// TransactionInput is a ledger write request before it is assigned an id.
type TransactionInput struct {
	Type                 models.TransactionType `json:"type" binding:"required"`
	Category             string                 `json:"category" binding:"required"`
	Currency             models.Currency        `json:"currency"`
	Amount               decimal.Decimal        `json:"amount"`
	Source               string                 `json:"source"`
	RelatedTransactionID *string                `json:"related_transaction_id,omitempty"`
	Meta                 models.JSONMap         `json:"meta,omitempty"`
	Timestamp            time.Time              `json:"timestamp"`
}

// SettlementOutcome is the result of one settlement handed to the ledger.
type SettlementOutcome struct {
	Date             string
	TotalDistributed decimal.Decimal
	RecipientsCount  int
	TotalScore       decimal.Decimal
	ActiveUserCount  int
	Records          []models.DistributionRecord
	Credits          []models.WalletCredit
}

// BalanceMismatch is a currency whose stored balance disagrees with its log.
type BalanceMismatch struct {
	Currency models.Currency `json:"currency"`
	Stored   decimal.Decimal `json:"stored"`
	FromLog  decimal.Decimal `json:"from_log"`
}

// SupplyCheck compares pool balance plus circulating supply with total supply.
type SupplyCheck struct {
	Coin              models.Currency `json:"coin"`
	TotalSupply       decimal.Decimal `json:"total_supply"`
	PoolBalance       decimal.Decimal `json:"pool_balance"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
	Difference        decimal.Decimal `json:"difference"`
}

// ReconcileReport 资金池对账结果
type ReconcileReport struct {
	Consistent   bool              `json:"consistent"`
	Mismatches   []BalanceMismatch `json:"mismatches"`
	SupplyChecks []SupplyCheck     `json:"supply_checks"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// FundPoolLedger is the single writer of fund pool balances.
type FundPoolLedger struct {
	mu          sync.Mutex
	repo        repository.LedgerRepository
	notifier    *Notifier
	clock       clockwork.Clock
	location    *time.Location
	prices      PriceTable
	totalSupply decimal.Decimal
	logger      *logrus.Entry
}

type LedgerOption func(*FundPoolLedger)

func WithLedgerClock(c clockwork.Clock) LedgerOption {
	return func(l *FundPoolLedger) { l.clock = c }
}

func WithLedgerLocation(loc *time.Location) LedgerOption {
	return func(l *FundPoolLedger) { l.location = loc }
}

func WithPrices(p PriceTable) LedgerOption {
	return func(l *FundPoolLedger) { l.prices = p }
}

func WithTotalSupply(s decimal.Decimal) LedgerOption {
	return func(l *FundPoolLedger) { l.totalSupply = s }
}

func WithLedgerLogger(logger *logrus.Entry) LedgerOption {
	return func(l *FundPoolLedger) { l.logger = logger }
}

func NewFundPoolLedger(repo repository.LedgerRepository, notifier *Notifier, opts ...LedgerOption) *FundPoolLedger {
	l := &FundPoolLedger{
		repo:        repo,
		notifier:    notifier,
		clock:       clockwork.NewRealClock(),
		location:    time.UTC,
		prices:      DefaultPriceTable(),
		totalSupply: DefaultTotalSupply,
		logger:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.notifier == nil {
		l.notifier = NewNotifier(l.logger)
	}
	l.logger = l.logger.WithField("module", "fund_pool_ledger")
	return l
}

// Notifier returns the registry observers subscribe to.
func (l *FundPoolLedger) Notifier() *Notifier {
	return l.notifier
}

// Location is the time zone used for day boundaries.
func (l *FundPoolLedger) Location() *time.Location {
	return l.location
}

// RecordTransaction validates, appends and applies one transaction. Nothing is
// written when it fails with models.ErrInvalidAmount or models.ErrNegativeBalance.
// A-Coin and O-Coin transactions also move circulating supply: income returns
// coins to the pool, expense releases them.
func (l *FundPoolLedger) RecordTransaction(ctx context.Context, in TransactionInput) (*models.FundPoolTransaction, error) {
	tx := models.FundPoolTransaction{
		ID:                   uuid.NewString(),
		Type:                 in.Type,
		Category:             in.Category,
		Currency:             in.Currency,
		Amount:               in.Amount,
		Source:               in.Source,
		RelatedTransactionID: in.RelatedTransactionID,
		Meta:                 in.Meta,
		Timestamp:            in.Timestamp,
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = l.clock.Now()
	}
	if err := repository.ValidateTransaction(tx); err != nil {
		metrics.LedgerTransactionsTotal.WithLabelValues(string(tx.Type), "rejected").Inc()
		return nil, err
	}

	l.mu.Lock()
	err := l.repo.AppendTransactions(ctx, []models.FundPoolTransaction{tx})
	l.mu.Unlock()
	if err != nil {
		result := "error"
		if errors.Is(err, models.ErrNegativeBalance) ||
			errors.Is(err, models.ErrCirculationUnderflow) ||
			errors.Is(err, models.ErrSupplyExceeded) {
			result = "rejected"
		}
		metrics.LedgerTransactionsTotal.WithLabelValues(string(tx.Type), result).Inc()
		return nil, fmt.Errorf("record %s transaction: %w", tx.Type, err)
	}
	metrics.LedgerTransactionsTotal.WithLabelValues(string(tx.Type), "ok").Inc()

	l.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"type":           tx.Type,
		"category":       tx.Category,
		"currency":       tx.Currency.String(),
		"amount":         tx.Amount.String(),
	}).Info("Fund pool transaction recorded")

	l.notifier.Publish(ctx, LedgerEvent{
		Type:         EventTransactionRecorded,
		Transactions: []models.FundPoolTransaction{tx},
		OccurredAt:   l.clock.Now(),
	})
	return &tx, nil
}

// ApplySettlementOutcome moves TotalDistributed A-Coin out of the pool into
// circulation, stores the distribution records and wallet credits, and marks
// the settlement completed, all in one commit.
func (l *FundPoolLedger) ApplySettlementOutcome(ctx context.Context, outcome SettlementOutcome) error {
	if outcome.TotalDistributed.IsNegative() {
		return fmt.Errorf("%w: distributed %s", models.ErrInvalidAmount, outcome.TotalDistributed.String())
	}

	now := l.clock.Now()
	commit := repository.SettlementCommit{
		Date:            outcome.Date,
		Coin:            models.CurrencyACoins,
		Distributed:     outcome.TotalDistributed,
		RecipientsCount: outcome.RecipientsCount,
		TotalScore:      outcome.TotalScore,
		ActiveUserCount: outcome.ActiveUserCount,
		Records:         outcome.Records,
		Credits:         outcome.Credits,
		ExecutedAt:      now,
	}
	if outcome.TotalDistributed.IsPositive() {
		commit.Transactions = []models.FundPoolTransaction{{
			ID:        uuid.NewString(),
			Type:      models.TransactionExpense,
			Category:  models.CategoryACoinDistribution,
			Currency:  models.CurrencyACoins,
			Amount:    outcome.TotalDistributed,
			Source:    "settlement:" + outcome.Date,
			Meta:      models.JSONMap{"recipients_count": outcome.RecipientsCount},
			Timestamp: now,
		}}
	}

	l.mu.Lock()
	err := l.repo.CommitSettlement(ctx, commit)
	l.mu.Unlock()
	if err != nil {
		metrics.LedgerTransactionsTotal.WithLabelValues(string(models.TransactionExpense), "error").Inc()
		return fmt.Errorf("apply settlement outcome for %s: %w", outcome.Date, err)
	}
	metrics.LedgerTransactionsTotal.WithLabelValues(string(models.TransactionExpense), "ok").Inc()
	metrics.DistributedAmountTotal.Add(outcome.TotalDistributed.InexactFloat64())

	l.logger.WithFields(logrus.Fields{
		"date":              outcome.Date,
		"total_distributed": outcome.TotalDistributed.String(),
		"recipients_count":  outcome.RecipientsCount,
	}).Info("Settlement outcome applied to fund pool")

	l.notifier.Publish(ctx, LedgerEvent{
		Type:             EventSettlementApplied,
		SettlementDate:   outcome.Date,
		TotalDistributed: outcome.TotalDistributed.String(),
		RecipientsCount:  outcome.RecipientsCount,
		Transactions:     commit.Transactions,
		OccurredAt:       now,
	})
	return nil
}

// Seed credits the A-Coin and O-Coin pools with their total supply once.
func (l *FundPoolLedger) Seed(ctx context.Context) (bool, error) {
	now := l.clock.Now()
	var txs []models.FundPoolTransaction
	var stats []models.CoinStats
	for _, coin := range []models.Currency{models.CurrencyACoins, models.CurrencyOCoins} {
		txs = append(txs, models.FundPoolTransaction{
			ID:        uuid.NewString(),
			Type:      models.TransactionIncome,
			Category:  models.CategoryGenesis,
			Currency:  coin,
			Amount:    l.totalSupply,
			Source:    "genesis",
			Timestamp: now,
		})
		stats = append(stats, models.CoinStats{
			Coin:              coin,
			TotalSupply:       l.totalSupply,
			CirculatingSupply: decimal.Zero,
			TotalDistributed:  decimal.Zero,
			LastPrice:         l.prices[coin],
			UpdatedAt:         now,
		})
	}

	l.mu.Lock()
	seeded, err := l.repo.SeedGenesis(ctx, txs, stats)
	l.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("seed fund pool: %w", err)
	}
	if !seeded {
		l.logger.Debug("Fund pool already seeded")
		return false, nil
	}

	l.logger.WithField("total_supply", l.totalSupply.String()).Info("Fund pool genesis seeded")
	l.notifier.Publish(ctx, LedgerEvent{Type: EventGenesisSeeded, Transactions: txs, OccurredAt: now})
	return true, nil
}

// RecordOCoinPrice stores a quote from the external O-Coin price oracle.
func (l *FundPoolLedger) RecordOCoinPrice(ctx context.Context, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price %s", models.ErrInvalidAmount, price.String())
	}
	if err := l.repo.UpdateCoinPrice(ctx, models.CurrencyOCoins, price); err != nil {
		return fmt.Errorf("record o-coin price: %w", err)
	}
	l.notifier.Publish(ctx, LedgerEvent{Type: EventPriceRecorded, OccurredAt: l.clock.Now()})
	return nil
}

// GetPublicFundPoolBalance returns the current balances and their cash value.
func (l *FundPoolLedger) GetPublicFundPoolBalance(ctx context.Context) (*models.FundPoolBalance, error) {
	balances, err := l.repo.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}

	prices := l.prices
	if stats, err := l.repo.GetCoinStats(ctx, models.CurrencyOCoins); err == nil && stats.LastPrice.IsPositive() {
		prices[models.CurrencyOCoins] = stats.LastPrice
	} else if err != nil && !errors.Is(err, models.ErrCoinStatsNotFound) {
		return nil, fmt.Errorf("load o-coin stats: %w", err)
	}

	total := decimal.Zero
	for _, c := range models.Currencies() {
		total = total.Add(balances[c].Mul(prices[c]))
	}
	return &models.FundPoolBalance{
		Balances:   balances,
		TotalValue: total,
		UpdatedAt:  l.clock.Now(),
	}, nil
}

// CoinStats returns the supply statistics of a platform coin.
func (l *FundPoolLedger) CoinStats(ctx context.Context, coin models.Currency) (*models.CoinStats, error) {
	if coin != models.CurrencyACoins && coin != models.CurrencyOCoins {
		return nil, fmt.Errorf("%w: %s has no supply stats", models.ErrInvalidCurrency, coin)
	}
	return l.repo.GetCoinStats(ctx, coin)
}

// Transactions lists the log for the filter.
func (l *FundPoolLedger) Transactions(ctx context.Context, filter repository.TransactionFilter) ([]models.FundPoolTransaction, error) {
	return l.repo.ListTransactions(ctx, filter)
}

// GetFundPoolStats summarizes the periods of window leading up to now.
func (l *FundPoolLedger) GetFundPoolStats(ctx context.Context, window Window, now time.Time) (*FundPoolStats, error) {
	local := now.In(l.location)
	from := window.PeriodStart(local)
	for i := 1; i < window.defaultLookback(); i++ {
		from = window.PeriodStart(from.Add(-time.Nanosecond))
	}
	return l.StatsBetween(ctx, window, from, window.Next(window.PeriodStart(local)))
}

// StatsBetween summarizes transactions in [from, to).
func (l *FundPoolLedger) StatsBetween(ctx context.Context, window Window, from, to time.Time) (*FundPoolStats, error) {
	txs, err := l.repo.ListTransactions(ctx, repository.TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	stats := buildStats(txs, window, from, to, l.location)
	return &stats, nil
}

// Reconcile recomputes balances from the log and checks the supply invariant.
func (l *FundPoolLedger) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.repo.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	fromLog, err := l.repo.SumTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}

	report := &ReconcileReport{
		Consistent:   true,
		Mismatches:   []BalanceMismatch{},
		SupplyChecks: []SupplyCheck{},
		CheckedAt:    l.clock.Now(),
	}
	for _, c := range models.Currencies() {
		if !stored[c].Equal(fromLog[c]) || stored[c].IsNegative() {
			report.Consistent = false
			report.Mismatches = append(report.Mismatches, BalanceMismatch{Currency: c, Stored: stored[c], FromLog: fromLog[c]})
		}
	}

	for _, coin := range []models.Currency{models.CurrencyACoins, models.CurrencyOCoins} {
		stats, err := l.repo.GetCoinStats(ctx, coin)
		if errors.Is(err, models.ErrCoinStatsNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s stats: %w", coin, err)
		}
		check := SupplyCheck{
			Coin:              coin,
			TotalSupply:       stats.TotalSupply,
			PoolBalance:       stored[coin],
			CirculatingSupply: stats.CirculatingSupply,
		}
		check.Difference = stats.TotalSupply.Sub(stored[coin]).Sub(stats.CirculatingSupply)
		if !check.Difference.IsZero() || stats.CirculatingSupply.GreaterThan(stats.TotalSupply) {
			report.Consistent = false
		}
		report.SupplyChecks = append(report.SupplyChecks, check)
	}

	if !report.Consistent {
		l.logger.WithFields(logrus.Fields{
			"mismatches":    len(report.Mismatches),
			"supply_checks": report.SupplyChecks,
		}).Warn("Fund pool reconciliation found inconsistencies")
	}
	return report, nil
}
