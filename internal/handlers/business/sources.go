package business

import (
	"context"
	"fmt"
	"time"

	"rewardengine/internal/models"
	"rewardengine/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ActivitySource supplies the raw activity of users active on a date.
type ActivitySource interface {
	ActiveContributions(ctx context.Context, date string) ([]ContributionRecord, error)
}

// IncomeSource supplies the platform net income for a date.
type IncomeSource interface {
	NetIncome(ctx context.Context, date string) (decimal.Decimal, error)
}

// CreditRequest asks the wallet service to credit one user.
type CreditRequest struct {
	CreditID string          `json:"credit_id"`
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency models.Currency `json:"currency"`
	Reason   string          `json:"reason"`
}

// WalletSink credits a user's externally visible balance. CreditID is stable
// across retries so the sink can deduplicate.
type WalletSink interface {
	Credit(ctx context.Context, req CreditRequest) error
}

// RepositoryActivitySource reads activity reported into user_activities.
type RepositoryActivitySource struct {
	repo repository.ActivityRepository
}

func NewRepositoryActivitySource(repo repository.ActivityRepository) *RepositoryActivitySource {
	return &RepositoryActivitySource{repo: repo}
}

func (s *RepositoryActivitySource) ActiveContributions(ctx context.Context, date string) ([]ContributionRecord, error) {
	activities, err := s.repo.ListActivities(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list activities for %s: %w", date, err)
	}
	records := make([]ContributionRecord, 0, len(activities))
	for _, a := range activities {
		records = append(records, NewContributionRecord(a))
	}
	return records, nil
}

// LedgerIncomeSource derives net income from the cash movements the fund pool
// ledger recorded during the day: cash income minus cash expense.
type LedgerIncomeSource struct {
	repo     repository.LedgerRepository
	location *time.Location
}

func NewLedgerIncomeSource(repo repository.LedgerRepository, location *time.Location) *LedgerIncomeSource {
	if location == nil {
		location = time.UTC
	}
	return &LedgerIncomeSource{repo: repo, location: location}
}

func (s *LedgerIncomeSource) NetIncome(ctx context.Context, date string) (decimal.Decimal, error) {
	start, err := time.ParseInLocation(models.DateLayout, date, s.location)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", models.ErrInvalidDate, date)
	}
	cash := models.CurrencyCash
	txs, err := s.repo.ListTransactions(ctx, repository.TransactionFilter{
		From:     start,
		To:       start.AddDate(0, 0, 1),
		Currency: &cash,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("list cash transactions for %s: %w", date, err)
	}
	net := decimal.Zero
	for _, tx := range txs {
		net = net.Add(tx.Signed())
	}
	return net, nil
}

// FixedIncomeSource reports preset incomes; dates without an entry report Default.
type FixedIncomeSource struct {
	Default decimal.Decimal
	ByDate  map[string]decimal.Decimal
}

func (s FixedIncomeSource) NetIncome(_ context.Context, date string) (decimal.Decimal, error) {
	if v, ok := s.ByDate[date]; ok {
		return v, nil
	}
	return s.Default, nil
}

// LogWalletSink only logs credits. Used when no message broker is configured.
type LogWalletSink struct {
	Logger *logrus.Entry
}

func (s LogWalletSink) Credit(_ context.Context, req CreditRequest) error {
	logger := s.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger.WithFields(logrus.Fields{
		"credit_id": req.CreditID,
		"user_id":   req.UserID,
		"amount":    req.Amount.String(),
		"currency":  req.Currency.String(),
		"reason":    req.Reason,
	}).Info("Wallet credit issued")
	return nil
}
