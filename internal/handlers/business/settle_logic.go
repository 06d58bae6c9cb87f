package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewardengine/internal/metrics"
	"rewardengine/internal/models"
	"rewardengine/internal/repository"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultPoolRatio is the share of net income that becomes the distribution pool.
var DefaultPoolRatio = decimal.RequireFromString("0.4")

const DefaultProcessingTimeout = 30 * time.Minute

// SettlementParams 结算参数
type SettlementParams struct {
	PoolRatio         decimal.Decimal
	ProcessingTimeout time.Duration
	Location          *time.Location
}

func DefaultSettlementParams() SettlementParams {
	return SettlementParams{
		PoolRatio:         DefaultPoolRatio,
		ProcessingTimeout: DefaultProcessingTimeout,
		Location:          time.UTC,
	}
}

// ExecuteResult is what a settlement execute reports back to its caller.
// Success is false for rejected and failed runs; Message explains why.
type ExecuteResult struct {
	Date                string                  `json:"date"`
	Success             bool                    `json:"success"`
	Status              models.SettlementStatus `json:"status"`
	DistributedAmount   decimal.Decimal         `json:"distributed_amount"`
	RecipientsCount     int                     `json:"recipients_count"`
	Message             string                  `json:"message"`
	FailedDistributions []FailedDistribution    `json:"failed_distributions"`
}

// CreditRetryResult summarizes one pass over the wallet credit outbox.
type CreditRetryResult struct {
	Attempted int                  `json:"attempted"`
	Delivered int                  `json:"delivered"`
	Failed    []FailedDistribution `json:"failed"`
}

// SettlementEngine drives the daily settlement lifecycle.
type SettlementEngine struct {
	repo     repository.SettlementRepository
	ledger   *FundPoolLedger
	activity ActivitySource
	income   IncomeSource
	wallet   WalletSink
	policy   DistributionPolicy
	params   SettlementParams
	clock    clockwork.Clock
	logger   *logrus.Entry
}

type EngineOption func(*SettlementEngine)

func WithEngineClock(c clockwork.Clock) EngineOption {
	return func(e *SettlementEngine) { e.clock = c }
}

func WithEngineLogger(logger *logrus.Entry) EngineOption {
	return func(e *SettlementEngine) { e.logger = logger }
}

func WithDistributionPolicy(p DistributionPolicy) EngineOption {
	return func(e *SettlementEngine) { e.policy = p }
}

func WithSettlementParams(p SettlementParams) EngineOption {
	return func(e *SettlementEngine) { e.params = p }
}

func NewSettlementEngine(
	repo repository.SettlementRepository,
	ledger *FundPoolLedger,
	activity ActivitySource,
	income IncomeSource,
	wallet WalletSink,
	opts ...EngineOption,
) *SettlementEngine {
	e := &SettlementEngine{
		repo:     repo,
		ledger:   ledger,
		activity: activity,
		income:   income,
		wallet:   wallet,
		policy:   DefaultDistributionPolicy(),
		params:   DefaultSettlementParams(),
		clock:    clockwork.NewRealClock(),
		logger:   logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.params.Location == nil {
		e.params.Location = time.UTC
	}
	if e.wallet == nil {
		e.wallet = LogWalletSink{Logger: e.logger}
	}
	e.logger = e.logger.WithField("module", "settlement")
	return e
}

// Today returns the settlement date key of now in the settlement time zone.
func (e *SettlementEngine) Today(now time.Time) string {
	return now.In(e.params.Location).Format(models.DateLayout)
}

// PoolFor returns max(0, income) × pool ratio.
func (e *SettlementEngine) PoolFor(income decimal.Decimal) decimal.Decimal {
	if !income.IsPositive() {
		return decimal.Zero
	}
	return income.Mul(e.params.PoolRatio).Truncate(amountPrecision)
}

func validateDate(date string) error {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", models.ErrInvalidDate, date)
	}
	return nil
}

// GetDailySettlementData loads the settlement for date, creating it on first
// observation. An insufficient_income settlement is promoted to ready when the
// income source now reports a positive income.
func (e *SettlementEngine) GetDailySettlementData(ctx context.Context, date string) (*models.DailySettlement, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}

	existing, err := e.repo.GetSettlement(ctx, date)
	if err != nil && !errors.Is(err, models.ErrSettlementNotFound) {
		return nil, fmt.Errorf("load settlement %s: %w", date, err)
	}
	if existing != nil && existing.Status != models.SettlementStatusInsufficientIncome {
		return existing, nil
	}

	income, err := e.income.NetIncome(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("net income for %s: %w", date, err)
	}
	pool := e.PoolFor(income)

	if existing != nil {
		if !income.IsPositive() {
			return existing, nil
		}
		promoted, err := e.repo.PromoteSettlement(ctx, date, income, pool)
		if err != nil {
			return nil, fmt.Errorf("promote settlement %s: %w", date, err)
		}
		if promoted {
			e.logger.WithFields(logrus.Fields{
				"date":              date,
				"net_income":        income.String(),
				"distribution_pool": pool.String(),
			}).Info("Settlement promoted to ready")
		}
		return e.repo.GetSettlement(ctx, date)
	}

	contributions, err := e.activity.ActiveContributions(ctx, date)
	if err != nil {
		return nil, err
	}
	s := &models.DailySettlement{
		Date:                          date,
		PlatformNetIncome:             income,
		DistributionPool:              pool,
		TotalNetworkContributionScore: NetworkContribution(contributions).ContributionScore,
		ActiveUserCount:               len(contributions),
		Status:                        models.SettlementStatusReady,
		DistributedAmount:             decimal.Zero,
	}
	if !income.IsPositive() {
		s.Status = models.SettlementStatusInsufficientIncome
	}

	if err := e.repo.CreateSettlement(ctx, s); err != nil {
		if errors.Is(err, models.ErrDuplicateSettlement) {
			// another caller created it first
			return e.repo.GetSettlement(ctx, date)
		}
		return nil, fmt.Errorf("create settlement %s: %w", date, err)
	}

	e.logger.WithFields(logrus.Fields{
		"date":              date,
		"status":            s.Status,
		"net_income":        income.String(),
		"distribution_pool": pool.String(),
		"active_users":      s.ActiveUserCount,
	}).Info("Daily settlement created")
	return s, nil
}

func rejectedResult(s *models.DailySettlement) *ExecuteResult {
	r := &ExecuteResult{
		Date:                s.Date,
		Status:              s.Status,
		DistributedAmount:   s.DistributedAmount,
		RecipientsCount:     s.RecipientsCount,
		FailedDistributions: []FailedDistribution{},
	}
	switch s.Status {
	case models.SettlementStatusCompleted:
		r.Message = fmt.Sprintf("settlement for %s already completed", s.Date)
	case models.SettlementStatusProcessing:
		r.Message = fmt.Sprintf("settlement for %s is already processing", s.Date)
	case models.SettlementStatusInsufficientIncome:
		r.DistributedAmount = decimal.Zero
		r.Message = fmt.Sprintf("insufficient platform income for %s", s.Date)
	default:
		r.Message = fmt.Sprintf("settlement for %s is %s", s.Date, s.Status)
	}
	return r
}

// ExecuteSettlement runs the distribution for date. Only a ready or failed
// settlement is executed; any other status returns a result with Success false
// and no state change. The returned error is non-nil only when the run itself
// failed, in which case the settlement is left in failed.
func (e *SettlementEngine) ExecuteSettlement(ctx context.Context, date string) (*ExecuteResult, error) {
	s, err := e.GetDailySettlementData(ctx, date)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SettlementStatusReady && s.Status != models.SettlementStatusFailed {
		metrics.SettlementExecutionsTotal.WithLabelValues("rejected").Inc()
		return rejectedResult(s), nil
	}

	started := e.clock.Now()
	locked, err := e.repo.TransitionSettlement(ctx, repository.Transition{
		Date: date,
		From: []models.SettlementStatus{models.SettlementStatusReady, models.SettlementStatusFailed},
		To:   models.SettlementStatusProcessing,
		At:   started,
	})
	if err != nil {
		return nil, fmt.Errorf("lock settlement %s: %w", date, err)
	}
	if !locked {
		current, err := e.repo.GetSettlement(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("reload settlement %s: %w", date, err)
		}
		metrics.SettlementExecutionsTotal.WithLabelValues("rejected").Inc()
		return rejectedResult(current), nil
	}

	logger := e.logger.WithField("date", date)
	logger.Info("Settlement processing started")

	batch, err := e.run(ctx, s)
	metrics.SettlementDuration.Observe(e.clock.Since(started).Seconds())
	if errors.Is(err, models.ErrSettlementStateChanged) {
		// a run that was reset as stuck committed first
		current, loadErr := e.repo.GetSettlement(ctx, date)
		if loadErr != nil {
			return nil, fmt.Errorf("reload settlement %s: %w", date, loadErr)
		}
		metrics.SettlementExecutionsTotal.WithLabelValues("rejected").Inc()
		logger.WithField("status", current.Status).Warn("Settlement committed by another run")
		return rejectedResult(current), nil
	}
	if err != nil {
		e.markFailed(ctx, date, err)
		metrics.SettlementExecutionsTotal.WithLabelValues("failed").Inc()
		logger.WithError(err).Error("Settlement failed")
		return &ExecuteResult{
			Date:                date,
			Status:              models.SettlementStatusFailed,
			DistributedAmount:   decimal.Zero,
			Message:             fmt.Sprintf("settlement for %s failed and can be retried", date),
			FailedDistributions: []FailedDistribution{},
		}, err
	}
	metrics.SettlementExecutionsTotal.WithLabelValues("completed").Inc()

	// The outcome is committed; wallet delivery failures no longer affect the settlement.
	retry, err := e.deliverPending(ctx, date)
	if err != nil {
		logger.WithError(err).Warn("Wallet credit delivery deferred")
	}
	batch = moveFailedCredits(batch, retry.Failed)

	result := &ExecuteResult{
		Date:                date,
		Success:             true,
		Status:              models.SettlementStatusCompleted,
		DistributedAmount:   batch.TotalAmountDistributed,
		RecipientsCount:     batch.RecipientsCount,
		FailedDistributions: batch.FailedDistributions,
		Message: fmt.Sprintf("distributed %s A-Coin to %d users",
			batch.TotalAmountDistributed.StringFixed(CurrencyPrecision), batch.RecipientsCount),
	}
	if n := len(batch.FailedDistributions); n > 0 {
		result.Message += fmt.Sprintf(", %d wallet credits pending retry", n)
	}

	logger.WithFields(logrus.Fields{
		"distributed_amount": batch.TotalAmountDistributed.String(),
		"recipients_count":   batch.RecipientsCount,
		"below_threshold":    len(batch.BelowThreshold),
		"retained":           batch.Retained().String(),
		"failed_credits":     len(batch.FailedDistributions),
	}).Info("Settlement completed")
	return result, nil
}

// run computes the distribution and commits it through the ledger.
func (e *SettlementEngine) run(ctx context.Context, s *models.DailySettlement) (DistributionBatchResult, error) {
	contributions, err := e.activity.ActiveContributions(ctx, s.Date)
	if err != nil {
		return DistributionBatchResult{}, err
	}

	recipients := make([]Recipient, 0, len(contributions))
	for _, c := range contributions {
		recipients = append(recipients, Recipient{UserID: c.UserID, ContributionScore: c.ContributionScore})
	}
	batch := e.policy.Distribute(s.DistributionPool, recipients)

	records := make([]models.DistributionRecord, 0, len(recipients))
	for _, a := range batch.Allocations() {
		records = append(records, models.DistributionRecord{
			SettlementDate:    s.Date,
			UserID:            a.UserID,
			ContributionScore: a.ContributionScore,
			Ratio:             a.Ratio,
			AmountCalculated:  a.AmountCalculated,
			AmountDistributed: a.AmountDistributed,
		})
	}
	credits := make([]models.WalletCredit, 0, len(batch.SuccessfulDistributions))
	for _, a := range batch.SuccessfulDistributions {
		credits = append(credits, models.WalletCredit{
			ID:             uuid.NewString(),
			SettlementDate: s.Date,
			UserID:         a.UserID,
			Amount:         a.AmountDistributed,
			Currency:       models.CurrencyACoins,
			Reason:         "daily_settlement:" + s.Date,
			Status:         models.WalletCreditPending,
		})
	}

	err = e.ledger.ApplySettlementOutcome(ctx, SettlementOutcome{
		Date:             s.Date,
		TotalDistributed: batch.TotalAmountDistributed,
		RecipientsCount:  batch.RecipientsCount,
		TotalScore:       NetworkContribution(contributions).ContributionScore,
		ActiveUserCount:  len(contributions),
		Records:          records,
		Credits:          credits,
	})
	return batch, err
}

func (e *SettlementEngine) markFailed(ctx context.Context, date string, cause error) {
	ok, err := e.repo.TransitionSettlement(context.WithoutCancel(ctx), repository.Transition{
		Date:      date,
		From:      []models.SettlementStatus{models.SettlementStatusProcessing},
		To:        models.SettlementStatusFailed,
		At:        e.clock.Now(),
		LastError: cause.Error(),
	})
	if err != nil || !ok {
		e.logger.WithFields(logrus.Fields{"date": date, "cause": cause.Error()}).
			WithError(err).Error("Could not mark settlement failed; manual reset required")
	}
}

// moveFailedCredits moves allocations whose credit failed out of the
// successful list. They remain counted in TotalAmountDistributed.
func moveFailedCredits(batch DistributionBatchResult, failed []FailedDistribution) DistributionBatchResult {
	if len(failed) == 0 {
		return batch
	}
	byUser := make(map[string]FailedDistribution, len(failed))
	for _, f := range failed {
		byUser[f.UserID] = f
	}
	ok := make([]Allocation, 0, len(batch.SuccessfulDistributions))
	for _, a := range batch.SuccessfulDistributions {
		if f, hit := byUser[a.UserID]; hit {
			batch.FailedDistributions = append(batch.FailedDistributions, FailedDistribution{Allocation: a, Error: f.Error})
			continue
		}
		ok = append(ok, a)
	}
	batch.SuccessfulDistributions = ok
	return batch
}

// RetryFailedCredits redelivers pending wallet credits of date, or of every
// date when date is empty.
func (e *SettlementEngine) RetryFailedCredits(ctx context.Context, date string) (*CreditRetryResult, error) {
	if date != "" {
		if err := validateDate(date); err != nil {
			return nil, err
		}
	}
	result, err := e.deliverPending(ctx, date)
	if err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{
		"date":      date,
		"attempted": result.Attempted,
		"delivered": result.Delivered,
		"failed":    len(result.Failed),
	}).Info("Wallet credit retry finished")
	return result, nil
}

func (e *SettlementEngine) deliverPending(ctx context.Context, date string) (*CreditRetryResult, error) {
	result := &CreditRetryResult{Failed: []FailedDistribution{}}
	pending, err := e.repo.ListPendingCredits(ctx, date)
	if err != nil {
		return result, fmt.Errorf("list pending credits: %w", err)
	}

	for _, c := range pending {
		result.Attempted++
		err := e.wallet.Credit(ctx, CreditRequest{
			CreditID: c.ID,
			UserID:   c.UserID,
			Amount:   c.Amount,
			Currency: c.Currency,
			Reason:   c.Reason,
		})
		if err != nil {
			metrics.WalletCreditsTotal.WithLabelValues("failed").Inc()
			if markErr := e.repo.MarkCreditFailed(ctx, c.ID, err.Error()); markErr != nil {
				e.logger.WithError(markErr).WithField("credit_id", c.ID).Error("Failed to record wallet credit failure")
			}
			result.Failed = append(result.Failed, FailedDistribution{
				Allocation: Allocation{UserID: c.UserID, AmountCalculated: c.Amount, AmountDistributed: c.Amount},
				Error:      err.Error(),
			})
			continue
		}
		metrics.WalletCreditsTotal.WithLabelValues("delivered").Inc()
		if err := e.repo.MarkCreditDelivered(ctx, c.ID, e.clock.Now()); err != nil {
			// the sink deduplicates on CreditID, so a later retry is harmless
			e.logger.WithError(err).WithField("credit_id", c.ID).Error("Failed to mark wallet credit delivered")
			continue
		}
		result.Delivered++
	}
	return result, nil
}

// ResetStuckSettlement moves a settlement that has been processing for longer
// than the processing timeout to failed so it can be executed again.
func (e *SettlementEngine) ResetStuckSettlement(ctx context.Context, date string) (*models.DailySettlement, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	now := e.clock.Now()
	cutoff := now.Add(-e.params.ProcessingTimeout)
	ok, err := e.repo.TransitionSettlement(ctx, repository.Transition{
		Date:          date,
		From:          []models.SettlementStatus{models.SettlementStatusProcessing},
		To:            models.SettlementStatusFailed,
		At:            now,
		LastError:     fmt.Sprintf("reset after processing longer than %s", e.params.ProcessingTimeout),
		StartedBefore: &cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("reset settlement %s: %w", date, err)
	}
	if !ok {
		s, err := e.repo.GetSettlement(ctx, date)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s is %s", models.ErrNotStuck, date, s.Status)
	}

	e.logger.WithField("date", date).Warn("Stuck settlement reset to failed")
	return e.repo.GetSettlement(ctx, date)
}

// ListDistributions returns the distribution records written for date.
func (e *SettlementEngine) ListDistributions(ctx context.Context, date string) ([]models.DistributionRecord, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	return e.repo.ListDistributionRecords(ctx, date)
}

func (e *SettlementEngine) ListSettlements(ctx context.Context, limit int) ([]models.DailySettlement, error) {
	return e.repo.ListSettlements(ctx, limit)
}
