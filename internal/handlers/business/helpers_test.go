package business

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rewardengine/internal/models"
	"rewardengine/internal/repository"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDate = "2025-01-15"

var testNow = time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// recordingWallet records credits and fails for the users in failFor.
type recordingWallet struct {
	mu      sync.Mutex
	failFor map[string]bool
	credits []CreditRequest
}

func (w *recordingWallet) Credit(_ context.Context, req CreditRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failFor[req.UserID] {
		return errors.New("wallet unavailable")
	}
	w.credits = append(w.credits, req)
	return nil
}

func (w *recordingWallet) heal() {
	w.mu.Lock()
	w.failFor = nil
	w.mu.Unlock()
}

func (w *recordingWallet) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.credits)
}

// flakyActivity fails every call while failing is set. onLoad runs once, on
// the next call.
type flakyActivity struct {
	ActivitySource
	mu      sync.Mutex
	failing bool
	onLoad  func()
}

func (f *flakyActivity) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyActivity) ActiveContributions(ctx context.Context, date string) ([]ContributionRecord, error) {
	f.mu.Lock()
	failing, onLoad := f.failing, f.onLoad
	f.onLoad = nil
	f.mu.Unlock()
	if onLoad != nil {
		onLoad()
	}
	if failing {
		return nil, errors.New("activity service unavailable")
	}
	return f.ActivitySource.ActiveContributions(ctx, date)
}

type fixture struct {
	store    *repository.MemoryStore
	clock    fakeClock
	ledger   *FundPoolLedger
	engine   *SettlementEngine
	wallet   *recordingWallet
	activity *flakyActivity
	income   FixedIncomeSource
}

func newFixture(t *testing.T, income decimal.Decimal) *fixture {
	t.Helper()
	f := &fixture{
		store:  repository.NewMemoryStore(),
		clock:  clockwork.NewFakeClockAt(testNow),
		wallet: &recordingWallet{},
		income: FixedIncomeSource{Default: income, ByDate: map[string]decimal.Decimal{}},
	}
	f.activity = &flakyActivity{ActivitySource: NewRepositoryActivitySource(f.store)}
	f.ledger = NewFundPoolLedger(f.store, nil, WithLedgerClock(f.clock))
	_, err := f.ledger.Seed(context.Background())
	require.NoError(t, err)
	f.engine = NewSettlementEngine(f.store, f.ledger, f.activity, f.income, f.wallet, WithEngineClock(f.clock))
	return f
}

func (f *fixture) addActivity(t *testing.T, user, gameCoins, computingPower, volume string) {
	t.Helper()
	require.NoError(t, f.store.RecordActivity(context.Background(), models.UserActivity{
		UserID:               user,
		ActivityDate:         testDate,
		GameCoinsEarned:      d(gameCoins),
		ComputingPowerEarned: d(computingPower),
		TransactionVolume:    d(volume),
	}))
}
