package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rewardengine/internal/handlers/business"
	"rewardengine/internal/metrics"
	"rewardengine/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	logger "github.com/sirupsen/logrus"
)

// DefaultSpec runs the check every 5 minutes, on second zero.
const DefaultSpec = "0 */5 * * * *"

// Settler is the part of the settlement engine the scheduler drives.
type Settler interface {
	Today(now time.Time) string
	GetDailySettlementData(ctx context.Context, date string) (*models.DailySettlement, error)
	ExecuteSettlement(ctx context.Context, date string) (*business.ExecuteResult, error)
}

// AutoSettlementResult 自动结算检查结果
type AutoSettlementResult struct {
	Date     string                  `json:"date"`
	Executed bool                    `json:"executed"`
	Status   models.SettlementStatus `json:"status"`
	Result   *business.ExecuteResult `json:"result,omitempty"`
}

// AutoSettler checks on a cron schedule whether today's settlement is due.
type AutoSettler struct {
	settler Settler
	clock   clockwork.Clock
	spec    string
	timeout time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*AutoSettler)

func WithClock(c clockwork.Clock) Option {
	return func(a *AutoSettler) { a.clock = c }
}

// WithSpec sets the cron expression; it must include a seconds field.
func WithSpec(spec string) Option {
	return func(a *AutoSettler) { a.spec = spec }
}

// WithRunTimeout bounds a single scheduled check.
func WithRunTimeout(d time.Duration) Option {
	return func(a *AutoSettler) { a.timeout = d }
}

func NewAutoSettler(settler Settler, opts ...Option) *AutoSettler {
	a := &AutoSettler{
		settler: settler,
		clock:   clockwork.NewRealClock(),
		spec:    DefaultSpec,
		timeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckAndExecute executes today's settlement if it is ready. It is safe to
// call concurrently with itself and with manual executes; the settlement's
// processing status serializes them.
func (a *AutoSettler) CheckAndExecute(ctx context.Context, now time.Time) (*AutoSettlementResult, error) {
	today := a.settler.Today(now)
	s, err := a.settler.GetDailySettlementData(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("load settlement %s: %w", today, err)
	}

	out := &AutoSettlementResult{Date: today, Status: s.Status}
	if s.Status != models.SettlementStatusReady {
		return out, nil
	}

	result, err := a.settler.ExecuteSettlement(ctx, today)
	if result != nil {
		out.Status = result.Status
		out.Result = result
		out.Executed = result.Success
	}
	return out, err
}

// RunOnce performs a single check at the clock's current time.
func (a *AutoSettler) RunOnce(ctx context.Context) (*AutoSettlementResult, error) {
	return a.CheckAndExecute(ctx, a.clock.Now())
}

func (a *AutoSettler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	res, err := a.RunOnce(ctx)
	switch {
	case err != nil:
		metrics.SchedulerTicksTotal.WithLabelValues("error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Errorf("> 自动结算超时: %v", err)
			return
		}
		logger.Errorf("> 自动结算失败: %v", err)
	case res.Executed:
		metrics.SchedulerTicksTotal.WithLabelValues("executed").Inc()
		logger.WithFields(logger.Fields{
			"date":               res.Date,
			"distributed_amount": res.Result.DistributedAmount.String(),
			"recipients_count":   res.Result.RecipientsCount,
		}).Info("> 自动结算完成")
	default:
		metrics.SchedulerTicksTotal.WithLabelValues("skipped").Inc()
		logger.WithFields(logger.Fields{"date": res.Date, "status": res.Status}).Debug("> 今日结算无需执行")
	}
}

// Start registers the cron job and starts the scheduler.
func (a *AutoSettler) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cron != nil {
		return errors.New("auto settler already started")
	}
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.spec, a.tick); err != nil {
		return fmt.Errorf("add auto settlement job %q: %w", a.spec, err)
	}
	c.Start()
	a.cron = c
	logger.Infof("> 自动结算定时任务已启动: %s", a.spec)
	return nil
}

// Stop stops the scheduler and waits for a running check to finish or ctx to end.
func (a *AutoSettler) Stop(ctx context.Context) {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	logger.Info("> 自动结算定时任务已停止")
}
