package business

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"rewardengine/internal/models"

	"github.com/shopspring/decimal"
)

// Window 统计周期
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case WindowDaily, WindowWeekly, WindowMonthly:
		return Window(s), nil
	case "":
		return WindowDaily, nil
	}
	return "", fmt.Errorf("unsupported window %q", s)
}

// PeriodStart truncates t to the start of its period in t's location. Weeks start on Monday.
func (w Window) PeriodStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch w {
	case WindowWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case WindowMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}

// Next returns the start of the period after the one starting at start.
func (w Window) Next(start time.Time) time.Time {
	switch w {
	case WindowWeekly:
		return start.AddDate(0, 0, 7)
	case WindowMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// defaultLookback is how many periods GetFundPoolStats covers.
func (w Window) defaultLookback() int {
	switch w {
	case WindowWeekly, WindowMonthly:
		return 12
	default:
		return 30
	}
}

// CurrencyTotals sums one currency's movements.
type CurrencyTotals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Net     decimal.Decimal `json:"net"`
}

func (t *CurrencyTotals) add(tx models.FundPoolTransaction) {
	if tx.Type == models.TransactionExpense {
		t.Expense = t.Expense.Add(tx.Amount)
	} else {
		t.Income = t.Income.Add(tx.Amount)
	}
	t.Net = t.Income.Sub(t.Expense)
}

// TotalsByCurrency is indexed by models.Currency.
type TotalsByCurrency [models.CurrencyCount]CurrencyTotals

func (t TotalsByCurrency) MarshalJSON() ([]byte, error) {
	out := make(map[string]CurrencyTotals, models.CurrencyCount)
	for _, c := range models.Currencies() {
		out[c.String()] = t[c]
	}
	return json.Marshal(out)
}

// PeriodSummary covers [PeriodStart, PeriodEnd).
type PeriodSummary struct {
	PeriodStart      time.Time        `json:"period_start"`
	PeriodEnd        time.Time        `json:"period_end"`
	TransactionCount int              `json:"transaction_count"`
	Totals           TotalsByCurrency `json:"totals"`
}

// FundPoolStats 资金池收支统计
type FundPoolStats struct {
	Window           Window           `json:"window"`
	From             time.Time        `json:"from"`
	To               time.Time        `json:"to"`
	TransactionCount int              `json:"transaction_count"`
	Totals           TotalsByCurrency `json:"totals"`
	Periods          []PeriodSummary  `json:"periods"`
}

// Aggregate folds txs into per-period summaries in loc. Only periods that
// contain transactions are returned, oldest first.
func Aggregate(txs []models.FundPoolTransaction, window Window, loc *time.Location) []PeriodSummary {
	if loc == nil {
		loc = time.UTC
	}
	buckets := make(map[int64]*PeriodSummary)
	for _, tx := range txs {
		start := window.PeriodStart(tx.Timestamp.In(loc))
		key := start.Unix()
		b, ok := buckets[key]
		if !ok {
			b = &PeriodSummary{PeriodStart: start, PeriodEnd: window.Next(start)}
			buckets[key] = b
		}
		b.TransactionCount++
		b.Totals[tx.Currency].add(tx)
	}

	out := make([]PeriodSummary, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out
}

// SummarizeTransactions returns the totals over txs without bucketing.
func SummarizeTransactions(txs []models.FundPoolTransaction) TotalsByCurrency {
	var totals TotalsByCurrency
	for _, tx := range txs {
		totals[tx.Currency].add(tx)
	}
	return totals
}

func buildStats(txs []models.FundPoolTransaction, window Window, from, to time.Time, loc *time.Location) FundPoolStats {
	return FundPoolStats{
		Window:           window,
		From:             from,
		To:               to,
		TransactionCount: len(txs),
		Totals:           SummarizeTransactions(txs),
		Periods:          Aggregate(txs, window, loc),
	}
}
