package business

import (
	"context"
	"sort"
	"sync"
	"time"

	"rewardengine/internal/models"

	"github.com/sirupsen/logrus"
)

// LedgerEventType 资金池变更事件类型
type LedgerEventType string

const (
	EventTransactionRecorded LedgerEventType = "transaction_recorded"
	EventSettlementApplied   LedgerEventType = "settlement_applied"
	EventGenesisSeeded       LedgerEventType = "genesis_seeded"
	EventPriceRecorded       LedgerEventType = "price_recorded"
)

// LedgerEvent is published after a ledger mutation has been committed.
type LedgerEvent struct {
	Type             LedgerEventType              `json:"type"`
	SettlementDate   string                       `json:"settlement_date,omitempty"`
	TotalDistributed string                       `json:"total_distributed,omitempty"`
	RecipientsCount  int                          `json:"recipients_count,omitempty"`
	Transactions     []models.FundPoolTransaction `json:"transactions,omitempty"`
	OccurredAt       time.Time                    `json:"occurred_at"`
	// Origin is the instance that committed the change; empty for local events.
	Origin string `json:"origin,omitempty"`
}

// LedgerObserver is notified of committed ledger changes. Implementations must
// not block for long; slow work belongs on their own goroutine.
type LedgerObserver interface {
	OnLedgerChange(ctx context.Context, evt LedgerEvent)
}

// ObserverFunc adapts a function to LedgerObserver.
type ObserverFunc func(ctx context.Context, evt LedgerEvent)

func (f ObserverFunc) OnLedgerChange(ctx context.Context, evt LedgerEvent) {
	f(ctx, evt)
}

// Notifier is the explicit observer registry for ledger changes.
type Notifier struct {
	mu        sync.RWMutex
	observers map[int]LedgerObserver
	nextID    int
	logger    *logrus.Entry
}

func NewNotifier(logger *logrus.Entry) *Notifier {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Notifier{
		observers: make(map[int]LedgerObserver),
		logger:    logger.WithField("module", "ledger_notifier"),
	}
}

// Subscribe registers o and returns a function that removes it.
func (n *Notifier) Subscribe(o LedgerObserver) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.observers[id] = o
	return func() {
		n.mu.Lock()
		delete(n.observers, id)
		n.mu.Unlock()
	}
}

// Publish delivers evt to every observer in subscription order. A panicking
// observer is logged and skipped.
func (n *Notifier) Publish(ctx context.Context, evt LedgerEvent) {
	n.mu.RLock()
	ids := make([]int, 0, len(n.observers))
	for id := range n.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]LedgerObserver, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, n.observers[id])
	}
	n.mu.RUnlock()

	for _, o := range observers {
		n.deliver(ctx, o, evt)
	}
}

func (n *Notifier) deliver(ctx context.Context, o LedgerObserver, evt LedgerEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithFields(logrus.Fields{
				"event": evt.Type,
				"panic": r,
			}).Error("Ledger observer panicked")
		}
	}()
	o.OnLedgerChange(ctx, evt)
}
