package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rewardengine/internal/handlers/business"
	"rewardengine/internal/models"
	"rewardengine/pkg/config"
	"rewardengine/schedule"

	log "github.com/sirupsen/logrus"
)

// Publisher is the subset of *config.Publisher used here.
type Publisher interface {
	Publish(ctx context.Context, queueName, messageID string, message interface{}) error
}

// WalletCreditSink hands credits to the wallet service over AMQP. The credit
// id travels as the message id so the wallet service can deduplicate.
type WalletCreditSink struct {
	publisher Publisher
	queue     string
}

func NewWalletCreditSink(p Publisher) *WalletCreditSink {
	return &WalletCreditSink{publisher: p, queue: config.QueueWalletCredits}
}

func (s *WalletCreditSink) Credit(ctx context.Context, req business.CreditRequest) error {
	return s.publisher.Publish(ctx, s.queue, req.CreditID, req)
}

var _ business.WalletSink = (*WalletCreditSink)(nil)

// Broadcaster is the subset of *config.Publisher used for fanout events.
type Broadcaster interface {
	Broadcast(ctx context.Context, exchange, messageID string, message interface{}) error
}

// LedgerEventPublisher broadcasts locally committed ledger events, stamped
// with this instance's origin. Events that arrived from the exchange are not
// forwarded again.
type LedgerEventPublisher struct {
	broadcaster Broadcaster
	exchange    string
	origin      string
}

func NewLedgerEventPublisher(b Broadcaster, origin string) *LedgerEventPublisher {
	return &LedgerEventPublisher{broadcaster: b, exchange: config.ExchangeLedgerEvents, origin: origin}
}

func (l *LedgerEventPublisher) OnLedgerChange(ctx context.Context, evt business.LedgerEvent) {
	if evt.Origin != "" {
		return
	}
	evt.Origin = l.origin
	id := fmt.Sprintf("%s:%d", evt.Type, evt.OccurredAt.UnixNano())
	if err := l.broadcaster.Broadcast(context.WithoutCancel(ctx), l.exchange, id, evt); err != nil {
		log.WithError(err).WithField("event", evt.Type).Warn("Failed to publish ledger event")
	}
}

var _ business.LedgerObserver = (*LedgerEventPublisher)(nil)

// LedgerEventRelay feeds ledger events committed by other instances (the
// worker's scheduled settlements, other api replicas) into the local notifier,
// so websocket clients and the balance cache see them.
type LedgerEventRelay struct {
	notifier *business.Notifier
	origin   string
	logger   *log.Entry
}

func NewLedgerEventRelay(notifier *business.Notifier, origin string) *LedgerEventRelay {
	return &LedgerEventRelay{notifier: notifier, origin: origin, logger: log.WithField("module", "ledger_event_relay")}
}

// Handle decodes one broadcast event. Events from this instance were already
// delivered locally and are skipped.
func (r *LedgerEventRelay) Handle(ctx context.Context, body []byte) error {
	var evt business.LedgerEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: decode ledger event: %v", config.ErrPermanent, err)
	}
	if evt.Type == "" {
		return fmt.Errorf("%w: ledger event without type", config.ErrPermanent)
	}
	if evt.Origin == r.origin {
		return nil
	}
	if evt.Origin == "" {
		evt.Origin = "unknown"
	}
	r.logger.WithFields(log.Fields{"event": evt.Type, "origin": evt.Origin}).Debug("Relaying ledger event")
	r.notifier.Publish(ctx, evt)
	return nil
}

// SettlementCommand 结算指令，由运营后台或其他服务投递
type SettlementCommand struct {
	Action string `json:"action"`
	Date   string `json:"date,omitempty"`
}

const (
	ActionExecute      = "execute"
	ActionAutoCheck    = "auto_check"
	ActionRetryCredits = "retry_credits"
)

// SettlementRunner is what the command handler needs from the engine and scheduler.
type SettlementRunner interface {
	ExecuteSettlement(ctx context.Context, date string) (*business.ExecuteResult, error)
	RetryFailedCredits(ctx context.Context, date string) (*business.CreditRetryResult, error)
}

// AutoChecker runs the scheduler check once.
type AutoChecker interface {
	RunOnce(ctx context.Context) (*schedule.AutoSettlementResult, error)
}

// CommandHandler executes settlement commands received from the queue.
type CommandHandler struct {
	runner SettlementRunner
	auto   AutoChecker
	logger *log.Entry
}

func NewCommandHandler(runner SettlementRunner, auto AutoChecker) *CommandHandler {
	return &CommandHandler{runner: runner, auto: auto, logger: log.WithField("module", "settlement_command")}
}

// Handle decodes and executes one command. Malformed commands are permanent
// failures; everything else is retried by requeueing.
func (h *CommandHandler) Handle(ctx context.Context, body []byte) error {
	var cmd SettlementCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("%w: decode command: %v", config.ErrPermanent, err)
	}
	logger := h.logger.WithFields(log.Fields{"action": cmd.Action, "date": cmd.Date})

	switch cmd.Action {
	case ActionExecute:
		result, err := h.runner.ExecuteSettlement(ctx, cmd.Date)
		if err != nil {
			if result != nil {
				// the run failed and the settlement is left in failed for a manual retry
				return fmt.Errorf("%w: %v", config.ErrPermanent, err)
			}
			return permanentIfInvalid(err)
		}
		logger.WithFields(log.Fields{"success": result.Success, "message": result.Message}).Info("Settlement command handled")
		return nil
	case ActionAutoCheck:
		if h.auto == nil {
			return fmt.Errorf("%w: auto check not available", config.ErrPermanent)
		}
		res, err := h.auto.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{"executed": res.Executed, "status": res.Status}).Info("Auto settlement command handled")
		return nil
	case ActionRetryCredits:
		result, err := h.runner.RetryFailedCredits(ctx, cmd.Date)
		if err != nil {
			return permanentIfInvalid(err)
		}
		logger.WithFields(log.Fields{"delivered": result.Delivered, "failed": len(result.Failed)}).Info("Credit retry command handled")
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", config.ErrPermanent, cmd.Action)
	}
}

func permanentIfInvalid(err error) error {
	if errors.Is(err, models.ErrInvalidDate) {
		return fmt.Errorf("%w: %v", config.ErrPermanent, err)
	}
	return err
}
