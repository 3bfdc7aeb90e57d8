package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"
	"settlement-engine/pkg/logger"

	"github.com/rs/zerolog"
)

// ReconcileOptions tunes the payment verification retry loop.
type ReconcileOptions struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PollInterval time.Duration
	BatchSize    int64
}

// ReconcileWorker polls the gateway for orders whose confirmation has not
// arrived and settles them once the gateway reports a terminal status.
type ReconcileWorker struct {
	queue   ports.TaskQueue
	gateway ports.PaymentGateway
	orders  ports.PaymentOrderService
	ledger  ports.LedgerService
	alerter ports.Alerter
	opts    ReconcileOptions
	log     zerolog.Logger
}

// NewReconcileWorker creates a new ReconcileWorker.
func NewReconcileWorker(
	queue ports.TaskQueue,
	gateway ports.PaymentGateway,
	orders ports.PaymentOrderService,
	ledger ports.LedgerService,
	alerter ports.Alerter,
	opts ReconcileOptions,
	log zerolog.Logger,
) *ReconcileWorker {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 30 * time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	return &ReconcileWorker{
		queue:   queue,
		gateway: gateway,
		orders:  orders,
		ledger:  ledger,
		alerter: alerter,
		opts:    opts,
		log:     log,
	}
}

// Run polls the queue until ctx is cancelled. A task in flight when ctx is
// cancelled is finished with its own deadline-free context.
func (w *ReconcileWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.log.Info().
		Int("max_attempts", w.opts.MaxAttempts).
		Dur("base_delay", w.opts.BaseDelay).
		Dur("max_delay", w.opts.MaxDelay).
		Msg("reconcile worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("reconcile worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("reconcile poll failed")
			}
		}
	}
}

// RunOnce leases one batch of due tasks and processes them in order. A task is
// acked only once it has been settled, rescheduled or given up on; anything
// else leaves it leased so the queue hands it out again.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.queue.Dequeue(ctx, w.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("dequeue: %w", err)
	}
	for _, task := range tasks {
		taskCtx := context.WithoutCancel(ctx)
		taskLog := w.log.With().Str("gateway_order_id", task.OrderID).Int("try", task.TryCounter).Logger()

		if err := w.ProcessTask(taskCtx, task); err != nil {
			taskLog.Error().Err(err).Msg("reconcile task failed, redelivered after lease")
			continue
		}
		if err := w.queue.Ack(taskCtx, task); err != nil {
			taskLog.Warn().Err(err).Msg("reconcile task ack failed, may run again")
		}
	}
	return len(tasks), nil
}

// ProcessTask verifies one order with the gateway and either settles it,
// schedules the next attempt, or gives up and fails the order.
func (w *ReconcileWorker) ProcessTask(ctx context.Context, task domain.ReconcileTask) error {
	taskLog := w.log.With().Str("gateway_order_id", task.OrderID).Int("try", task.TryCounter).Logger()

	if strings.HasPrefix(task.OrderID, domain.DummyOrderPrefix) {
		taskLog.Warn().Msg("reconcile: dummy order task dropped")
		return nil
	}

	status, err := w.gateway.FetchOrderStatus(ctx, task.OrderID)
	if err != nil {
		if apperror.Is(err, apperror.CodeUnrecognizedOrder) {
			taskLog.Warn().Msg("reconcile: gateway does not know the order")
			return w.giveUp(ctx, task, nil, apperror.ErrUnrecognizedOrder(task.OrderID), "unknown_at_gateway")
		}
		taskLog.Warn().Err(err).Msg("reconcile: gateway status unavailable")
		return w.retry(ctx, task, nil)
	}

	if !status.Status.IsTerminal() {
		taskLog.Debug().Msg("reconcile: order still pending at gateway")
		return w.retry(ctx, task, status.Details)
	}

	_, err = w.orders.MarkOrderStatus(ctx, ports.MarkOrderStatusRequest{
		GatewayOrderID: task.OrderID,
		Status:         status.Status,
		PaymentDetails: status.Details,
	})
	switch {
	case err == nil:
		taskLog.Info().Str("status", string(status.Status)).Msg("reconcile: order settled")
		return nil
	case apperror.Is(err, apperror.CodeInvalidTransition):
		taskLog.Warn().Err(err).Msg("reconcile: order already settled differently")
		return nil
	case apperror.Is(err, apperror.CodeUnrecognizedOrder):
		taskLog.Warn().Msg("reconcile: order not found locally, dropped")
		return nil
	default:
		taskLog.Error().Err(err).Msg("reconcile: settling order failed")
		return w.retry(ctx, task, nil)
	}
}

// retry schedules the next attempt, or fails the order once attempts run out.
// details are the latest gateway observations, recorded when giving up.
func (w *ReconcileWorker) retry(ctx context.Context, task domain.ReconcileTask, details []domain.PaymentDetail) error {
	if task.TryCounter+1 < w.opts.MaxAttempts {
		next := domain.ReconcileTask{OrderID: task.OrderID, TryCounter: task.TryCounter + 1}
		delay := w.Backoff(task.TryCounter)
		if err := w.queue.Enqueue(ctx, next, delay); err != nil {
			return fmt.Errorf("re-enqueue %s: %w", task.OrderID, err)
		}
		w.log.Debug().Str("gateway_order_id", task.OrderID).Int("next_try", next.TryCounter).Dur("delay", delay).Msg("reconcile: retry scheduled")
		return nil
	}
	return w.giveUp(ctx, task, details, apperror.ErrMaxRetriesExceeded(task.OrderID), "verification_exhausted")
}

// giveUp fails the order and raises reason as a critical alert. outcome is
// recorded on the order as the reconcile detail status.
func (w *ReconcileWorker) giveUp(ctx context.Context, task domain.ReconcileTask, details []domain.PaymentDetail, reason *apperror.AppError, outcome string) error {
	details = append(details, domain.PaymentDetail{
		Source:     "reconcile",
		Status:     outcome,
		ReceivedAt: time.Now().UTC(),
	})
	_, err := w.orders.MarkOrderStatus(ctx, ports.MarkOrderStatusRequest{
		GatewayOrderID: task.OrderID,
		Status:         domain.PaymentOrderFailed,
		PaymentDetails: details,
	})
	switch {
	case err == nil:
	case apperror.Is(err, apperror.CodeInvalidTransition):
		return w.checkSettledCredit(ctx, task, reason)
	case apperror.Is(err, apperror.CodeUnrecognizedOrder):
		w.log.Warn().Err(err).Str("gateway_order_id", task.OrderID).Msg("reconcile: order vanished before giving up")
		return nil
	default:
		return fmt.Errorf("fail order %s: %w", task.OrderID, err)
	}

	w.log.Warn().Str("gateway_order_id", task.OrderID).Int("attempts", task.TryCounter+1).Msg(reason.Message)
	w.alerter.Alert(ctx, domain.Alert{
		Severity:    domain.AlertCritical,
		Code:        reason.Code,
		Message:     reason.Message,
		ReferenceID: task.OrderID,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

// checkSettledCredit runs when an order could not be failed because it already
// reached a terminal status. A PAID order whose credit never landed has run
// out of heal attempts and needs an operator.
func (w *ReconcileWorker) checkSettledCredit(ctx context.Context, task domain.ReconcileTask, reason *apperror.AppError) error {
	order, err := w.orders.GetPaymentOrder(ctx, task.OrderID)
	if err != nil {
		return fmt.Errorf("load settled order %s: %w", task.OrderID, err)
	}
	if order.Status == domain.PaymentOrderPaid {
		credit, err := w.ledger.FindEntry(ctx, task.OrderID, domain.ReferenceOrder)
		if err != nil {
			return fmt.Errorf("find credit for %s: %w", task.OrderID, err)
		}
		if credit == nil {
			logger.ConsistencyAlert(w.log).
				Str("gateway_order_id", order.GatewayOrderID).
				Str("user_id", order.UserID).
				Int64("amount", order.Amount).
				Int("attempts", task.TryCounter+1).
				Msg("paid order never credited")
			w.alerter.Alert(ctx, domain.Alert{
				Severity:    domain.AlertCritical,
				Code:        reason.Code,
				Message:     "payment order is PAID but the wallet was never credited",
				ReferenceID: task.OrderID,
				CreatedAt:   time.Now().UTC(),
			})
			return nil
		}
	}

	w.log.Warn().
		Str("gateway_order_id", task.OrderID).
		Str("status", string(order.Status)).
		Msg("reconcile: order resolved elsewhere before giving up")
	return nil
}

// Backoff returns min(base * 2^try, max).
func (w *ReconcileWorker) Backoff(try int) time.Duration {
	if try < 0 {
		try = 0
	}
	d := w.opts.BaseDelay
	for i := 0; i < try; i++ {
		d *= 2
		if d >= w.opts.MaxDelay {
			return w.opts.MaxDelay
		}
	}
	return d
}
