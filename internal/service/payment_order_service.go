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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultOrderListLimit = 100
	maxOrderListLimit     = 500
)

// PaymentOrderOptions carries the config knobs the order service needs.
type PaymentOrderOptions struct {
	Currency   string
	AllowDummy bool
}

// PaymentOrderServiceImpl implements ports.PaymentOrderService.
type PaymentOrderServiceImpl struct {
	users      ports.UserDirectory
	gateway    ports.PaymentGateway
	orderRepo  ports.PaymentOrderRepository
	ledger     ports.LedgerService
	queue      ports.TaskQueue
	notifier   ports.Notifier
	alerter    ports.Alerter
	transactor ports.DBTransactor
	opts       PaymentOrderOptions
	log        zerolog.Logger
}

// NewPaymentOrderService creates a new PaymentOrderServiceImpl.
func NewPaymentOrderService(
	users ports.UserDirectory,
	gateway ports.PaymentGateway,
	orderRepo ports.PaymentOrderRepository,
	ledger ports.LedgerService,
	queue ports.TaskQueue,
	notifier ports.Notifier,
	alerter ports.Alerter,
	transactor ports.DBTransactor,
	opts PaymentOrderOptions,
	log zerolog.Logger,
) *PaymentOrderServiceImpl {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &PaymentOrderServiceImpl{
		users:      users,
		gateway:    gateway,
		orderRepo:  orderRepo,
		ledger:     ledger,
		queue:      queue,
		notifier:   notifier,
		alerter:    alerter,
		transactor: transactor,
		opts:       opts,
		log:        log,
	}
}

// CreatePaymentOrder opens a wallet top-up. Real orders are created with the
// gateway and queued for verification; dummy orders are credited immediately.
func (s *PaymentOrderServiceImpl) CreatePaymentOrder(ctx context.Context, req ports.CreatePaymentOrderRequest) (*domain.PaymentOrder, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.IsDummy && !s.opts.AllowDummy {
		return nil, apperror.ErrDummyDisabled()
	}

	exists, err := s.users.Exists(ctx, req.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("user lookup: %w", err))
	}
	if !exists {
		return nil, apperror.ErrNotFound("User")
	}

	if req.IsDummy {
		return s.createDummyOrder(ctx, req)
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, ports.GatewayOrderRequest{
		Amount:   req.Amount,
		Currency: s.opts.Currency,
		Receipt:  "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Notes:    map[string]string{"user_id": req.UserID},
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.PaymentOrder{
		GatewayOrderID: gwOrder.ID,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       s.opts.Currency,
		Status:         domain.PaymentOrderCreated,
		PaymentDetails: []domain.PaymentDetail{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		s.log.Error().Err(err).Str("gateway_order_id", gwOrder.ID).Msg("gateway order created but not persisted")
		return nil, apperror.InternalError(fmt.Errorf("create payment order: %w", err))
	}

	if err := s.queue.Enqueue(ctx, domain.ReconcileTask{OrderID: order.GatewayOrderID}, 0); err != nil {
		// The id has not reached the user yet, so nobody can pay it.
		s.log.Error().Err(err).Str("gateway_order_id", order.GatewayOrderID).Msg("failed to enqueue payment verification, failing order")
		s.abandon(ctx, order.GatewayOrderID)
		return nil, apperror.InternalError(fmt.Errorf("schedule payment verification: %w", err))
	}

	s.log.Info().
		Str("gateway_order_id", order.GatewayOrderID).
		Str("user_id", order.UserID).
		Int64("amount", order.Amount).
		Msg("payment order created")

	return order, nil
}

// abandon fails an order that was never handed out. If even that fails the
// order would stay CREATED with nothing verifying it, which operators must see.
func (s *PaymentOrderServiceImpl) abandon(ctx context.Context, gatewayOrderID string) {
	_, err := s.MarkOrderStatus(ctx, ports.MarkOrderStatusRequest{
		GatewayOrderID: gatewayOrderID,
		Status:         domain.PaymentOrderFailed,
		PaymentDetails: []domain.PaymentDetail{{
			Source:     "create",
			Status:     "verification_unscheduled",
			ReceivedAt: time.Now().UTC(),
		}},
	})
	if err != nil {
		logger.ConsistencyAlert(s.log).Err(err).Str("gateway_order_id", gatewayOrderID).Msg("unverifiable order left CREATED")
		s.raise(ctx, domain.AlertCritical, apperror.CodeInternal, "payment order left CREATED without verification", gatewayOrderID)
	}
}

// createDummyOrder stores the order CREATED, credits it, then marks it PAID.
// A failed credit leaves an uncredited CREATED order; a failed status change
// leaves a credited CREATED order that MarkOrderStatus(PAID) heals, since the
// credit is keyed by the order id.
func (s *PaymentOrderServiceImpl) createDummyOrder(ctx context.Context, req ports.CreatePaymentOrderRequest) (*domain.PaymentOrder, error) {
	now := time.Now().UTC()
	order := &domain.PaymentOrder{
		GatewayOrderID: domain.DummyOrderPrefix + uuid.NewString(),
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       s.opts.Currency,
		Status:         domain.PaymentOrderCreated,
		PaymentDetails: []domain.PaymentDetail{},
		IsDummy:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create dummy order: %w", err))
	}

	credited, err := s.creditOrder(ctx, order)
	if err != nil {
		s.log.Error().Err(err).Str("gateway_order_id", order.GatewayOrderID).Msg("dummy order credit failed, order left CREATED")
		return nil, err
	}

	paid, err := s.MarkOrderStatus(ctx, ports.MarkOrderStatusRequest{
		GatewayOrderID: order.GatewayOrderID,
		Status:         domain.PaymentOrderPaid,
		PaymentDetails: []domain.PaymentDetail{{
			Source:     "dummy",
			Status:     "captured",
			Amount:     req.Amount,
			ReceivedAt: now,
		}},
	})
	if err != nil {
		logger.ConsistencyAlert(s.log).Err(err).
			Str("gateway_order_id", order.GatewayOrderID).
			Msg("dummy order credited but not marked PAID")
		s.raise(ctx, domain.AlertCritical, apperror.CodeInternal, "dummy order credited but not marked PAID", order.GatewayOrderID)
		return nil, err
	}
	if credited {
		s.notifyCredited(ctx, paid)
	}

	s.log.Info().
		Str("gateway_order_id", paid.GatewayOrderID).
		Str("user_id", paid.UserID).
		Int64("amount", paid.Amount).
		Msg("dummy payment order credited")

	return paid, nil
}

// MarkOrderStatus is the single path that changes a PaymentOrder's status.
// Whenever the order ends up PAID the wallet credit is (re)applied; the
// ledger guarantees it lands once, and the call that lands it notifies.
func (s *PaymentOrderServiceImpl) MarkOrderStatus(ctx context.Context, req ports.MarkOrderStatusRequest) (*domain.PaymentOrder, error) {
	if !req.Status.IsValid() {
		return nil, apperror.Validation(fmt.Sprintf("Invalid order status %q", req.Status))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, req.GatewayOrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock payment order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrUnrecognizedOrder(req.GatewayOrderID)
	}
	if !order.CanTransitionTo(req.Status) {
		if order.Status == domain.PaymentOrderFailed && req.Status == domain.PaymentOrderPaid {
			s.capturedAfterFailure(ctx, order, req.PaymentDetails)
		}
		return nil, apperror.ErrInvalidTransition(string(order.Status), string(req.Status))
	}

	previous := order.Status
	if previous != req.Status || len(req.PaymentDetails) > 0 {
		if err := s.orderRepo.UpdateStatus(ctx, dbTx, order.GatewayOrderID, req.Status, req.PaymentDetails); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("update payment order: %w", err))
		}
		order.Status = req.Status
		order.PaymentDetails = append(order.PaymentDetails, req.PaymentDetails...)
		order.UpdatedAt = time.Now().UTC()
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if previous != order.Status {
		s.log.Info().
			Str("gateway_order_id", order.GatewayOrderID).
			Str("from", string(previous)).
			Str("to", string(order.Status)).
			Msg("payment order status changed")
	}

	switch order.Status {
	case domain.PaymentOrderPaid:
		credited, err := s.creditOrder(ctx, order)
		if err != nil {
			s.log.Error().Err(err).Str("gateway_order_id", order.GatewayOrderID).Msg("paid order credit failed, will heal on retry")
			return nil, err
		}
		if credited {
			s.notifyCredited(ctx, order)
		}
	case domain.PaymentOrderFailed:
		if previous != domain.PaymentOrderFailed {
			s.notifier.Notify(ctx, domain.Notification{
				Kind:        domain.NotificationPaymentFailed,
				UserID:      order.UserID,
				ReferenceID: order.GatewayOrderID,
				Amount:      order.Amount,
				CreatedAt:   time.Now().UTC(),
			})
		}
	}

	return order, nil
}

// GetPaymentOrder returns an order by its gateway id.
func (s *PaymentOrderServiceImpl) GetPaymentOrder(ctx context.Context, gatewayOrderID string) (*domain.PaymentOrder, error) {
	order, err := s.orderRepo.GetByID(ctx, gatewayOrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("Payment order")
	}
	return order, nil
}

// ListPaymentOrders returns a user's orders created within [From, To].
func (s *PaymentOrderServiceImpl) ListPaymentOrders(ctx context.Context, params ports.PaymentOrderListParams) ([]domain.PaymentOrder, error) {
	if params.From != nil && params.To != nil && params.From.After(*params.To) {
		return nil, apperror.Validation("from must not be after to")
	}
	if params.Limit <= 0 {
		params.Limit = defaultOrderListLimit
	}
	if params.Limit > maxOrderListLimit {
		params.Limit = maxOrderListLimit
	}

	orders, err := s.orderRepo.List(ctx, params)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list payment orders: %w", err))
	}
	return orders, nil
}

// creditOrder reports whether this call recorded the credit.
func (s *PaymentOrderServiceImpl) creditOrder(ctx context.Context, order *domain.PaymentOrder) (bool, error) {
	refType := domain.ReferenceOrder
	reason := "wallet top-up"
	if order.IsDummy {
		refType = domain.ReferenceDummyOrder
		reason = "dummy wallet top-up"
	}
	_, created, err := s.ledger.ApplyLedgerEntry(ctx, ports.LedgerEntryRequest{
		UserID:        order.UserID,
		Amount:        order.Amount,
		Direction:     domain.DirectionCredit,
		Reason:        reason,
		ReferenceID:   order.GatewayOrderID,
		ReferenceType: refType,
	})
	return created, err
}

// capturedAfterFailure reports money taken for an order that will never be
// credited. The transition stays rejected; an operator settles it by hand.
func (s *PaymentOrderServiceImpl) capturedAfterFailure(ctx context.Context, order *domain.PaymentOrder, details []domain.PaymentDetail) {
	paymentIDs := make([]string, 0, len(details))
	for _, d := range details {
		if d.PaymentID != "" {
			paymentIDs = append(paymentIDs, d.PaymentID)
		}
	}
	logger.ConsistencyAlert(s.log).
		Str("gateway_order_id", order.GatewayOrderID).
		Str("user_id", order.UserID).
		Int64("amount", order.Amount).
		Strs("payment_ids", paymentIDs).
		Msg("payment captured for FAILED order")
	msg := "payment captured for an order already marked FAILED"
	if len(paymentIDs) > 0 {
		msg += " (payment " + strings.Join(paymentIDs, ", ") + ")"
	}
	s.raise(ctx, domain.AlertCritical, apperror.CodeInvalidTransition, msg, order.GatewayOrderID)
}

func (s *PaymentOrderServiceImpl) notifyCredited(ctx context.Context, order *domain.PaymentOrder) {
	s.notifier.Notify(ctx, domain.Notification{
		Kind:        domain.NotificationWalletCredited,
		UserID:      order.UserID,
		ReferenceID: order.GatewayOrderID,
		Amount:      order.Amount,
		CreatedAt:   time.Now().UTC(),
	})
}

func (s *PaymentOrderServiceImpl) raise(ctx context.Context, sev domain.AlertSeverity, code, msg, ref string) {
	s.alerter.Alert(ctx, domain.Alert{
		Severity:    sev,
		Code:        code,
		Message:     msg,
		ReferenceID: ref,
		CreatedAt:   time.Now().UTC(),
	})
}
