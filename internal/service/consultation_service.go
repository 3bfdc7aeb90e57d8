package service

import (
	"context"
	"fmt"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"
	"settlement-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// bookingSettleWindow is how long a new order may go without its session
// charge before a refund request for it is treated as an inconsistency.
const bookingSettleWindow = time.Minute

// ConsultationServiceImpl implements ports.ConsultationService.
type ConsultationServiceImpl struct {
	orderRepo ports.ConsultationOrderRepository
	ledger    ports.LedgerService
	users     ports.UserDirectory
	notifier  ports.Notifier
	alerter   ports.Alerter
	now       func() time.Time
	log       zerolog.Logger
}

// NewConsultationService creates a new ConsultationServiceImpl.
func NewConsultationService(
	orderRepo ports.ConsultationOrderRepository,
	ledger ports.LedgerService,
	users ports.UserDirectory,
	notifier ports.Notifier,
	alerter ports.Alerter,
	log zerolog.Logger,
) *ConsultationServiceImpl {
	return &ConsultationServiceImpl{
		orderRepo: orderRepo,
		ledger:    ledger,
		users:     users,
		notifier:  notifier,
		alerter:   alerter,
		now:       time.Now,
		log:       log,
	}
}

// Create books a session and charges the user's wallet. If the charge fails
// the order is removed again.
func (s *ConsultationServiceImpl) Create(ctx context.Context, req ports.CreateConsultationRequest) (*domain.ConsultationOrder, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.ProviderID == req.UserID {
		return nil, apperror.Validation("Cannot book a consultation with yourself")
	}

	exists, err := s.users.Exists(ctx, req.ProviderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("provider lookup: %w", err))
	}
	if !exists {
		return nil, apperror.ErrNotFound("Provider")
	}

	// Early rejection only; the debit below is what actually enforces funds.
	balance, err := s.ledger.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance < req.Amount {
		return nil, apperror.ErrInsufficientBalance()
	}

	now := time.Now().UTC()
	order := &domain.ConsultationOrder{
		ID:         uuid.New(),
		UserID:     req.UserID,
		ProviderID: req.ProviderID,
		Amount:     req.Amount,
		Status:     domain.ConsultationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create consultation order: %w", err))
	}

	_, _, debitErr := s.ledger.ApplyLedgerEntry(ctx, ports.LedgerEntryRequest{
		UserID:        order.UserID,
		Amount:        order.Amount,
		Direction:     domain.DirectionDebit,
		Reason:        "consultation charge",
		ReferenceID:   order.ID.String(),
		ReferenceType: domain.ReferenceSessionCharge,
	})
	if debitErr != nil {
		if err := s.orderRepo.Delete(ctx, order.ID); err != nil {
			logger.ConsistencyAlert(s.log).Err(err).
				AnErr("debit_error", debitErr).
				Str("consultation_id", order.ID.String()).
				Msg("orphan consultation order left after failed debit")
			s.alerter.Alert(ctx, domain.Alert{
				Severity:    domain.AlertCritical,
				Code:        apperror.CodeInternal,
				Message:     "consultation order without charge could not be removed",
				ReferenceID: order.ID.String(),
				CreatedAt:   time.Now().UTC(),
			})
		}
		return nil, debitErr
	}

	s.notifier.Notify(ctx, domain.Notification{
		Kind:        domain.NotificationConsultationBooked,
		UserID:      order.UserID,
		ReferenceID: order.ID.String(),
		Amount:      order.Amount,
		Data:        map[string]string{"provider_id": order.ProviderID},
		CreatedAt:   time.Now().UTC(),
	})

	s.log.Info().
		Str("consultation_id", order.ID.String()).
		Str("user_id", order.UserID).
		Str("provider_id", order.ProviderID).
		Int64("amount", order.Amount).
		Msg("consultation booked")

	return order, nil
}

// Apply executes a status command against a consultation order.
func (s *ConsultationServiceImpl) Apply(ctx context.Context, orderID uuid.UUID, cmd domain.ConsultationCommand) (*domain.ConsultationOrder, error) {
	switch c := cmd.(type) {
	case domain.StartConsultation:
		return s.transition(ctx, orderID, domain.ConsultationActive)
	case domain.CompleteConsultation:
		return s.complete(ctx, orderID)
	case domain.CancelConsultation:
		if c.Refund {
			return s.refund(ctx, orderID)
		}
		return s.transition(ctx, orderID, domain.ConsultationCancelled)
	case domain.RefundConsultation:
		return s.refund(ctx, orderID)
	default:
		return nil, apperror.Validation(fmt.Sprintf("Unsupported consultation command %T", cmd))
	}
}

// Get returns a consultation order by id.
func (s *ConsultationServiceImpl) Get(ctx context.Context, orderID uuid.UUID) (*domain.ConsultationOrder, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get consultation order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("Consultation order")
	}
	return order, nil
}

func (s *ConsultationServiceImpl) complete(ctx context.Context, orderID uuid.UUID) (*domain.ConsultationOrder, error) {
	order, err := s.transition(ctx, orderID, domain.ConsultationCompleted)
	if err != nil {
		return nil, err
	}
	if err := s.users.IncrementConsultationCount(ctx, order.ProviderID); err != nil {
		s.log.Warn().Err(err).
			Str("consultation_id", order.ID.String()).
			Str("provider_id", order.ProviderID).
			Msg("failed to increment provider consultation count")
	}
	return order, nil
}

// refund moves the order to REFUNDED and returns the charge. Repeating it on
// an already refunded order re-applies the same idempotent credit, which
// heals a refund whose credit failed. An order whose charge never landed is
// refused.
func (s *ConsultationServiceImpl) refund(ctx context.Context, orderID uuid.UUID) (*domain.ConsultationOrder, error) {
	charge, err := s.ledger.FindEntry(ctx, orderID.String(), domain.ReferenceSessionCharge)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, s.refuseUnchargedRefund(ctx, orderID)
	}

	order, err := s.orderRepo.Transition(ctx, orderID, domain.ConsultationRefunded,
		domain.ConsultationRefunded.AllowedFrom(), time.Now().UTC())
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("refund consultation order: %w", err))
	}

	if order == nil {
		current, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current.Status != domain.ConsultationRefunded {
			return nil, apperror.ErrInvalidTransition(string(current.Status), string(domain.ConsultationRefunded))
		}
		order = current
	}

	_, credited, err := s.ledger.ApplyLedgerEntry(ctx, ports.LedgerEntryRequest{
		UserID:        order.UserID,
		Amount:        order.Amount,
		Direction:     domain.DirectionCredit,
		Reason:        "consultation refund",
		ReferenceID:   order.ID.String(),
		ReferenceType: domain.ReferenceRefund,
	})
	if err != nil {
		s.log.Error().Err(err).Str("consultation_id", order.ID.String()).Msg("refund credit failed, repeat the refund to heal")
		return nil, err
	}

	if credited {
		s.notifier.Notify(ctx, domain.Notification{
			Kind:        domain.NotificationConsultationRefunded,
			UserID:      order.UserID,
			ReferenceID: order.ID.String(),
			Amount:      order.Amount,
			CreatedAt:   time.Now().UTC(),
		})
		s.log.Info().Str("consultation_id", order.ID.String()).Int64("amount", order.Amount).Msg("consultation refunded")
	}

	return order, nil
}

// refuseUnchargedRefund rejects a refund for an order with no session charge.
// A booking still inside its settle window may simply not have committed its
// debit yet, so only older orders raise an alert.
func (s *ConsultationServiceImpl) refuseUnchargedRefund(ctx context.Context, orderID uuid.UUID) error {
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if s.now().Sub(current.CreatedAt) < bookingSettleWindow {
		s.log.Warn().
			Str("consultation_id", orderID.String()).
			Msg("refund requested before booking charge settled")
		return apperror.ErrInvalidTransition(string(current.Status), string(domain.ConsultationRefunded))
	}
	logger.ConsistencyAlert(s.log).
		Str("consultation_id", orderID.String()).
		Str("status", string(current.Status)).
		Msg("refund requested for consultation that was never charged")
	s.alerter.Alert(ctx, domain.Alert{
		Severity:    domain.AlertCritical,
		Code:        apperror.CodeInvalidTransition,
		Message:     "refund refused: consultation order has no session charge",
		ReferenceID: orderID.String(),
		CreatedAt:   time.Now().UTC(),
	})
	return apperror.ErrInvalidTransition(string(current.Status), string(domain.ConsultationRefunded))
}

func (s *ConsultationServiceImpl) transition(ctx context.Context, orderID uuid.UUID, to domain.ConsultationStatus) (*domain.ConsultationOrder, error) {
	order, err := s.orderRepo.Transition(ctx, orderID, to, to.AllowedFrom(), time.Now().UTC())
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("transition consultation order: %w", err))
	}
	if order == nil {
		current, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, apperror.ErrInvalidTransition(string(current.Status), string(to))
	}

	s.log.Info().
		Str("consultation_id", order.ID.String()).
		Str("status", string(order.Status)).
		Msg("consultation status changed")

	return order, nil
}
