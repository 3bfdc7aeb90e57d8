package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"

	"github.com/rs/zerolog"
)

const (
	idempotencyTTL      = 24 * time.Hour
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	balanceRepo ports.BalanceRepository
	ledgerRepo  ports.LedgerRepository
	idempCache  ports.IdempotencyCache
	transactor  ports.DBTransactor
	log         zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	balanceRepo ports.BalanceRepository,
	ledgerRepo ports.LedgerRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		idempCache:  idempCache,
		transactor:  transactor,
		log:         log,
	}
}

// ApplyLedgerEntry credits or debits a wallet exactly once per reference.
// A repeated request returns the originally recorded transaction unchanged
// with created=false.
func (s *LedgerServiceImpl) ApplyLedgerEntry(ctx context.Context, req ports.LedgerEntryRequest) (*domain.LedgerTransaction, bool, error) {
	if req.Amount <= 0 {
		return nil, false, apperror.ErrInvalidAmount()
	}
	if !req.Direction.IsValid() {
		return nil, false, apperror.Validation(fmt.Sprintf("Invalid ledger direction %q", req.Direction))
	}
	if req.UserID == "" || req.ReferenceID == "" || req.ReferenceType == "" {
		return nil, false, apperror.Validation("user_id, reference_id and reference_type are required")
	}

	cacheKey := domain.BuildLedgerCacheKey(req.ReferenceType, req.ReferenceID)

	// Layer 1: Redis
	cached, err := s.idempCache.Get(ctx, cacheKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("redis ledger cache check failed, falling through to DB")
	}
	if cached != nil {
		var entry domain.LedgerTransaction
		if err := json.Unmarshal(cached, &entry); err == nil {
			return &entry, false, nil
		}
		s.log.Warn().Str("key", cacheKey).Msg("corrupt ledger cache entry ignored")
	}

	// Layer 2: DB
	existing, err := s.ledgerRepo.GetByReference(ctx, req.ReferenceID, req.ReferenceType)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("ledger lookup: %w", err))
	}
	if existing != nil {
		s.cacheEntry(ctx, cacheKey, existing)
		return existing, false, nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	newBalance, err := s.balanceRepo.Adjust(ctx, dbTx, req.UserID, req.Direction.Delta(req.Amount), 0)
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientFunds) {
			// A concurrent duplicate may have committed the same debit while we
			// waited on the row lock; answer with its entry instead.
			if winner := s.committedDuplicate(ctx, req); winner != nil {
				return winner, false, nil
			}
			return nil, false, apperror.ErrInsufficientBalance()
		}
		return nil, false, apperror.InternalError(fmt.Errorf("adjust balance: %w", err))
	}

	entry := &domain.LedgerTransaction{
		ID:               domain.LedgerTransactionID(req.ReferenceType, req.ReferenceID),
		UserID:           req.UserID,
		Direction:        req.Direction,
		Amount:           req.Amount,
		ResultingBalance: newBalance,
		Reason:           req.Reason,
		ReferenceID:      req.ReferenceID,
		ReferenceType:    req.ReferenceType,
		CreatedAt:        time.Now().UTC(),
	}

	stored, created, err := s.ledgerRepo.Append(ctx, dbTx, entry)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("append ledger transaction: %w", err))
	}
	if !created {
		// Lost the race: undo our balance delta and hand back the winner.
		if err := dbTx.Rollback(ctx); err != nil {
			return nil, false, apperror.InternalError(fmt.Errorf("rollback duplicate: %w", err))
		}
		s.log.Info().
			Str("reference_id", req.ReferenceID).
			Str("reference_type", string(req.ReferenceType)).
			Msg("concurrent duplicate ledger entry discarded")
		s.cacheEntry(ctx, cacheKey, stored)
		return stored, false, nil
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.cacheEntry(ctx, cacheKey, entry)

	s.log.Info().
		Str("ledger_id", entry.ID.String()).
		Str("user_id", entry.UserID).
		Str("direction", string(entry.Direction)).
		Int64("amount", entry.Amount).
		Int64("balance", entry.ResultingBalance).
		Str("reference_id", entry.ReferenceID).
		Str("reference_type", string(entry.ReferenceType)).
		Msg("ledger entry applied")

	return entry, true, nil
}

// GetBalance returns the user's balance, zero if they never had a ledger operation.
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, userID string) (int64, error) {
	b, err := s.balanceRepo.Get(ctx, userID)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("get balance: %w", err))
	}
	if b == nil {
		return 0, nil
	}
	return b.Amount, nil
}

// FindEntry looks up the committed entry for a reference in the ledger
// itself, bypassing the idempotency cache.
func (s *LedgerServiceImpl) FindEntry(ctx context.Context, referenceID string, referenceType domain.ReferenceType) (*domain.LedgerTransaction, error) {
	entry, err := s.ledgerRepo.GetByReference(ctx, referenceID, referenceType)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find ledger entry: %w", err))
	}
	return entry, nil
}

// ListTransactions returns the user's most recent ledger transactions.
func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.LedgerTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.ledgerRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list ledger transactions: %w", err))
	}
	return entries, nil
}

func (s *LedgerServiceImpl) committedDuplicate(ctx context.Context, req ports.LedgerEntryRequest) *domain.LedgerTransaction {
	existing, err := s.ledgerRepo.GetByReference(ctx, req.ReferenceID, req.ReferenceType)
	if err != nil {
		s.log.Warn().Err(err).Str("reference_id", req.ReferenceID).Msg("duplicate re-check failed")
		return nil
	}
	return existing
}

func (s *LedgerServiceImpl) cacheEntry(ctx context.Context, key string, entry *domain.LedgerTransaction) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, key, data, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache ledger entry")
	}
}
