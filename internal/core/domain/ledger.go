package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the sign of a ledger mutation.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// ReferenceType tags which aggregate caused a ledger mutation.
type ReferenceType string

const (
	ReferenceOrder         ReferenceType = "ORDER"
	ReferenceDummyOrder    ReferenceType = "DUMMY_ORDER"
	ReferenceRefund        ReferenceType = "REFUND"
	ReferenceSessionCharge ReferenceType = "SESSION_CHARGE"
)

// ledgerNamespace seeds the name-based ids of ledger transactions.
var ledgerNamespace = uuid.MustParse("6f1c0f55-5e0b-4d8e-9d55-3a0f6f0f6b1e")

// Balance is a user's spendable amount in minor units. Never negative.
type Balance struct {
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerTransaction is an immutable record of one balance mutation.
type LedgerTransaction struct {
	ID               uuid.UUID     `json:"id"`
	UserID           string        `json:"user_id"`
	Direction        Direction     `json:"direction"`
	Amount           int64         `json:"amount"`
	ResultingBalance int64         `json:"resulting_balance"`
	Reason           string        `json:"reason"`
	ReferenceID      string        `json:"reference_id"`
	ReferenceType    ReferenceType `json:"reference_type"`
	CreatedAt        time.Time     `json:"created_at"`
}

// LedgerTransactionID derives the transaction id from its reference, so at most
// one transaction can ever exist per (referenceType, referenceID).
func LedgerTransactionID(referenceType ReferenceType, referenceID string) uuid.UUID {
	return uuid.NewSHA1(ledgerNamespace, []byte(string(referenceType)+":"+referenceID))
}

// BuildLedgerCacheKey constructs the idempotency cache key for a reference.
func BuildLedgerCacheKey(referenceType ReferenceType, referenceID string) string {
	return string(referenceType) + ":" + referenceID
}

// Delta returns the signed balance change for a direction.
func (d Direction) Delta(amount int64) int64 {
	if d == DirectionDebit {
		return -amount
	}
	return amount
}

// IsValid reports whether d is a known direction.
func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}
