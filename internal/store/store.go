// Package store defines the persistence contract for the billing ledger.
// Implementations live in the memory, postgres and mongo subpackages.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/punchamoorthee/feeledger/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a concurrent writer won. The operation may be retried.
	ErrConflict = errors.New("store: concurrent update conflict")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Sequence names a monotonic counter used for display numbers.
type Sequence string

const (
	SeqTransaction Sequence = "transaction_number"
	SeqReceipt     Sequence = "receipt_number"
)

// PaymentFilter narrows ListPayments. Zero values match everything.
type PaymentFilter struct {
	StudentID string
	Statuses  []domain.PaymentStatus
	// Unreceipted selects payments with money received but no receipt yet.
	Unreceipted bool
	DueBefore   time.Time
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	StudentID string
	PaymentID string
	Type      domain.TransactionType
	From      time.Time
	To        time.Time
}

// ReceiptFilter narrows ListReceipts. Search is a case-insensitive substring
// matched against number, student name, email and item descriptions.
type ReceiptFilter struct {
	StudentID string
	From      time.Time
	Search    string
}

// Reader holds the read operations available inside and outside a transaction.
type Reader interface {
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]domain.Payment, error)
	GetTransaction(ctx context.Context, idOrNumber string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]domain.Transaction, error)
	GetReceipt(ctx context.Context, idOrNumber string) (*domain.Receipt, error)
	ListReceipts(ctx context.Context, f ReceiptFilter) ([]domain.Receipt, error)
	GetBalance(ctx context.Context, studentID string) (*domain.StudentBalance, error)
}

// Tx is a unit of work. Everything written through a Tx commits or rolls back together.
type Tx interface {
	Reader

	// LockStudent serializes ledger writes for one student until the Tx ends.
	LockStudent(ctx context.Context, studentID string) error
	// LockPayment reads a payment and holds it against concurrent writers.
	LockPayment(ctx context.Context, id string) (*domain.Payment, error)

	InsertPayment(ctx context.Context, p *domain.Payment) error
	// UpdatePayment writes p if the stored version still equals p.Version and
	// bumps p.Version. A stale version yields ErrConflict.
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	InsertReceipt(ctx context.Context, r *domain.Receipt) error
	UpdateReceipt(ctx context.Context, r *domain.Receipt) error
	PutBalance(ctx context.Context, b domain.StudentBalance) error
	NextNumber(ctx context.Context, seq Sequence) (int64, error)

	// ResetBilling removes every payment, transaction, receipt and balance.
	ResetBilling(ctx context.Context) error
}

// Store is a billing ledger backend.
type Store interface {
	Reader

	// InTx runs fn in one atomic unit. fn must use the context it is given.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Student directory reads, served from the same database.
	LookupStudent(ctx context.Context, id string) (*domain.Student, error)
	ListActiveStudents(ctx context.Context) ([]domain.Student, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
