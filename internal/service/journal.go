package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

// Journal is the append-only audit trail of money moving against payments.
type Journal struct {
	store store.Store
	now   func() time.Time
}

// Entry describes a journal line to append. BalanceAfter is derived.
type Entry struct {
	StudentID     string
	PaymentID     string
	Amount        decimal.Decimal
	Type          domain.TransactionType
	Method        string
	Note          string
	BalanceBefore decimal.Decimal
}

// Append writes an immutable transaction inside tx. Only adjustments may carry
// a zero amount, which records a status correction without money moving.
func (j *Journal) Append(ctx context.Context, tx store.Tx, e Entry) (*domain.Transaction, error) {
	if e.Amount.IsZero() && e.Type != domain.TxnAdjustment {
		return nil, errors.Wrapf(ErrInvalidAmount, "%s entry needs a non-zero amount", e.Type)
	}
	if e.Type == domain.TxnPayment && e.Amount.IsNegative() {
		return nil, errors.Wrap(ErrInvalidAmount, "payment entry must credit the student")
	}

	n, err := tx.NextNumber(ctx, store.SeqTransaction)
	if err != nil {
		return nil, errors.Wrap(err, "next transaction number")
	}

	t := &domain.Transaction{
		ID:            newID(),
		Number:        formatNumber("TXN", n),
		StudentID:     e.StudentID,
		PaymentID:     e.PaymentID,
		Amount:        e.Amount,
		Type:          e.Type,
		Status:        domain.StatusTransactionCompleted,
		Method:        e.Method,
		Note:          e.Note,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceBefore.Sub(e.Amount),
		Date:          j.now().UTC(),
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, errors.Wrapf(err, "insert transaction %s", t.Number)
	}
	return t, nil
}

// ListByStudent returns the student's journal, most recent first.
func (j *Journal) ListByStudent(ctx context.Context, studentID string) ([]domain.Transaction, error) {
	return j.List(ctx, store.TransactionFilter{StudentID: studentID})
}

// List returns journal entries matching f, most recent first.
func (j *Journal) List(ctx context.Context, f store.TransactionFilter) ([]domain.Transaction, error) {
	txns, err := j.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	return txns, nil
}

// Get finds a transaction by id or display number.
func (j *Journal) Get(ctx context.Context, idOrNumber string) (*domain.Transaction, error) {
	t, err := j.store.GetTransaction(ctx, idOrNumber)
	if err != nil {
		return nil, notFound(err, ErrTransactionNotFound, idOrNumber)
	}
	return t, nil
}
