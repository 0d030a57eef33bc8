package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

// reader serves store.Reader from either the pool or an open transaction.
type reader struct {
	q querier
}

func (r reader) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id))
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "payment %s", id)
	}
	return p, nil
}

func (r reader) ListPayments(ctx context.Context, f store.PaymentFilter) ([]domain.Payment, error) {
	var w where
	if f.StudentID != "" {
		w.add("student_id = $%d", f.StudentID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY($%d)", statuses)
	}
	if f.Unreceipted {
		w.addRaw("receipt_generated = FALSE AND amount_paid > 0")
	}
	if !f.DueBefore.IsZero() {
		w.add("due_date < $%d", f.DueBefore)
	}

	rows, err := r.q.Query(ctx, "SELECT "+paymentColumns+" FROM payments"+w.String()+" ORDER BY created_at, id", w.args...)
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "list payments")
	}
	return collect(rows, scanPayment)
}

func (r reader) GetTransaction(ctx context.Context, idOrNumber string) (*domain.Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1 OR number = $1", idOrNumber))
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "transaction %s", idOrNumber)
	}
	return t, nil
}

func (r reader) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]domain.Transaction, error) {
	var w where
	if f.StudentID != "" {
		w.add("student_id = $%d", f.StudentID)
	}
	if f.PaymentID != "" {
		w.add("payment_id = $%d", f.PaymentID)
	}
	if f.Type != "" {
		w.add("type = $%d", string(f.Type))
	}
	if !f.From.IsZero() {
		w.add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("created_at < $%d", f.To)
	}

	rows, err := r.q.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions"+w.String()+" ORDER BY created_at DESC, number DESC", w.args...)
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "list transactions")
	}
	return collect(rows, scanTransaction)
}

func (r reader) GetReceipt(ctx context.Context, idOrNumber string) (*domain.Receipt, error) {
	rc, err := scanReceipt(r.q.QueryRow(ctx,
		"SELECT "+receiptColumns+" FROM receipts WHERE id = $1 OR number = $1", idOrNumber))
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "receipt %s", idOrNumber)
	}
	return rc, nil
}

func (r reader) ListReceipts(ctx context.Context, f store.ReceiptFilter) ([]domain.Receipt, error) {
	var w where
	if f.StudentID != "" {
		w.add("student_id = $%d", f.StudentID)
	}
	if !f.From.IsZero() {
		w.add("issued_at >= $%d", f.From)
	}
	if f.Search != "" {
		w.add(`(number ILIKE $%[1]d OR student_name ILIKE $%[1]d OR student_email ILIKE $%[1]d OR EXISTS (
			SELECT 1 FROM jsonb_array_elements(items) AS item WHERE item->>'description' ILIKE $%[1]d))`,
			"%"+likeEscaper.Replace(f.Search)+"%")
	}

	rows, err := r.q.Query(ctx,
		"SELECT "+receiptColumns+" FROM receipts"+w.String()+" ORDER BY issued_at DESC, number DESC", w.args...)
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "list receipts")
	}
	return collect(rows, scanReceipt)
}

func (r reader) GetBalance(ctx context.Context, studentID string) (*domain.StudentBalance, error) {
	var b domain.StudentBalance
	err := r.q.QueryRow(ctx,
		"SELECT student_id, total_due, total_paid, outstanding, updated_at FROM student_balances WHERE student_id = $1",
		studentID,
	).Scan(&b.StudentID, &b.TotalDue, &b.TotalPaid, &b.Outstanding, &b.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "balance for student %s", studentID)
	}
	return &b, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		out = append(out, *v)
	}
	return out, mapErr(rows.Err())
}
