package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

var sequences = map[store.Sequence]string{
	store.SeqTransaction: "transaction_number_seq",
	store.SeqReceipt:     "receipt_number_seq",
}

type tx struct {
	reader
}

// LockStudent takes the row lock on the student's balance row, creating it on
// first use. Every ledger write for the student goes through this lock.
func (t *tx) LockStudent(ctx context.Context, studentID string) error {
	_, err := t.q.Exec(ctx,
		"INSERT INTO student_balances (student_id) VALUES ($1) ON CONFLICT (student_id) DO NOTHING", studentID)
	if err != nil {
		return errors.Wrapf(mapErr(err), "create balance row for %s", studentID)
	}
	var id string
	err = t.q.QueryRow(ctx,
		"SELECT student_id FROM student_balances WHERE student_id = $1 FOR UPDATE", studentID).Scan(&id)
	if err != nil {
		return errors.Wrapf(mapErr(err), "lock student %s", studentID)
	}
	return nil
}

func (t *tx) LockPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(t.q.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "lock payment %s", id)
	}
	return p, nil
}

func (t *tx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	p.Version = 1
	_, err := t.q.Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.StudentID, p.StudentName, p.StudentEmail, p.StudentCourse, p.Amount, p.AmountPaid,
		p.Description, p.DueDate, string(p.Type), string(p.Status), p.ReceiptGenerated, nullable(p.ReceiptID),
		p.LastReceiptUpdate, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return errors.Wrapf(mapErr(err), "insert payment %s", p.ID)
	}
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	tag, err := t.q.Exec(ctx, `UPDATE payments SET
			amount = $3, amount_paid = $4, description = $5, due_date = $6, status = $7,
			receipt_generated = $8, receipt_id = $9, last_receipt_update = $10, updated_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version, p.Amount, p.AmountPaid, p.Description, p.DueDate, string(p.Status),
		p.ReceiptGenerated, nullable(p.ReceiptID), p.LastReceiptUpdate, p.UpdatedAt)
	if err != nil {
		return errors.Wrapf(mapErr(err), "update payment %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(store.ErrConflict, "payment %s changed since version %d", p.ID, p.Version)
	}
	p.Version++
	return nil
}

func (t *tx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	_, err := t.q.Exec(ctx, `INSERT INTO transactions
		(id, number, student_id, payment_id, amount, type, status, method, note, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		txn.ID, txn.Number, txn.StudentID, nullable(txn.PaymentID), txn.Amount, string(txn.Type), txn.Status,
		txn.Method, txn.Note, txn.BalanceBefore, txn.BalanceAfter, txn.Date)
	if err != nil {
		return errors.Wrapf(mapErr(err), "insert transaction %s", txn.Number)
	}
	return nil
}

func (t *tx) InsertReceipt(ctx context.Context, r *domain.Receipt) error {
	_, err := t.q.Exec(ctx, `INSERT INTO receipts
		(id, number, student_id, student_name, student_email, student_course, payment_id, items,
		 subtotal, tax, total, payment_method, status, idempotency_key, issued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.Number, r.StudentID, r.StudentName, r.StudentEmail, r.StudentCourse, nullable(r.PaymentID),
		r.Items, r.Subtotal, r.Tax, r.Total, r.PaymentMethod, r.Status, r.IdempotencyKey, r.Date, r.UpdatedAt)
	if err != nil {
		return errors.Wrapf(mapErr(err), "insert receipt %s", r.Number)
	}
	return nil
}

func (t *tx) UpdateReceipt(ctx context.Context, r *domain.Receipt) error {
	tag, err := t.q.Exec(ctx, `UPDATE receipts SET
			items = $2, subtotal = $3, tax = $4, total = $5, payment_method = $6,
			idempotency_key = $7, updated_at = $8
		WHERE id = $1`,
		r.ID, r.Items, r.Subtotal, r.Tax, r.Total, r.PaymentMethod, r.IdempotencyKey, r.UpdatedAt)
	if err != nil {
		return errors.Wrapf(mapErr(err), "update receipt %s", r.Number)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(store.ErrNotFound, "receipt %s", r.ID)
	}
	return nil
}

func (t *tx) PutBalance(ctx context.Context, b domain.StudentBalance) error {
	_, err := t.q.Exec(ctx, `INSERT INTO student_balances (student_id, total_due, total_paid, outstanding, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id) DO UPDATE SET
			total_due = EXCLUDED.total_due, total_paid = EXCLUDED.total_paid,
			outstanding = EXCLUDED.outstanding, updated_at = EXCLUDED.updated_at`,
		b.StudentID, b.TotalDue, b.TotalPaid, b.Outstanding, b.UpdatedAt)
	if err != nil {
		return errors.Wrapf(mapErr(err), "store balance for %s", b.StudentID)
	}
	return nil
}

func (t *tx) NextNumber(ctx context.Context, seq store.Sequence) (int64, error) {
	name, ok := sequences[seq]
	if !ok {
		return 0, errors.Errorf("unknown sequence %q", seq)
	}
	var n int64
	if err := t.q.QueryRow(ctx, "SELECT nextval($1::regclass)", name).Scan(&n); err != nil {
		return 0, errors.Wrapf(mapErr(err), "nextval %s", name)
	}
	return n, nil
}

func (t *tx) ResetBilling(ctx context.Context) error {
	_, err := t.q.Exec(ctx, "TRUNCATE payments, transactions, receipts, student_balances")
	return errors.Wrap(mapErr(err), "truncate billing tables")
}
