package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

// ResetConfirmation must be passed to Reset to clear the billing data.
const ResetConfirmation = "RESET"

const (
	methodAdmin   = "admin"
	defaultMethod = "online"
)

const moneyScaleMessage = "must be a whole number of cents below 10000000000"

// Ledger owns payment records and every write that changes what a student owes.
type Ledger struct {
	store    store.Store
	students StudentDirectory
	tx       *txRunner
	journal  *Journal
	receipts *ReceiptGenerator
	balances *BalanceAggregator
	log      *zap.Logger
	now      func() time.Time
}

// NewPayment is the input for creating a payment obligation.
type NewPayment struct {
	StudentID   string             `json:"student_id" validate:"required,notblank"`
	Amount      decimal.Decimal    `json:"amount"`
	Description string             `json:"description" validate:"required,notblank,max=500"`
	DueDate     time.Time          `json:"due_date"`
	Type        domain.PaymentType `json:"type" validate:"required,payment_type"`
}

// PaymentEdit is an administrative override. Amounts are absolute values.
type PaymentEdit struct {
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      string          `json:"status" validate:"required,payment_status"`
	Description *string         `json:"description,omitempty" validate:"omitempty,notblank,max=500"`
	// Correction allows a completed payment to be reopened.
	Correction bool   `json:"correction"`
	Reason     string `json:"reason" validate:"required_if=Correction true,max=500"`
}

// PaymentResult is what a settlement produces.
type PaymentResult struct {
	Payment     *domain.Payment     `json:"payment"`
	Transaction *domain.Transaction `json:"transaction"`
	Receipt     *domain.Receipt     `json:"receipt,omitempty"`
	Totals      domain.Totals       `json:"totals"`
}

// EditResult is what an administrative edit produces.
type EditResult struct {
	Payment      *domain.Payment      `json:"payment"`
	Transactions []domain.Transaction `json:"transactions"`
	Receipt      *domain.Receipt      `json:"receipt,omitempty"`
	Totals       domain.Totals        `json:"totals"`
}

// StudentStatement is a student's payments with the totals derived from them.
type StudentStatement struct {
	Student      domain.Student             `json:"student"`
	Payments     []domain.Payment           `json:"payments"`
	Totals       domain.Totals              `json:"totals"`
	Distribution []domain.DistributionEntry `json:"distribution"`
}

// CreatePayment records a new obligation for a student.
func (l *Ledger) CreatePayment(ctx context.Context, in NewPayment) (*domain.Payment, error) {
	if err := validateNewPayment(in); err != nil {
		return nil, err
	}

	st, err := l.students.LookupStudent(ctx, in.StudentID)
	if err != nil {
		return nil, notFound(err, ErrStudentNotFound, in.StudentID)
	}

	now := l.now().UTC()
	p := &domain.Payment{
		ID:            newID(),
		StudentID:     st.ID,
		StudentName:   st.FullName,
		StudentEmail:  st.Email,
		StudentCourse: st.Course,
		Amount:        in.Amount,
		AmountPaid:    decimal.Zero,
		Description:   in.Description,
		DueDate:       in.DueDate.UTC(),
		Type:          in.Type,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = l.tx.run(ctx, "create_payment", func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockStudent(ctx, p.StudentID); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return errors.Wrap(err, "insert payment")
		}
		_, err := l.balances.rebuild(ctx, tx, p.StudentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("payment created",
		zap.String("payment_id", p.ID),
		zap.String("student_id", p.StudentID),
		zap.String("amount", p.Amount.String()),
		zap.String("type", string(p.Type)))
	return p, nil
}

func validateNewPayment(in NewPayment) error {
	var fields []FieldError
	if err := validateStruct(in); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		fields = append(fields, ve.Fields...)
	}
	switch {
	case !in.Amount.IsPositive():
		fields = append(fields, FieldError{Field: "amount", Error: "must be greater than zero"})
	case !domain.ValidMoney(in.Amount):
		fields = append(fields, FieldError{Field: "amount", Error: moneyScaleMessage})
	}
	if in.DueDate.IsZero() {
		fields = append(fields, FieldError{Field: "due_date", Error: "this field is required"})
	}
	if len(fields) > 0 {
		return NewValidationError(errors.New("invalid payment"), fields...)
	}
	return nil
}

// RecordStudentPayment applies money received from a student to a payment.
// The payment update, its journal entry, its receipt and the balance view are
// written in one transaction; concurrent settlements of the same payment are
// serialized and each is checked against the remaining amount it observes.
func (l *Ledger) RecordStudentPayment(ctx context.Context, paymentID string, amount decimal.Decimal, method string) (*PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, errors.Wrap(ErrInvalidAmount, "amount must be greater than zero")
	}
	if !domain.ValidMoney(amount) {
		return nil, NewValidationError(ErrInvalidAmount, FieldError{Field: "amount", Error: moneyScaleMessage})
	}
	if method == "" {
		method = defaultMethod
	}

	peek, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, notFound(err, ErrPaymentNotFound, paymentID)
	}

	var (
		res            *PaymentResult
		receiptWritten bool
	)
	err = l.tx.run(ctx, "record_payment", func(ctx context.Context, tx store.Tx) error {
		receiptWritten = false
		if err := tx.LockStudent(ctx, peek.StudentID); err != nil {
			return err
		}
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return notFound(err, ErrPaymentNotFound, paymentID)
		}

		remaining := p.Remaining()
		if amount.GreaterThan(remaining) {
			return errors.Wrapf(ErrInvalidAmount, "amount %s exceeds remaining balance %s", amount, remaining)
		}

		before, err := l.balances.outstanding(ctx, tx, p.StudentID)
		if err != nil {
			return err
		}

		p.AmountPaid = p.AmountPaid.Add(amount)
		next := domain.SettlementStatus(*p)
		if err := domain.CheckTransition(p.Status, next, domain.ActorStudent, false); err != nil {
			return err
		}
		p.Status = next
		p.UpdatedAt = l.now().UTC()
		if err := p.Validate(); err != nil {
			return err
		}

		txn, err := l.journal.Append(ctx, tx, Entry{
			StudentID:     p.StudentID,
			PaymentID:     p.ID,
			Amount:        amount,
			Type:          domain.TxnPayment,
			Method:        method,
			Note:          "Payment towards " + p.Description,
			BalanceBefore: before,
		})
		if err != nil {
			return err
		}

		rcpt, changed, err := l.receipts.issue(ctx, tx, p, method, false)
		if err != nil {
			return &ReceiptGenerationError{PaymentID: p.ID, Err: err}
		}
		receiptWritten = changed

		if err := tx.UpdatePayment(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		totals, err := l.balances.rebuild(ctx, tx, p.StudentID)
		if err != nil {
			return err
		}

		res = &PaymentResult{Payment: p, Transaction: txn, Receipt: rcpt, Totals: totals}
		return nil
	})
	if err != nil {
		return nil, err
	}

	paymentsRecorded.Inc()
	if receiptWritten {
		receiptsGenerated.WithLabelValues("settlement").Inc()
	}
	l.log.Info("payment recorded",
		zap.String("payment_id", res.Payment.ID),
		zap.String("student_id", res.Payment.StudentID),
		zap.String("amount", amount.String()),
		zap.String("status", string(res.Payment.Status)),
		zap.String("transaction", res.Transaction.Number))
	return res, nil
}

// EditPayment applies an administrative override. Every monetary difference is
// journaled, and the receipt is refreshed when the paid amount changed.
func (l *Ledger) EditPayment(ctx context.Context, paymentID string, edit PaymentEdit) (*EditResult, error) {
	if err := validateStruct(edit); err != nil {
		return nil, err
	}
	status, _ := domain.ParseStatus(edit.Status)
	if !edit.TotalAmount.IsPositive() {
		return nil, NewValidationError(ErrInvalidAmount, FieldError{Field: "total_amount", Error: "must be greater than zero"})
	}
	if edit.AmountPaid.IsNegative() || edit.AmountPaid.GreaterThan(edit.TotalAmount) {
		return nil, NewValidationError(ErrInvalidAmount, FieldError{Field: "amount_paid", Error: "must be between zero and total_amount"})
	}
	var scale []FieldError
	if !domain.ValidMoney(edit.TotalAmount) {
		scale = append(scale, FieldError{Field: "total_amount", Error: moneyScaleMessage})
	}
	if !domain.ValidMoney(edit.AmountPaid) {
		scale = append(scale, FieldError{Field: "amount_paid", Error: moneyScaleMessage})
	}
	if len(scale) > 0 {
		return nil, NewValidationError(ErrInvalidAmount, scale...)
	}

	peek, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, notFound(err, ErrPaymentNotFound, paymentID)
	}

	var res *EditResult
	err = l.tx.run(ctx, "edit_payment", func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockStudent(ctx, peek.StudentID); err != nil {
			return err
		}
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return notFound(err, ErrPaymentNotFound, paymentID)
		}
		if err := domain.CheckTransition(p.Status, status, domain.ActorAdmin, edit.Correction); err != nil {
			return err
		}

		balance, err := l.balances.outstanding(ctx, tx, p.StudentID)
		if err != nil {
			return err
		}

		var txns []domain.Transaction
		appendEntry := func(e Entry) error {
			e.StudentID, e.PaymentID, e.BalanceBefore = p.StudentID, p.ID, balance
			t, err := l.journal.Append(ctx, tx, e)
			if err != nil {
				return err
			}
			balance = t.BalanceAfter
			txns = append(txns, *t)
			return nil
		}

		owedDelta := edit.TotalAmount.Sub(p.Amount)
		if !owedDelta.IsZero() {
			if err := appendEntry(Entry{
				Amount: owedDelta.Neg(),
				Type:   domain.TxnAdjustment,
				Method: methodAdmin,
				Note:   "Amount owed changed from " + p.Amount.String() + " to " + edit.TotalAmount.String(),
			}); err != nil {
				return err
			}
		}

		paidDelta := edit.AmountPaid.Sub(p.AmountPaid)
		switch {
		case paidDelta.IsPositive():
			err = appendEntry(Entry{Amount: paidDelta, Type: domain.TxnPayment, Method: methodAdmin, Note: "Payment recorded by administrator"})
		case paidDelta.IsNegative():
			err = appendEntry(Entry{Amount: paidDelta, Type: domain.TxnAdjustment, Method: methodAdmin, Note: "Paid amount corrected from " + p.AmountPaid.String() + " to " + edit.AmountPaid.String()})
		}
		if err != nil {
			return err
		}

		if p.Status == domain.StatusCompleted && status != domain.StatusCompleted {
			if err := appendEntry(Entry{Amount: decimal.Zero, Type: domain.TxnAdjustment, Method: methodAdmin, Note: "Correction: " + edit.Reason}); err != nil {
				return err
			}
		}

		p.Amount = edit.TotalAmount
		p.AmountPaid = edit.AmountPaid
		p.Status = status
		if edit.Description != nil {
			p.Description = *edit.Description
		}
		p.UpdatedAt = l.now().UTC()
		if err := p.Validate(); err != nil {
			return err
		}

		var rcpt *domain.Receipt
		if !paidDelta.IsZero() && p.AmountPaid.IsPositive() {
			rcpt, _, err = l.receipts.issue(ctx, tx, p, methodAdmin, true)
			if err != nil {
				return &ReceiptGenerationError{PaymentID: p.ID, Err: err}
			}
		}

		if err := tx.UpdatePayment(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		totals, err := l.balances.rebuild(ctx, tx, p.StudentID)
		if err != nil {
			return err
		}

		res = &EditResult{Payment: p, Transactions: txns, Receipt: rcpt, Totals: totals}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("payment edited",
		zap.String("payment_id", res.Payment.ID),
		zap.String("status", string(res.Payment.Status)),
		zap.String("amount", res.Payment.Amount.String()),
		zap.String("amount_paid", res.Payment.AmountPaid.String()),
		zap.Int("journal_entries", len(res.Transactions)),
		zap.Bool("correction", edit.Correction))
	return res, nil
}

// MarkOverdue moves pending and partial payments whose due date has passed to
// overdue. Payments that changed since they were listed are re-checked.
func (l *Ledger) MarkOverdue(ctx context.Context) (int, error) {
	now := l.now().UTC()
	candidates, err := l.store.ListPayments(ctx, store.PaymentFilter{
		Statuses:  []domain.PaymentStatus{domain.StatusPending, domain.StatusPartial},
		DueBefore: now,
	})
	if err != nil {
		return 0, errors.Wrap(err, "list overdue candidates")
	}

	marked := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		changed := false
		err := l.tx.run(ctx, "mark_overdue", func(ctx context.Context, tx store.Tx) error {
			changed = false
			p, err := tx.LockPayment(ctx, c.ID)
			if err != nil {
				return err
			}
			if !p.DueDate.Before(now) || domain.CheckTransition(p.Status, domain.StatusOverdue, domain.ActorSystem, false) != nil {
				return nil
			}
			p.Status = domain.StatusOverdue
			p.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			l.log.Warn("mark overdue failed", zap.String("payment_id", c.ID), zap.Error(err))
			continue
		}
		if changed {
			marked++
		}
	}
	if marked > 0 {
		l.log.Info("payments marked overdue", zap.Int("count", marked))
	}
	return marked, nil
}

// GetPayment fetches one payment.
func (l *Ledger) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := l.store.GetPayment(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrPaymentNotFound, id)
	}
	return p, nil
}

// StudentStatement returns a student's payments with derived totals.
func (l *Ledger) StudentStatement(ctx context.Context, studentID string) (*StudentStatement, error) {
	st, err := l.students.LookupStudent(ctx, studentID)
	if err != nil {
		return nil, notFound(err, ErrStudentNotFound, studentID)
	}
	payments, err := l.store.ListPayments(ctx, store.PaymentFilter{StudentID: studentID})
	if err != nil {
		return nil, errors.Wrapf(err, "list payments for student %s", studentID)
	}
	return &StudentStatement{
		Student:      *st,
		Payments:     payments,
		Totals:       domain.ComputeTotals(payments),
		Distribution: l.balances.PaymentDistribution(payments),
	}, nil
}

// Reset deletes every payment, transaction, receipt and balance in one transaction.
func (l *Ledger) Reset(ctx context.Context, confirm string) error {
	if confirm != ResetConfirmation {
		return NewValidationError(ErrResetNotConfirmed, FieldError{Field: "confirm", Error: "must be " + ResetConfirmation})
	}
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ResetBilling(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "reset billing data")
	}
	l.log.Warn("billing data reset")
	return nil
}
