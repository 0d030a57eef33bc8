package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

// BalanceAggregator derives student totals from the payment ledger. The stored
// balance view is rebuilt from the same computation inside every ledger write.
type BalanceAggregator struct {
	store store.Store
	now   func() time.Time
}

// StudentTotals sums the student's payments.
func (b *BalanceAggregator) StudentTotals(ctx context.Context, studentID string) (domain.Totals, error) {
	payments, err := b.store.ListPayments(ctx, store.PaymentFilter{StudentID: studentID})
	if err != nil {
		return domain.Totals{}, errors.Wrapf(err, "list payments for student %s", studentID)
	}
	return domain.ComputeTotals(payments), nil
}

// PaymentDistribution splits the owed amount of payments by category.
func (b *BalanceAggregator) PaymentDistribution(payments []domain.Payment) []domain.DistributionEntry {
	return domain.Distribution(payments)
}

// Drift compares the stored balance view with the derived totals.
type Drift struct {
	StudentID string                 `json:"student_id"`
	Stored    *domain.StudentBalance `json:"stored,omitempty"`
	Derived   domain.Totals          `json:"derived"`
	InSync    bool                   `json:"in_sync"`
}

// Reconcile reports whether the stored balance for a student matches the ledger.
func (b *BalanceAggregator) Reconcile(ctx context.Context, studentID string) (Drift, error) {
	derived, err := b.StudentTotals(ctx, studentID)
	if err != nil {
		return Drift{}, err
	}
	d := Drift{StudentID: studentID, Derived: derived}

	stored, err := b.store.GetBalance(ctx, studentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		d.InSync = derived.PaymentCount == 0
		return d, nil
	case err != nil:
		return Drift{}, errors.Wrapf(err, "get balance for student %s", studentID)
	}
	d.Stored = stored
	d.InSync = stored.TotalDue.Equal(derived.TotalDue) &&
		stored.TotalPaid.Equal(derived.TotalPaid) &&
		stored.Outstanding.Equal(derived.Outstanding)
	return d, nil
}

func (b *BalanceAggregator) outstanding(ctx context.Context, tx store.Tx, studentID string) (decimal.Decimal, error) {
	payments, err := tx.ListPayments(ctx, store.PaymentFilter{StudentID: studentID})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "list payments for student %s", studentID)
	}
	return domain.ComputeTotals(payments).Outstanding, nil
}

// rebuild recomputes and stores the balance view for a student inside tx.
func (b *BalanceAggregator) rebuild(ctx context.Context, tx store.Tx, studentID string) (domain.Totals, error) {
	payments, err := tx.ListPayments(ctx, store.PaymentFilter{StudentID: studentID})
	if err != nil {
		return domain.Totals{}, errors.Wrapf(err, "list payments for student %s", studentID)
	}
	totals := domain.ComputeTotals(payments)

	bal := totals.Balance(studentID)
	bal.UpdatedAt = b.now().UTC()
	if err := tx.PutBalance(ctx, bal); err != nil {
		return domain.Totals{}, errors.Wrapf(err, "store balance for student %s", studentID)
	}
	return totals, nil
}
