package service

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

func TestJournalAppend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		entry   Entry
		wantErr error
		after   decimal.Decimal
	}{
		{
			name:  "payment lowers the balance",
			entry: Entry{StudentID: "stu-1", Amount: dec(250), Type: domain.TxnPayment, BalanceBefore: dec(1000)},
			after: dec(750),
		},
		{
			name:  "negative adjustment raises the balance",
			entry: Entry{StudentID: "stu-1", Amount: dec(-100), Type: domain.TxnAdjustment, BalanceBefore: dec(750)},
			after: dec(850),
		},
		{
			name:  "zero adjustment records a correction",
			entry: Entry{StudentID: "stu-1", Amount: decimal.Zero, Type: domain.TxnAdjustment, BalanceBefore: dec(850)},
			after: dec(850),
		},
		{
			name:    "zero payment is rejected",
			entry:   Entry{StudentID: "stu-1", Amount: decimal.Zero, Type: domain.TxnPayment},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative payment is rejected",
			entry:   Entry{StudentID: "stu-1", Amount: dec(-5), Type: domain.TxnPayment},
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got *domain.Transaction
			err := f.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				var err error
				got, err = f.svc.Journal.Append(ctx, tx, tc.entry)
				return err
			})
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.BalanceAfter.Equal(tc.after), got.BalanceAfter.String())
			assert.True(t, got.Reconciles())
			assert.Equal(t, domain.StatusTransactionCompleted, got.Status)
		})
	}

	txns, err := f.svc.Journal.ListByStudent(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, "TXN-000003", txns[0].Number, "most recent first")

	got, err := f.svc.Journal.Get(ctx, "TXN-000001")
	require.NoError(t, err)
	assert.Equal(t, txns[2].ID, got.ID)

	byID, err := f.svc.Journal.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "TXN-000001", byID.Number)

	_, err = f.svc.Journal.Get(ctx, "TXN-404")
	assert.True(t, errors.Is(err, ErrTransactionNotFound))
}

func TestJournalListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPayment(t, "stu-1", 1000, domain.TypeTuition)
	_, err := f.svc.Ledger.RecordStudentPayment(ctx, p.ID, dec(100), "")
	require.NoError(t, err)
	_, err = f.svc.Ledger.EditPayment(ctx, p.ID, PaymentEdit{AmountPaid: dec(100), TotalAmount: dec(900), Status: "partial"})
	require.NoError(t, err)

	adjustments, err := f.svc.Journal.List(ctx, store.TransactionFilter{Type: domain.TxnAdjustment})
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.True(t, adjustments[0].Amount.Equal(dec(100)))

	forPayment, err := f.svc.Journal.List(ctx, store.TransactionFilter{PaymentID: p.ID})
	require.NoError(t, err)
	assert.Len(t, forPayment, 2)
}
