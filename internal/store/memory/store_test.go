package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

func newPayment(id string) *domain.Payment {
	return &domain.Payment{
		ID:         id,
		StudentID:  "stu-1",
		Amount:     decimal.NewFromInt(100),
		AmountPaid: decimal.Zero,
		Status:     domain.StatusPending,
		Type:       domain.TypeFees,
		CreatedAt:  time.Now(),
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertPayment(ctx, newPayment("p1")))
		_, err := tx.NextNumber(ctx, store.SeqReceipt)
		require.NoError(t, err)
		return boom
	})
	assert.Equal(t, boom, err)

	_, err = s.GetPayment(ctx, "p1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.NextNumber(ctx, store.SeqReceipt)
		assert.Equal(t, int64(1), n)
		return err
	})
	require.NoError(t, err)
}

func TestUpdatePaymentVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPayment(ctx, newPayment("p1"))
	}))

	stale, err := s.GetPayment(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockPayment(ctx, "p1")
		if err != nil {
			return err
		}
		p.AmountPaid = decimal.NewFromInt(10)
		return tx.UpdatePayment(ctx, p)
	}))

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdatePayment(ctx, stale)
	})
	assert.True(t, errors.Is(err, store.ErrConflict))

	got, err := s.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.AmountPaid.Equal(decimal.NewFromInt(10)))
}

func TestOneReceiptPerPayment(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertReceipt(ctx, &domain.Receipt{ID: "r1", Number: "RCP-000001", PaymentID: "p1"}); err != nil {
			return err
		}
		return tx.InsertReceipt(ctx, &domain.Receipt{ID: "r2", Number: "RCP-000002", PaymentID: "p1"})
	})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	list, err := s.ListReceipts(ctx, store.ReceiptFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListReceiptsSearch(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertReceipt(ctx, &domain.Receipt{
			ID: "r1", Number: "RCP-000001", StudentName: "Amina Otieno", StudentEmail: "amina@school.test",
			Items: []domain.ReceiptItem{{Description: "Term 1 tuition"}}, Date: time.Now(),
		}); err != nil {
			return err
		}
		return tx.InsertReceipt(ctx, &domain.Receipt{
			ID: "r2", Number: "RCP-000002", StudentName: "Brian Kato", StudentEmail: "brian@school.test",
			Items: []domain.ReceiptItem{{Description: "Hostel"}}, Date: time.Now(),
		})
	}))

	tests := []struct {
		search string
		want   []string
	}{
		{"amina", []string{"r1"}},
		{"HOSTEL", []string{"r2"}},
		{"rcp-0000", []string{"r2", "r1"}},
		{"nobody", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.search, func(t *testing.T) {
			got, err := s.ListReceipts(ctx, store.ReceiptFilter{Search: tc.search})
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.ElementsMatch(t, tc.want, ids)
		})
	}
}

func TestStudentDirectory(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddStudent(domain.Student{ID: "stu-2", FullName: "Inactive", IsActive: false})
	s.AddStudent(domain.Student{ID: "stu-1", FullName: "Active", IsActive: true})

	st, err := s.LookupStudent(ctx, "stu-2")
	require.NoError(t, err)
	assert.Equal(t, "Inactive", st.FullName)

	_, err = s.LookupStudent(ctx, "stu-9")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	active, err := s.ListActiveStudents(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "stu-1", active[0].ID)
}
