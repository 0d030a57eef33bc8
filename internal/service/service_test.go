package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
	"github.com/punchamoorthee/feeledger/internal/store/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *Services
	store *memory.Store
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	st.AddStudent(domain.Student{ID: "stu-1", FullName: "Amina Otieno", Email: "amina@school.test", Course: "Form 2", IsActive: true})
	st.AddStudent(domain.Student{ID: "stu-2", FullName: "Brian Kato", Email: "brian@school.test", Course: "Form 3", IsActive: true})
	st.AddStudent(domain.Student{ID: "stu-old", FullName: "Former Student", Email: "former@school.test", IsActive: false})

	clock := &testClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	svc := New(st, st, zap.NewNop(), Options{Now: clock.Now})
	return &fixture{svc: svc, store: st, clock: clock}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func (f *fixture) createPayment(t *testing.T, studentID string, amount int64, typ domain.PaymentType) *domain.Payment {
	t.Helper()
	p, err := f.svc.Ledger.CreatePayment(context.Background(), NewPayment{
		StudentID:   studentID,
		Amount:      dec(amount),
		Description: "Term fees " + string(typ),
		DueDate:     f.clock.Now().AddDate(0, 1, 0),
		Type:        typ,
	})
	require.NoError(t, err)
	return p
}

// insertPaidWithoutReceipt writes a payment that has money recorded but no
// receipt, the state left behind by older clients.
func (f *fixture) insertPaidWithoutReceipt(t *testing.T, id string, amount, paid int64) {
	t.Helper()
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPayment(ctx, &domain.Payment{
			ID:          id,
			StudentID:   "stu-1",
			StudentName: "Amina Otieno",
			Amount:      dec(amount),
			AmountPaid:  dec(paid),
			Description: "Legacy " + id,
			Type:        domain.TypeTuition,
			Status:      domain.StatusPartial,
			DueDate:     f.clock.Now(),
			CreatedAt:   f.clock.Now(),
		})
	})
	require.NoError(t, err)
}

var errReceiptStore = errors.New("receipt store unavailable")

// receiptFailStore refuses to insert receipts for the listed payments.
type receiptFailStore struct {
	store.Store
	payments map[string]bool
}

func (s *receiptFailStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &receiptFailTx{Tx: tx, payments: s.payments})
	})
}

type receiptFailTx struct {
	store.Tx
	payments map[string]bool
}

func (t *receiptFailTx) InsertReceipt(ctx context.Context, r *domain.Receipt) error {
	if t.payments[r.PaymentID] {
		return errReceiptStore
	}
	return t.Tx.InsertReceipt(ctx, r)
}

// failReceiptsFor rewires the fixture so receipts for the given payments cannot be stored.
func (f *fixture) failReceiptsFor(paymentIDs ...string) {
	failing := &receiptFailStore{Store: f.store, payments: make(map[string]bool)}
	for _, id := range paymentIDs {
		failing.payments[id] = true
	}
	f.svc = New(failing, f.store, zap.NewNop(), Options{Now: f.clock.Now})
}
