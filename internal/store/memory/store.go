// Package memory is an in-process Store used by tests and the "memory" driver.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

var _ store.Store = (*Store)(nil)

type state struct {
	students     map[string]domain.Student
	payments     map[string]domain.Payment
	transactions []domain.Transaction
	receipts     map[string]domain.Receipt
	balances     map[string]domain.StudentBalance
	seqs         map[store.Sequence]int64
}

func newState() *state {
	return &state{
		students: make(map[string]domain.Student),
		payments: make(map[string]domain.Payment),
		receipts: make(map[string]domain.Receipt),
		balances: make(map[string]domain.StudentBalance),
		seqs:     make(map[store.Sequence]int64),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.transactions = append(c.transactions, s.transactions...)
	for k, v := range s.receipts {
		v.Items = append([]domain.ReceiptItem(nil), v.Items...)
		c.receipts[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.seqs {
		c.seqs[k] = v
	}
	return c
}

// Store keeps all data in maps. Write transactions are serialized and staged
// on a copy that replaces the live state only when fn succeeds.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	st      *state
}

func New() *Store {
	return &Store{st: newState()}
}

// AddStudent registers a student in the directory.
func (s *Store) AddStudent(st domain.Student) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := s.st.clone()
	next.students[st.ID] = st
	s.st = next
	s.mu.Unlock()
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	staged := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{state: staged}); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = staged
	s.mu.Unlock()
	return nil
}

// read returns the committed state. Committed states are never mutated after
// the swap, so callers may use the snapshot without holding the lock.
func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.read().GetPayment(ctx, id)
}

func (s *Store) ListPayments(ctx context.Context, f store.PaymentFilter) ([]domain.Payment, error) {
	return s.read().ListPayments(ctx, f)
}

func (s *Store) GetTransaction(ctx context.Context, idOrNumber string) (*domain.Transaction, error) {
	return s.read().GetTransaction(ctx, idOrNumber)
}

func (s *Store) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]domain.Transaction, error) {
	return s.read().ListTransactions(ctx, f)
}

func (s *Store) GetReceipt(ctx context.Context, idOrNumber string) (*domain.Receipt, error) {
	return s.read().GetReceipt(ctx, idOrNumber)
}

func (s *Store) ListReceipts(ctx context.Context, f store.ReceiptFilter) ([]domain.Receipt, error) {
	return s.read().ListReceipts(ctx, f)
}

func (s *Store) GetBalance(ctx context.Context, studentID string) (*domain.StudentBalance, error) {
	return s.read().GetBalance(ctx, studentID)
}

func (s *Store) LookupStudent(_ context.Context, id string) (*domain.Student, error) {
	st, ok := s.read().students[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "student %s", id)
	}
	return &st, nil
}

func (s *Store) ListActiveStudents(_ context.Context) ([]domain.Student, error) {
	out := make([]domain.Student, 0)
	for _, st := range s.read().students {
		if st.IsActive {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

// Reader implementation on a state snapshot.

func (s *state) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "payment %s", id)
	}
	return &p, nil
}

func (s *state) ListPayments(_ context.Context, f store.PaymentFilter) ([]domain.Payment, error) {
	out := make([]domain.Payment, 0)
	for _, p := range s.payments {
		if f.StudentID != "" && p.StudentID != f.StudentID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, p.Status) {
			continue
		}
		if f.Unreceipted && (p.ReceiptGenerated || !p.AmountPaid.IsPositive()) {
			continue
		}
		if !f.DueBefore.IsZero() && !p.DueDate.Before(f.DueBefore) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func hasStatus(ss []domain.PaymentStatus, s domain.PaymentStatus) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (s *state) GetTransaction(_ context.Context, idOrNumber string) (*domain.Transaction, error) {
	for _, t := range s.transactions {
		if t.ID == idOrNumber || t.Number == idOrNumber {
			return &t, nil
		}
	}
	return nil, errors.Wrapf(store.ErrNotFound, "transaction %s", idOrNumber)
}

func (s *state) ListTransactions(_ context.Context, f store.TransactionFilter) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if f.StudentID != "" && t.StudentID != f.StudentID {
			continue
		}
		if f.PaymentID != "" && t.PaymentID != f.PaymentID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if !f.From.IsZero() && t.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.Date.Before(f.To) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *state) GetReceipt(_ context.Context, idOrNumber string) (*domain.Receipt, error) {
	if r, ok := s.receipts[idOrNumber]; ok {
		return &r, nil
	}
	for _, r := range s.receipts {
		if r.Number == idOrNumber {
			return &r, nil
		}
	}
	return nil, errors.Wrapf(store.ErrNotFound, "receipt %s", idOrNumber)
}

func (s *state) ListReceipts(_ context.Context, f store.ReceiptFilter) ([]domain.Receipt, error) {
	q := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]domain.Receipt, 0)
	for _, r := range s.receipts {
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if !f.From.IsZero() && r.Date.Before(f.From) {
			continue
		}
		if q != "" && !receiptMatches(r, q) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].Number > out[j].Number
		}
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

func receiptMatches(r domain.Receipt, q string) bool {
	fields := []string{r.Number, r.StudentName, r.StudentEmail}
	for _, it := range r.Items {
		fields = append(fields, it.Description)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func (s *state) GetBalance(_ context.Context, studentID string) (*domain.StudentBalance, error) {
	b, ok := s.balances[studentID]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "balance for student %s", studentID)
	}
	return &b, nil
}

type tx struct {
	*state
}

func (t *tx) LockStudent(context.Context, string) error { return nil }

func (t *tx) LockPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return t.GetPayment(ctx, id)
}

func (t *tx) InsertPayment(_ context.Context, p *domain.Payment) error {
	if _, ok := t.payments[p.ID]; ok {
		return errors.Wrapf(store.ErrDuplicate, "payment %s", p.ID)
	}
	p.Version = 1
	t.payments[p.ID] = *p
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *domain.Payment) error {
	cur, ok := t.payments[p.ID]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "payment %s", p.ID)
	}
	if cur.Version != p.Version {
		return errors.Wrapf(store.ErrConflict, "payment %s at version %d, have %d", p.ID, cur.Version, p.Version)
	}
	p.Version++
	t.payments[p.ID] = *p
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, txn *domain.Transaction) error {
	for _, x := range t.transactions {
		if x.ID == txn.ID || x.Number == txn.Number {
			return errors.Wrapf(store.ErrDuplicate, "transaction %s", txn.Number)
		}
	}
	t.transactions = append(t.transactions, *txn)
	return nil
}

func (t *tx) InsertReceipt(_ context.Context, r *domain.Receipt) error {
	for _, x := range t.receipts {
		if x.ID == r.ID || x.Number == r.Number || (r.PaymentID != "" && x.PaymentID == r.PaymentID) {
			return errors.Wrapf(store.ErrDuplicate, "receipt %s", r.Number)
		}
	}
	cp := *r
	cp.Items = append([]domain.ReceiptItem(nil), r.Items...)
	t.receipts[r.ID] = cp
	return nil
}

func (t *tx) UpdateReceipt(_ context.Context, r *domain.Receipt) error {
	if _, ok := t.receipts[r.ID]; !ok {
		return errors.Wrapf(store.ErrNotFound, "receipt %s", r.ID)
	}
	cp := *r
	cp.Items = append([]domain.ReceiptItem(nil), r.Items...)
	t.receipts[r.ID] = cp
	return nil
}

func (t *tx) PutBalance(_ context.Context, b domain.StudentBalance) error {
	t.balances[b.StudentID] = b
	return nil
}

func (t *tx) NextNumber(_ context.Context, seq store.Sequence) (int64, error) {
	t.seqs[seq]++
	return t.seqs[seq], nil
}

func (t *tx) ResetBilling(context.Context) error {
	t.payments = make(map[string]domain.Payment)
	t.transactions = nil
	t.receipts = make(map[string]domain.Receipt)
	t.balances = make(map[string]domain.StudentBalance)
	return nil
}
