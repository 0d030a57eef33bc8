// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

var _ store.Store = (*Store)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is backed by a pgx connection pool.
type Store struct {
	reader
	pool *pgxpool.Pool
}

// New connects to connString and verifies the connection.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse database config")
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to ping database")
	}

	return &Store{reader: reader{q: pool}, pool: pool}, nil
}

// Pool exposes the pool for bulk loaders.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// InTx runs fn in a REPEATABLE READ transaction. Rows are locked with
// SELECT ... FOR UPDATE; losing a race surfaces as store.ErrConflict.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return errors.Wrap(mapErr(err), "tx begin failed")
	}
	defer pgTx.Rollback(ctx)

	if err := fn(ctx, &tx{reader: reader{q: pgTx}}); err != nil {
		return mapErr(err)
	}
	if err := pgTx.Commit(ctx); err != nil {
		return errors.Wrap(mapErr(err), "tx commit failed")
	}
	return nil
}

func (s *Store) LookupStudent(ctx context.Context, id string) (*domain.Student, error) {
	var st domain.Student
	err := s.pool.QueryRow(ctx,
		"SELECT id, full_name, email, course, grade_level, is_active FROM students WHERE id = $1", id,
	).Scan(&st.ID, &st.FullName, &st.Email, &st.Course, &st.GradeLevel, &st.IsActive)
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "student %s", id)
	}
	return &st, nil
}

// UpsertStudent writes a directory record. Billing never writes students;
// this exists for seeding and tests.
func (s *Store) UpsertStudent(ctx context.Context, st domain.Student) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO students (id, full_name, email, course, grade_level, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email,
			course = EXCLUDED.course, grade_level = EXCLUDED.grade_level, is_active = EXCLUDED.is_active`,
		st.ID, st.FullName, st.Email, st.Course, st.GradeLevel, st.IsActive)
	return errors.Wrapf(mapErr(err), "upsert student %s", st.ID)
}

func (s *Store) ListActiveStudents(ctx context.Context) ([]domain.Student, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, full_name, email, course, grade_level, is_active FROM students WHERE is_active ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "list students")
	}
	defer rows.Close()

	out := make([]domain.Student, 0)
	for rows.Next() {
		var st domain.Student
		if err := rows.Scan(&st.ID, &st.FullName, &st.Email, &st.Course, &st.GradeLevel, &st.IsActive); err != nil {
			return nil, errors.Wrap(err, "scan student")
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// mapErr converts driver errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(store.ErrNotFound, err.Error())
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return errors.Wrap(store.ErrConflict, pgErr.Message)
		case "23505":
			return errors.Wrap(store.ErrDuplicate, pgErr.Message)
		}
	}
	return err
}

const paymentColumns = `id, student_id, student_name, student_email, student_course, amount, amount_paid,
	description, due_date, type, status, receipt_generated, receipt_id, last_receipt_update,
	version, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p         domain.Payment
		receiptID *string
	)
	err := row.Scan(&p.ID, &p.StudentID, &p.StudentName, &p.StudentEmail, &p.StudentCourse,
		&p.Amount, &p.AmountPaid, &p.Description, &p.DueDate, &p.Type, &p.Status,
		&p.ReceiptGenerated, &receiptID, &p.LastReceiptUpdate, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if receiptID != nil {
		p.ReceiptID = *receiptID
	}
	if st, ok := domain.ParseStatus(string(p.Status)); ok {
		p.Status = st
	}
	return &p, nil
}

const transactionColumns = `id, number, student_id, COALESCE(payment_id, ''), amount, type, status, method, note,
	balance_before, balance_after, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.Number, &t.StudentID, &t.PaymentID, &t.Amount, &t.Type, &t.Status,
		&t.Method, &t.Note, &t.BalanceBefore, &t.BalanceAfter, &t.Date)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const receiptColumns = `id, number, student_id, student_name, student_email, student_course,
	COALESCE(payment_id, ''), items, subtotal, tax, total, payment_method, status, idempotency_key,
	issued_at, updated_at`

func scanReceipt(row pgx.Row) (*domain.Receipt, error) {
	var r domain.Receipt
	err := row.Scan(&r.ID, &r.Number, &r.StudentID, &r.StudentName, &r.StudentEmail, &r.StudentCourse,
		&r.PaymentID, &r.Items, &r.Subtotal, &r.Tax, &r.Total, &r.PaymentMethod, &r.Status,
		&r.IdempotencyKey, &r.Date, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// where accumulates SQL conditions and their positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) addRaw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
