package mongo

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/punchamoorthee/feeledger/internal/domain"
)

// Money is stored as Decimal128 so range filters compare numerically. Like
// the NUMERIC(14,2) columns of the postgres store it keeps two places.

func toDec128(d decimal.Decimal) bson.Decimal128 {
	v, err := bson.ParseDecimal128(d.StringFixed(domain.MoneyPlaces))
	if err != nil {
		// Amounts are bounded by domain.MaxAmount, far inside Decimal128 range.
		panic(err)
	}
	return v
}

func fromDec128(v bson.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	return d, errors.Wrapf(err, "decode decimal %s", v.String())
}

type studentModel struct {
	ID         string `bson:"_id"`
	FullName   string `bson:"full_name"`
	Email      string `bson:"email"`
	Course     string `bson:"course"`
	GradeLevel string `bson:"grade_level"`
	IsActive   bool   `bson:"is_active"`
}

func fromStudentModel(m *studentModel) domain.Student {
	return domain.Student{
		ID:         m.ID,
		FullName:   m.FullName,
		Email:      m.Email,
		Course:     m.Course,
		GradeLevel: m.GradeLevel,
		IsActive:   m.IsActive,
	}
}

type paymentModel struct {
	ID                string          `bson:"_id"`
	StudentID         string          `bson:"student_id"`
	StudentName       string          `bson:"student_name"`
	StudentEmail      string          `bson:"student_email"`
	StudentCourse     string          `bson:"student_course"`
	Amount            bson.Decimal128 `bson:"amount"`
	AmountPaid        bson.Decimal128 `bson:"amount_paid"`
	Description       string          `bson:"description"`
	DueDate           time.Time       `bson:"due_date"`
	Type              string          `bson:"type"`
	Status            string          `bson:"status"`
	ReceiptGenerated  bool            `bson:"receipt_generated"`
	ReceiptID         string          `bson:"receipt_id,omitempty"`
	LastReceiptUpdate *time.Time      `bson:"last_receipt_update,omitempty"`
	Version           int64           `bson:"version"`
	CreatedAt         time.Time       `bson:"created_at"`
	UpdatedAt         time.Time       `bson:"updated_at"`
}

func toPaymentModel(p *domain.Payment) *paymentModel {
	return &paymentModel{
		ID:                p.ID,
		StudentID:         p.StudentID,
		StudentName:       p.StudentName,
		StudentEmail:      p.StudentEmail,
		StudentCourse:     p.StudentCourse,
		Amount:            toDec128(p.Amount),
		AmountPaid:        toDec128(p.AmountPaid),
		Description:       p.Description,
		DueDate:           p.DueDate,
		Type:              string(p.Type),
		Status:            string(p.Status),
		ReceiptGenerated:  p.ReceiptGenerated,
		ReceiptID:         p.ReceiptID,
		LastReceiptUpdate: p.LastReceiptUpdate,
		Version:           p.Version,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*domain.Payment, error) {
	amount, err := fromDec128(m.Amount)
	if err != nil {
		return nil, err
	}
	paid, err := fromDec128(m.AmountPaid)
	if err != nil {
		return nil, err
	}
	status, ok := domain.ParseStatus(m.Status)
	if !ok {
		return nil, errors.Errorf("payment %s: unknown status %q", m.ID, m.Status)
	}
	return &domain.Payment{
		ID:                m.ID,
		StudentID:         m.StudentID,
		StudentName:       m.StudentName,
		StudentEmail:      m.StudentEmail,
		StudentCourse:     m.StudentCourse,
		Amount:            amount,
		AmountPaid:        paid,
		Description:       m.Description,
		DueDate:           m.DueDate,
		Type:              domain.PaymentType(m.Type),
		Status:            status,
		ReceiptGenerated:  m.ReceiptGenerated,
		ReceiptID:         m.ReceiptID,
		LastReceiptUpdate: m.LastReceiptUpdate,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}, nil
}

type transactionModel struct {
	ID            string          `bson:"_id"`
	Number        string          `bson:"number"`
	StudentID     string          `bson:"student_id"`
	PaymentID     string          `bson:"payment_id,omitempty"`
	Amount        bson.Decimal128 `bson:"amount"`
	Type          string          `bson:"type"`
	Status        string          `bson:"status"`
	Method        string          `bson:"method"`
	Note          string          `bson:"note,omitempty"`
	BalanceBefore bson.Decimal128 `bson:"balance_before"`
	BalanceAfter  bson.Decimal128 `bson:"balance_after"`
	Date          time.Time       `bson:"date"`
}

func toTransactionModel(t *domain.Transaction) *transactionModel {
	return &transactionModel{
		ID:            t.ID,
		Number:        t.Number,
		StudentID:     t.StudentID,
		PaymentID:     t.PaymentID,
		Amount:        toDec128(t.Amount),
		Type:          string(t.Type),
		Status:        t.Status,
		Method:        t.Method,
		Note:          t.Note,
		BalanceBefore: toDec128(t.BalanceBefore),
		BalanceAfter:  toDec128(t.BalanceAfter),
		Date:          t.Date,
	}
}

func fromTransactionModel(m *transactionModel) (*domain.Transaction, error) {
	var (
		t   domain.Transaction
		err error
	)
	if t.Amount, err = fromDec128(m.Amount); err != nil {
		return nil, err
	}
	if t.BalanceBefore, err = fromDec128(m.BalanceBefore); err != nil {
		return nil, err
	}
	if t.BalanceAfter, err = fromDec128(m.BalanceAfter); err != nil {
		return nil, err
	}
	t.ID = m.ID
	t.Number = m.Number
	t.StudentID = m.StudentID
	t.PaymentID = m.PaymentID
	t.Type = domain.TransactionType(m.Type)
	t.Status = m.Status
	t.Method = m.Method
	t.Note = m.Note
	t.Date = m.Date
	return &t, nil
}

type receiptItemModel struct {
	Description string          `bson:"description"`
	Amount      bson.Decimal128 `bson:"amount"`
	Type        string          `bson:"type"`
}

type receiptModel struct {
	ID             string             `bson:"_id"`
	Number         string             `bson:"number"`
	StudentID      string             `bson:"student_id"`
	StudentName    string             `bson:"student_name"`
	StudentEmail   string             `bson:"student_email"`
	StudentCourse  string             `bson:"student_course"`
	PaymentID      string             `bson:"payment_id,omitempty"`
	Items          []receiptItemModel `bson:"items"`
	Subtotal       bson.Decimal128    `bson:"subtotal"`
	Tax            bson.Decimal128    `bson:"tax"`
	Total          bson.Decimal128    `bson:"total"`
	PaymentMethod  string             `bson:"payment_method"`
	Status         string             `bson:"status"`
	IdempotencyKey string             `bson:"idempotency_key"`
	IssuedAt       time.Time          `bson:"issued_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

func toReceiptModel(r *domain.Receipt) *receiptModel {
	items := make([]receiptItemModel, len(r.Items))
	for i, it := range r.Items {
		items[i] = receiptItemModel{Description: it.Description, Amount: toDec128(it.Amount), Type: string(it.Type)}
	}
	return &receiptModel{
		ID:             r.ID,
		Number:         r.Number,
		StudentID:      r.StudentID,
		StudentName:    r.StudentName,
		StudentEmail:   r.StudentEmail,
		StudentCourse:  r.StudentCourse,
		PaymentID:      r.PaymentID,
		Items:          items,
		Subtotal:       toDec128(r.Subtotal),
		Tax:            toDec128(r.Tax),
		Total:          toDec128(r.Total),
		PaymentMethod:  r.PaymentMethod,
		Status:         r.Status,
		IdempotencyKey: r.IdempotencyKey,
		IssuedAt:       r.Date,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromReceiptModel(m *receiptModel) (*domain.Receipt, error) {
	r := &domain.Receipt{
		ID:             m.ID,
		Number:         m.Number,
		StudentID:      m.StudentID,
		StudentName:    m.StudentName,
		StudentEmail:   m.StudentEmail,
		StudentCourse:  m.StudentCourse,
		PaymentID:      m.PaymentID,
		Items:          make([]domain.ReceiptItem, len(m.Items)),
		PaymentMethod:  m.PaymentMethod,
		Status:         m.Status,
		IdempotencyKey: m.IdempotencyKey,
		Date:           m.IssuedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for i, it := range m.Items {
		amount, err := fromDec128(it.Amount)
		if err != nil {
			return nil, err
		}
		r.Items[i] = domain.ReceiptItem{Description: it.Description, Amount: amount, Type: domain.PaymentType(it.Type)}
	}
	var err error
	if r.Subtotal, err = fromDec128(m.Subtotal); err != nil {
		return nil, err
	}
	if r.Tax, err = fromDec128(m.Tax); err != nil {
		return nil, err
	}
	if r.Total, err = fromDec128(m.Total); err != nil {
		return nil, err
	}
	return r, nil
}

type balanceModel struct {
	StudentID   string          `bson:"_id"`
	TotalDue    bson.Decimal128 `bson:"total_due"`
	TotalPaid   bson.Decimal128 `bson:"total_paid"`
	Outstanding bson.Decimal128 `bson:"outstanding"`
	UpdatedAt   time.Time       `bson:"updated_at"`
}

func fromBalanceModel(m *balanceModel) (*domain.StudentBalance, error) {
	b := &domain.StudentBalance{StudentID: m.StudentID, UpdatedAt: m.UpdatedAt}
	var err error
	if b.TotalDue, err = fromDec128(m.TotalDue); err != nil {
		return nil, err
	}
	if b.TotalPaid, err = fromDec128(m.TotalPaid); err != nil {
		return nil, err
	}
	if b.Outstanding, err = fromDec128(m.Outstanding); err != nil {
		return nil, err
	}
	return b, nil
}
