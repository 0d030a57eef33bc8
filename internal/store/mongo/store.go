// Package mongo implements store.Store on MongoDB. Multi-document
// transactions require a replica set or sharded cluster.
package mongo

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

const (
	colStudents     = "students"
	colPayments     = "payments"
	colTransactions = "transactions"
	colReceipts     = "receipts"
	colBalances     = "student_balances"
	colCounters     = "counters"
)

// writeConflict is the server code for a concurrent write to the same document
// inside a transaction.
const writeConflict = 112

var _ store.Store = (*Store)(nil)

// Store is backed by a mongo client and one database.
type Store struct {
	reader
	client *mongo.Client
}

// New connects to uri and verifies the connection.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongo")
	}
	return &Store{reader: reader{db: client.Database(database)}, client: client}, nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// Migrate creates the indexes every collection relies on.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "migrate %s indexes", col)
		}
	}
	return nil
}

// InTx runs fn inside a session transaction. The ctx handed to fn carries the
// session, so every call made through it joins the transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sctx context.Context) (any, error) {
		return nil, fn(sctx, &tx{reader: s.reader})
	})
	return mapErr(err)
}

func (s *Store) LookupStudent(ctx context.Context, id string) (*domain.Student, error) {
	var m studentModel
	if err := s.db.Collection(colStudents).FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, errors.Wrapf(mapErr(err), "student %s", id)
	}
	st := fromStudentModel(&m)
	return &st, nil
}

// UpsertStudent writes a directory record for seeding and tests.
func (s *Store) UpsertStudent(ctx context.Context, st domain.Student) error {
	m := studentModel{
		ID:         st.ID,
		FullName:   st.FullName,
		Email:      st.Email,
		Course:     st.Course,
		GradeLevel: st.GradeLevel,
		IsActive:   st.IsActive,
	}
	_, err := s.db.Collection(colStudents).ReplaceOne(ctx, bson.M{"_id": st.ID}, m, options.Replace().SetUpsert(true))
	return errors.Wrapf(mapErr(err), "upsert student %s", st.ID)
}

func (s *Store) ListActiveStudents(ctx context.Context) ([]domain.Student, error) {
	cur, err := s.db.Collection(colStudents).Find(ctx, bson.M{"is_active": true},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "list students")
	}
	var models []studentModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, errors.Wrap(err, "decode students")
	}
	out := make([]domain.Student, len(models))
	for i := range models {
		out[i] = fromStudentModel(&models[i])
	}
	return out, nil
}

// reader serves store.Reader. Inside a transaction the same reader is used
// with the session-bound ctx.
type reader struct {
	db *mongo.Database
}

func (r reader) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	var m paymentModel
	if err := r.db.Collection(colPayments).FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, errors.Wrapf(mapErr(err), "payment %s", id)
	}
	return fromPaymentModel(&m)
}

func (r reader) ListPayments(ctx context.Context, f store.PaymentFilter) ([]domain.Payment, error) {
	filter := bson.M{}
	if f.StudentID != "" {
		filter["student_id"] = f.StudentID
	}
	if len(f.Statuses) > 0 {
		statuses := make(bson.A, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	if f.Unreceipted {
		filter["receipt_generated"] = false
		filter["amount_paid"] = bson.M{"$gt": toDec128Int(0)}
	}
	if !f.DueBefore.IsZero() {
		filter["due_date"] = bson.M{"$lt": f.DueBefore}
	}

	var models []paymentModel
	if err := r.find(ctx, colPayments, filter, bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}, &models); err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	out := make([]domain.Payment, 0, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r reader) GetTransaction(ctx context.Context, idOrNumber string) (*domain.Transaction, error) {
	var m transactionModel
	err := r.db.Collection(colTransactions).FindOne(ctx, byIDOrNumber(idOrNumber)).Decode(&m)
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "transaction %s", idOrNumber)
	}
	return fromTransactionModel(&m)
}

func (r reader) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]domain.Transaction, error) {
	filter := bson.M{}
	if f.StudentID != "" {
		filter["student_id"] = f.StudentID
	}
	if f.PaymentID != "" {
		filter["payment_id"] = f.PaymentID
	}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}
	if dates := dateRange(f.From, f.To); len(dates) > 0 {
		filter["date"] = dates
	}

	var models []transactionModel
	if err := r.find(ctx, colTransactions, filter, bson.D{{Key: "date", Value: -1}, {Key: "number", Value: -1}}, &models); err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	out := make([]domain.Transaction, 0, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r reader) GetReceipt(ctx context.Context, idOrNumber string) (*domain.Receipt, error) {
	var m receiptModel
	if err := r.db.Collection(colReceipts).FindOne(ctx, byIDOrNumber(idOrNumber)).Decode(&m); err != nil {
		return nil, errors.Wrapf(mapErr(err), "receipt %s", idOrNumber)
	}
	return fromReceiptModel(&m)
}

func (r reader) ListReceipts(ctx context.Context, f store.ReceiptFilter) ([]domain.Receipt, error) {
	filter := bson.M{}
	if f.StudentID != "" {
		filter["student_id"] = f.StudentID
	}
	if !f.From.IsZero() {
		filter["issued_at"] = bson.M{"$gte": f.From}
	}
	if f.Search != "" {
		re := bson.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"number": re},
			bson.M{"student_name": re},
			bson.M{"student_email": re},
			bson.M{"items.description": re},
		}
	}

	var models []receiptModel
	if err := r.find(ctx, colReceipts, filter, bson.D{{Key: "issued_at", Value: -1}, {Key: "number", Value: -1}}, &models); err != nil {
		return nil, errors.Wrap(err, "list receipts")
	}
	out := make([]domain.Receipt, 0, len(models))
	for i := range models {
		rc, err := fromReceiptModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *rc)
	}
	return out, nil
}

func (r reader) GetBalance(ctx context.Context, studentID string) (*domain.StudentBalance, error) {
	var m balanceModel
	if err := r.db.Collection(colBalances).FindOne(ctx, bson.M{"_id": studentID}).Decode(&m); err != nil {
		return nil, errors.Wrapf(mapErr(err), "balance for student %s", studentID)
	}
	return fromBalanceModel(&m)
}

func (r reader) find(ctx context.Context, col string, filter bson.M, sort bson.D, out any) error {
	cur, err := r.db.Collection(col).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return mapErr(err)
	}
	return mapErr(cur.All(ctx, out))
}

type tx struct {
	reader
}

// LockStudent bumps a counter on the balance document. Two transactions doing
// so for the same student collide with a write conflict and one is retried.
func (t *tx) LockStudent(ctx context.Context, studentID string) error {
	zero := toDec128Int(0)
	_, err := t.db.Collection(colBalances).UpdateOne(ctx,
		bson.M{"_id": studentID},
		bson.M{
			"$inc": bson.M{"lock_seq": 1},
			"$setOnInsert": bson.M{
				"total_due": zero, "total_paid": zero, "outstanding": zero, "updated_at": time.Now().UTC(),
			},
		},
		options.UpdateOne().SetUpsert(true))
	return errors.Wrapf(mapErr(err), "lock student %s", studentID)
}

// LockPayment reads the payment. Writes are guarded by the version check in
// UpdatePayment.
func (t *tx) LockPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return t.GetPayment(ctx, id)
}

func (t *tx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	p.Version = 1
	_, err := t.db.Collection(colPayments).InsertOne(ctx, toPaymentModel(p))
	return errors.Wrapf(mapErr(err), "insert payment %s", p.ID)
}

func (t *tx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	m := toPaymentModel(p)
	m.Version = p.Version + 1
	res, err := t.db.Collection(colPayments).ReplaceOne(ctx, bson.M{"_id": p.ID, "version": p.Version}, m)
	if err != nil {
		return errors.Wrapf(mapErr(err), "update payment %s", p.ID)
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(store.ErrConflict, "payment %s changed since version %d", p.ID, p.Version)
	}
	p.Version++
	return nil
}

func (t *tx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	_, err := t.db.Collection(colTransactions).InsertOne(ctx, toTransactionModel(txn))
	return errors.Wrapf(mapErr(err), "insert transaction %s", txn.Number)
}

func (t *tx) InsertReceipt(ctx context.Context, r *domain.Receipt) error {
	_, err := t.db.Collection(colReceipts).InsertOne(ctx, toReceiptModel(r))
	return errors.Wrapf(mapErr(err), "insert receipt %s", r.Number)
}

func (t *tx) UpdateReceipt(ctx context.Context, r *domain.Receipt) error {
	res, err := t.db.Collection(colReceipts).ReplaceOne(ctx, bson.M{"_id": r.ID}, toReceiptModel(r))
	if err != nil {
		return errors.Wrapf(mapErr(err), "update receipt %s", r.Number)
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(store.ErrNotFound, "receipt %s", r.ID)
	}
	return nil
}

func (t *tx) PutBalance(ctx context.Context, b domain.StudentBalance) error {
	_, err := t.db.Collection(colBalances).UpdateOne(ctx,
		bson.M{"_id": b.StudentID},
		bson.M{"$set": bson.M{
			"total_due":   toDec128(b.TotalDue),
			"total_paid":  toDec128(b.TotalPaid),
			"outstanding": toDec128(b.Outstanding),
			"updated_at":  b.UpdatedAt,
		}},
		options.UpdateOne().SetUpsert(true))
	return errors.Wrapf(mapErr(err), "store balance for %s", b.StudentID)
}

func (t *tx) NextNumber(ctx context.Context, seq store.Sequence) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := t.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": string(seq)},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, errors.Wrapf(mapErr(err), "next %s", seq)
	}
	return counter.Value, nil
}

func (t *tx) ResetBilling(ctx context.Context) error {
	for _, col := range []string{colPayments, colTransactions, colReceipts, colBalances} {
		if _, err := t.db.Collection(col).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Wrapf(mapErr(err), "clear %s", col)
		}
	}
	return nil
}

func byIDOrNumber(v string) bson.M {
	return bson.M{"$or": bson.A{bson.M{"_id": v}, bson.M{"number": v}}}
}

func dateRange(from, to time.Time) bson.M {
	r := bson.M{}
	if !from.IsZero() {
		r["$gte"] = from
	}
	if !to.IsZero() {
		r["$lt"] = to
	}
	return r
}

func toDec128Int(v int64) bson.Decimal128 {
	return bson.NewDecimal128(0, uint64(v))
}

// mapErr converts driver errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errors.Wrap(store.ErrNotFound, err.Error())
	}
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrap(store.ErrDuplicate, err.Error())
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(writeConflict) || se.HasErrorLabel("TransientTransactionError")) {
		return errors.Wrap(store.ErrConflict, err.Error())
	}
	return err
}

// migrationIndexes returns the index definitions for every collection.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colStudents: {
			{Keys: bson.D{{Key: "is_active", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
			{Keys: bson.D{{Key: "receipt_generated", Value: 1}}},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "date", Value: -1}}},
			{Keys: bson.D{{Key: "payment_id", Value: 1}}},
		},
		colReceipts: {
			{Keys: bson.D{{Key: "number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{
				Keys: bson.D{{Key: "payment_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"payment_id": bson.M{"$type": "string"}}),
			},
			{Keys: bson.D{{Key: "issued_at", Value: -1}}},
		},
	}
}
