package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/butaca/booking/internal/model"
)

// MySQL is a Store backed by two tables: documents (collection + id +
// JSON payload + version counter) and doc_index (unique secondary keys
// such as redeem codes, payment ids and user emails).  It speaks the
// same optimistic protocol as Memory: transaction bodies read plain
// committed rows recording their versions, and commit runs a single
// SQL transaction that re-checks every recorded version before
// applying the staged writes.  A changed version or a duplicate index
// key surfaces as ErrConflict and triggers a re-execution of the body.
type MySQL struct {
	db *sql.DB
}

var _ Store = (*MySQL)(nil)

// NewMySQL wraps an open connection pool.  The schema in
// internal/store/schema.sql must already be applied.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

const (
	colShowtimes = "showtimes"
	colProducts  = "products"
	colTickets   = "tickets"
	colOrders    = "orders"
	colCoupons   = "coupons"
	colUsers     = "users"

	idxCodes    = "codes"
	idxPayments = "payments"
	idxEmails   = "emails"
)

// RunTransaction implements Store.
func (s *MySQL) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return runWithRetry(ctx, func() error {
		tx := &sqlTx{
			s:       s,
			ctx:     ctx,
			reads:   make(map[string]uint64),
			writes:  make(map[string]any),
			deletes: make(map[string]bool),
		}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.commit()
	})
}

// sqlTx stages writes in memory exactly like the in-memory backend;
// only reads and the final commit touch the database.
type sqlTx struct {
	s       *MySQL
	ctx     context.Context
	reads   map[string]uint64
	writes  map[string]any
	deletes map[string]bool
}

// readDoc fetches one document and records its version.  Version 0 is
// recorded for absent rows so that a concurrent creation conflicts.
func (t *sqlTx) readDoc(collection, id string, out any) error {
	key := collection + "/" + id
	var raw []byte
	var ver uint64
	err := t.s.db.QueryRowContext(t.ctx,
		`SELECT doc, version FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&raw, &ver)
	if errors.Is(err, sql.ErrNoRows) {
		t.record(key, 0)
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", key, err)
	}
	t.record(key, ver)
	return json.Unmarshal(raw, out)
}

// readIndex resolves a secondary key to a document id, recording the
// index entry's version.
func (t *sqlTx) readIndex(collection, idxKey string) (string, error) {
	key := collection + "/" + idxKey
	var docID string
	var ver uint64
	err := t.s.db.QueryRowContext(t.ctx,
		`SELECT doc_id, version FROM doc_index WHERE collection = ? AND idx_key = ?`,
		collection, idxKey).Scan(&docID, &ver)
	if errors.Is(err, sql.ErrNoRows) {
		t.record(key, 0)
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: read index %s: %w", key, err)
	}
	t.record(key, ver)
	return docID, nil
}

func (t *sqlTx) record(key string, ver uint64) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = ver
	}
}

// --- showtimes ---

func (t *sqlTx) Showtime(id string) (*model.Showtime, error) {
	if v, ok := t.writes[colShowtimes+"/"+id]; ok {
		s := v.(model.Showtime)
		return &s, nil
	}
	var s model.Showtime
	if err := t.readDoc(colShowtimes, id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *sqlTx) PutShowtime(s *model.Showtime) {
	t.writes[colShowtimes+"/"+s.ID] = *s
}

// --- products ---

func (t *sqlTx) Product(id string) (*model.Product, error) {
	if v, ok := t.writes[colProducts+"/"+id]; ok {
		p := v.(model.Product)
		return &p, nil
	}
	var p model.Product
	if err := t.readDoc(colProducts, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *sqlTx) PutProduct(p *model.Product) {
	t.writes[colProducts+"/"+p.ID] = *p
}

// --- tickets ---

func (t *sqlTx) Ticket(id string) (*model.Ticket, error) {
	if v, ok := t.writes[colTickets+"/"+id]; ok {
		tk := v.(model.Ticket)
		return &tk, nil
	}
	var tk model.Ticket
	if err := t.readDoc(colTickets, id, &tk); err != nil {
		return nil, err
	}
	return &tk, nil
}

func (t *sqlTx) PutTicket(tk *model.Ticket) {
	t.writes[colTickets+"/"+tk.ID] = *tk
}

// --- orders ---

func (t *sqlTx) Order(id string) (*model.Order, error) {
	if v, ok := t.writes[colOrders+"/"+id]; ok {
		o := v.(model.Order)
		return &o, nil
	}
	var o model.Order
	if err := t.readDoc(colOrders, id, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *sqlTx) OrderByRedeemCode(code string) (*model.Order, error) {
	id, err := t.readIndex(idxCodes, code)
	if err != nil {
		return nil, err
	}
	return t.Order(id)
}

func (t *sqlTx) OrderByPaymentID(paymentID string) (*model.Order, error) {
	id, err := t.readIndex(idxPayments, paymentID)
	if err != nil {
		return nil, err
	}
	return t.Order(id)
}

func (t *sqlTx) PutOrder(o *model.Order) {
	t.writes[colOrders+"/"+o.ID] = *o
}

func (t *sqlTx) RedeemCodeTaken(code string) (bool, error) {
	for _, v := range t.writes {
		if o, ok := v.(model.Order); ok && o.RedeemCode == code {
			return true, nil
		}
	}
	_, err := t.readIndex(idxCodes, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// --- coupons ---

func (t *sqlTx) CouponByCode(code string) (*model.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	key := colCoupons + "/" + code
	if t.deletes[key] {
		return nil, ErrNotFound
	}
	if v, ok := t.writes[key]; ok {
		c := v.(model.Coupon)
		return &c, nil
	}
	var c model.Coupon
	if err := t.readDoc(colCoupons, code, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *sqlTx) PutCoupon(c *model.Coupon) {
	cc := *c
	cc.Code = strings.ToUpper(strings.TrimSpace(cc.Code))
	key := colCoupons + "/" + cc.Code
	delete(t.deletes, key)
	t.writes[key] = cc
}

func (t *sqlTx) DeleteCoupon(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	key := colCoupons + "/" + code
	delete(t.writes, key)
	var c model.Coupon
	if err := t.readDoc(colCoupons, code, &c); err != nil {
		return err
	}
	t.deletes[key] = true
	return nil
}

// --- users ---

func (t *sqlTx) User(id string) (*model.User, error) {
	if v, ok := t.writes[colUsers+"/"+id]; ok {
		u := v.(model.User)
		return &u, nil
	}
	var u model.User
	if err := t.readDoc(colUsers, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *sqlTx) UserByEmail(email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	id, err := t.readIndex(idxEmails, email)
	if err != nil {
		return nil, err
	}
	return t.User(id)
}

func (t *sqlTx) PutUser(u *model.User) {
	uu := *u
	uu.Email = strings.ToLower(strings.TrimSpace(uu.Email))
	t.writes[colUsers+"/"+uu.ID] = uu
}

// commit re-validates every recorded read version inside one SQL
// transaction, then upserts the staged documents and claims their
// index entries.  Duplicate key on doc_index means someone else took
// the code/payment id/email first; it maps to ErrConflict.
func (t *sqlTx) commit() error {
	dbtx, err := t.s.db.BeginTx(t.ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer dbtx.Rollback()

	for key, want := range t.reads {
		collection, id, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		table, idCol := "documents", "id"
		if collection == idxCodes || collection == idxPayments || collection == idxEmails {
			table, idCol = "doc_index", "idx_key"
		}
		var got uint64
		err := dbtx.QueryRowContext(t.ctx,
			`SELECT version FROM `+table+` WHERE collection = ? AND `+idCol+` = ? FOR UPDATE`,
			collection, id).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			got = 0
		} else if err != nil {
			return fmt.Errorf("store: validate %s: %w", key, err)
		}
		if got != want {
			return ErrConflict
		}
	}

	for key, v := range t.writes {
		collection, id, _ := strings.Cut(key, "/")
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: marshal %s: %w", key, err)
		}
		if _, err := dbtx.ExecContext(t.ctx,
			`INSERT INTO documents (collection, id, doc, version) VALUES (?, ?, ?, 1)
			 ON DUPLICATE KEY UPDATE doc = VALUES(doc), version = version + 1`,
			collection, id, raw); err != nil {
			return fmt.Errorf("store: write %s: %w", key, err)
		}

		switch doc := v.(type) {
		case model.Order:
			if doc.RedeemCode != "" {
				if err := claimIndex(t.ctx, dbtx, idxCodes, doc.RedeemCode, doc.ID); err != nil {
					return err
				}
			}
			if doc.PaymentID != "" {
				if err := claimIndex(t.ctx, dbtx, idxPayments, doc.PaymentID, doc.ID); err != nil {
					return err
				}
			}
		case model.User:
			if err := claimIndex(t.ctx, dbtx, idxEmails, doc.Email, doc.ID); err != nil {
				return err
			}
		}
	}

	for key := range t.deletes {
		collection, id, _ := strings.Cut(key, "/")
		if _, err := dbtx.ExecContext(t.ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`,
			collection, id); err != nil {
			return fmt.Errorf("store: delete %s: %w", key, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// claimIndex inserts a unique secondary key.  Re-inserting the same
// owner is a no-op; a different owner is a conflict.
func claimIndex(ctx context.Context, dbtx *sql.Tx, collection, idxKey, docID string) error {
	var owner string
	err := dbtx.QueryRowContext(ctx,
		`SELECT doc_id FROM doc_index WHERE collection = ? AND idx_key = ? FOR UPDATE`,
		collection, idxKey).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := dbtx.ExecContext(ctx,
			`INSERT INTO doc_index (collection, idx_key, doc_id, version) VALUES (?, ?, ?, 1)`,
			collection, idxKey, docID); err != nil {
			if isDuplicate(err) {
				return ErrConflict
			}
			return fmt.Errorf("store: claim %s/%s: %w", collection, idxKey, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: claim %s/%s: %w", collection, idxKey, err)
	case owner != docID:
		return ErrConflict
	}
	return nil
}

// isDuplicate reports MySQL error 1062 (duplicate entry).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// --- Reader ---

func (s *MySQL) getDoc(ctx context.Context, collection, id string, out any) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s/%s: %w", collection, id, err)
	}
	return json.Unmarshal(raw, out)
}

func (s *MySQL) GetShowtime(ctx context.Context, id string) (*model.Showtime, error) {
	var st model.Showtime
	if err := s.getDoc(ctx, colShowtimes, id, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MySQL) ListShowtimes(ctx context.Context, movieID int64, date string) ([]model.Showtime, error) {
	q := `SELECT doc FROM documents WHERE collection = ?`
	args := []any{colShowtimes}
	if movieID != 0 {
		q += ` AND JSON_EXTRACT(doc, '$.movie_id') = ?`
		args = append(args, movieID)
	}
	if date != "" {
		q += ` AND JSON_UNQUOTE(JSON_EXTRACT(doc, '$.date')) = ?`
		args = append(args, date)
	}
	q += ` ORDER BY JSON_UNQUOTE(JSON_EXTRACT(doc, '$.date')), JSON_UNQUOTE(JSON_EXTRACT(doc, '$.time'))`
	return scanDocs[model.Showtime](ctx, s.db, q, args...)
}

func (s *MySQL) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	if err := s.getDoc(ctx, colProducts, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MySQL) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	q := `SELECT doc FROM documents WHERE collection = ?`
	args := []any{colProducts}
	if activeOnly {
		q += ` AND JSON_EXTRACT(doc, '$.active') = true`
	}
	q += ` ORDER BY JSON_UNQUOTE(JSON_EXTRACT(doc, '$.name'))`
	return scanDocs[model.Product](ctx, s.db, q, args...)
}

func (s *MySQL) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.getDoc(ctx, colTickets, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MySQL) ListTicketsByUser(ctx context.Context, userID string) ([]model.Ticket, error) {
	return scanDocs[model.Ticket](ctx, s.db,
		`SELECT doc FROM documents WHERE collection = ?
		 AND JSON_UNQUOTE(JSON_EXTRACT(doc, '$.user_id')) = ?
		 ORDER BY JSON_UNQUOTE(JSON_EXTRACT(doc, '$.created_at')) DESC`,
		colTickets, userID)
}

func (s *MySQL) ListTicketsByShowtime(ctx context.Context, showtimeID string) ([]model.Ticket, error) {
	return scanDocs[model.Ticket](ctx, s.db,
		`SELECT doc FROM documents WHERE collection = ?
		 AND JSON_UNQUOTE(JSON_EXTRACT(doc, '$.showtime_id')) = ?
		 ORDER BY JSON_UNQUOTE(JSON_EXTRACT(doc, '$.created_at')) DESC`,
		colTickets, showtimeID)
}

func (s *MySQL) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	return scanDocs[model.Ticket](ctx, s.db,
		`SELECT doc FROM documents WHERE collection = ?
		 ORDER BY JSON_UNQUOTE(JSON_EXTRACT(doc, '$.created_at')) DESC`,
		colTickets)
}

func (s *MySQL) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if err := s.getDoc(ctx, colOrders, id, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *MySQL) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return scanDocs[model.Order](ctx, s.db,
		`SELECT doc FROM documents WHERE collection = ?
		 AND JSON_UNQUOTE(JSON_EXTRACT(doc, '$.user_id')) = ?
		 ORDER BY JSON_UNQUOTE(JSON_EXTRACT(doc, '$.created_at')) DESC`,
		colOrders, userID)
}

func (s *MySQL) ListOrders(ctx context.Context) ([]model.Order, error) {
	return scanDocs[model.Order](ctx, s.db,
		`SELECT doc FROM documents WHERE collection = ?
		 ORDER BY JSON_UNQUOTE(JSON_EXTRACT(doc, '$.created_at')) DESC`,
		colOrders)
}

func (s *MySQL) getOrderByIndex(ctx context.Context, collection, idxKey string) (*model.Order, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id FROM doc_index WHERE collection = ? AND idx_key = ?`,
		collection, idxKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: index %s/%s: %w", collection, idxKey, err)
	}
	return s.GetOrder(ctx, id)
}

func (s *MySQL) GetOrderByPaymentID(ctx context.Context, paymentID string) (*model.Order, error) {
	return s.getOrderByIndex(ctx, idxPayments, paymentID)
}

func (s *MySQL) GetOrderByRedeemCode(ctx context.Context, code string) (*model.Order, error) {
	return s.getOrderByIndex(ctx, idxCodes, code)
}

func (s *MySQL) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	var c model.Coupon
	if err := s.getDoc(ctx, colCoupons, strings.ToUpper(strings.TrimSpace(code)), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MySQL) ListCoupons(ctx context.Context) ([]model.Coupon, error) {
	return scanDocs[model.Coupon](ctx, s.db,
		`SELECT doc FROM documents WHERE collection = ? ORDER BY id`, colCoupons)
}

func (s *MySQL) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.getDoc(ctx, colUsers, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *MySQL) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id FROM doc_index WHERE collection = ? AND idx_key = ?`,
		idxEmails, strings.ToLower(strings.TrimSpace(email))).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: index email: %w", err)
	}
	return s.GetUser(ctx, id)
}

func scanDocs[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
