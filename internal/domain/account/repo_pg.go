package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository { return &accountRepoPG{pool: pool} }

func (r *accountRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const accountCols = `id, patient_id, patient_name, attention_type, state,
	opened_at, closed_at, closed_by, payment_method, amount_tendered, change_given,
	receivable, receivable_reason, version_id, created_at, updated_at`

func (r *accountRepoPG) scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var state string
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.AttentionType, &state,
		&a.OpenedAt, &a.ClosedAt, &a.ClosedBy, &a.PaymentMethod, &a.AmountTendered, &a.ChangeGiven,
		&a.Receivable, &a.ReceivableReason, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.State = State(state)
	return &a, nil
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO account (id, patient_id, patient_name, attention_type, state, opened_at, version_id)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		RETURNING version_id, created_at, updated_at`,
		a.ID, a.PatientID, a.PatientName, a.AttentionType, string(a.State), a.OpenedAt,
	).Scan(&a.VersionID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE id = $1`, id))
}

func (r *accountRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Account, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM account WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+accountCols+` FROM account WHERE patient_id = $1 ORDER BY opened_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

var accountSearchColumns = map[string]string{
	"patient_id":     "patient_id",
	"state":          "state",
	"attention_type": "attention_type",
	"receivable":     "receivable",
}

func (r *accountRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Account, int, error) {
	where, args, err := buildAccountWhere(params)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM account`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM account%s ORDER BY opened_at DESC LIMIT $%d OFFSET $%d`, accountCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

// buildAccountWhere turns known filter params into a WHERE clause. Unknown
// params are ignored.
func buildAccountWhere(params map[string]string) (string, []interface{}, error) {
	var conds []string
	var args []interface{}
	for _, key := range []string{"patient_id", "state", "attention_type", "receivable"} {
		val, ok := params[key]
		if !ok || val == "" {
			continue
		}
		var arg interface{} = val
		switch key {
		case "patient_id":
			id, err := uuid.Parse(val)
			if err != nil {
				return "", nil, NewValidationError("patient_id", "must be a uuid")
			}
			arg = id
		case "receivable":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return "", nil, NewValidationError("receivable", "must be true or false")
			}
			arg = b
		}
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf("%s = $%d", accountSearchColumns[key], len(args)))
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (r *accountRepoPG) collect(rows pgx.Rows) ([]*Account, error) {
	var items []*Account
	for rows.Next() {
		a, err := r.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *accountRepoPG) Close(ctx context.Context, a *Account) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE account SET state = 'closed', closed_at = $3, closed_by = $4,
			payment_method = $5, amount_tendered = $6, change_given = $7,
			receivable = $8, receivable_reason = $9,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND state = 'open' AND version_id = $2`,
		a.ID, a.VersionID, a.ClosedAt, a.ClosedBy,
		a.PaymentMethod, a.AmountTendered, a.ChangeGiven,
		a.Receivable, a.ReceivableReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		a.State = StateClosed
		a.VersionID++
		return nil
	}
	current, err := r.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if !current.IsOpen() {
		return ErrAccountClosed
	}
	return ErrAccountChanged
}

// =========== Line Items ===========

const lineItemCols = `id, account_id, kind, description, quantity, amount, created_by, created_at`

func (r *accountRepoPG) AddLineItem(ctx context.Context, li *LineItem) error {
	li.ID = uuid.New()
	return pgx.BeginFunc(ctx, r.conn(ctx), func(tx pgx.Tx) error {
		var state string
		err := tx.QueryRow(ctx, `SELECT state FROM account WHERE id = $1 FOR UPDATE`, li.AccountID).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if State(state) != StateOpen {
			return ErrAccountClosed
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO account_line_item (id, account_id, kind, description, quantity, amount, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at`,
			li.ID, li.AccountID, string(li.Kind), li.Description, li.Quantity, float64(li.Amount), li.CreatedBy,
		).Scan(&li.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE account SET version_id = version_id + 1, updated_at = NOW() WHERE id = $1`, li.AccountID)
		return err
	})
}

func (r *accountRepoPG) GetLineItems(ctx context.Context, accountID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lineItemCols+` FROM account_line_item WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		var li LineItem
		var kind string
		var amount float64
		if err := rows.Scan(&li.ID, &li.AccountID, &kind, &li.Description, &li.Quantity, &amount, &li.CreatedBy, &li.CreatedAt); err != nil {
			return nil, err
		}
		li.Kind = LineItemKind(kind)
		li.Amount = Amount(amount)
		items = append(items, &li)
	}
	return items, rows.Err()
}
