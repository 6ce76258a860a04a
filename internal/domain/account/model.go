package account

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineItemKind discriminates the entries of an account.
type LineItemKind string

const (
	KindService        LineItemKind = "service"
	KindProduct        LineItemKind = "product"
	KindAdvance        LineItemKind = "advance"
	KindPartialPayment LineItemKind = "partial-payment"
)

var validKinds = map[LineItemKind]bool{
	KindService: true, KindProduct: true, KindAdvance: true, KindPartialPayment: true,
}

// IsCharge reports whether items of this kind add to what the patient owes.
func (k LineItemKind) IsCharge() bool {
	return k == KindService || k == KindProduct
}

type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

var validAttentionTypes = map[string]bool{
	"consultation": true, "emergency": true, "hospitalization": true, "surgery": true, "pharmacy": true,
}

// Amount is a monetary value that decodes leniently: JSON numbers, numeric
// strings (optionally with "$" and thousands separators) and null are all
// accepted, and anything unparseable decodes as zero.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			*a = 0
			return nil
		}
	} else {
		raw = string(data)
	}
	*a = Amount(ParseAmount(raw))
	return nil
}

// ParseAmount converts s to a float, returning zero when s is not a number.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// FormatMoney renders v with two decimal places.
func FormatMoney(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// LineItem maps to the account_line_item table.
type LineItem struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	AccountID   uuid.UUID    `db:"account_id" json:"account_id"`
	Kind        LineItemKind `db:"kind" json:"kind" validate:"required"`
	Description string       `db:"description" json:"description"`
	Quantity    int          `db:"quantity" json:"quantity"`
	Amount      Amount       `db:"amount" json:"amount"`
	CreatedBy   string       `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// Account maps to the account table. Items is populated by detail reads.
type Account struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	PatientID        uuid.UUID   `db:"patient_id" json:"patient_id"`
	PatientName      string      `db:"patient_name" json:"patient_name"`
	AttentionType    string      `db:"attention_type" json:"attention_type"`
	State            State       `db:"state" json:"state"`
	OpenedAt         time.Time   `db:"opened_at" json:"opened_at"`
	ClosedAt         *time.Time  `db:"closed_at" json:"closed_at,omitempty"`
	ClosedBy         *string     `db:"closed_by" json:"closed_by,omitempty"`
	PaymentMethod    *string     `db:"payment_method" json:"payment_method,omitempty"`
	AmountTendered   *float64    `db:"amount_tendered" json:"amount_tendered,omitempty"`
	ChangeGiven      *float64    `db:"change_given" json:"change_given,omitempty"`
	Receivable       bool        `db:"receivable" json:"receivable"`
	ReceivableReason *string     `db:"receivable_reason" json:"receivable_reason,omitempty"`
	VersionID        int         `db:"version_id" json:"version_id"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
	Items            []*LineItem `db:"-" json:"items,omitempty"`
}

func (a *Account) IsOpen() bool { return a.State == StateOpen }

// Details is the account-details payload: the account with its line items
// and the totals derived from them at read time.
type Details struct {
	Account *Account    `json:"account"`
	Items   []*LineItem `json:"items"`
	Totals  Totals      `json:"totals"`
}

// Closure is the result of a successful close.
type Closure struct {
	Account  *Account `json:"account"`
	Totals   Totals   `json:"totals"`
	Change   float64  `json:"change"`
	Currency string   `json:"currency,omitempty"`
}
