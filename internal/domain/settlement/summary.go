package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/account"
)

// Summary is the printable record of a completed settlement. It is built from
// the state the cashier saw, not from the close response.
type Summary struct {
	AccountID        uuid.UUID             `json:"account_id"`
	PatientID        uuid.UUID             `json:"patient_id"`
	PatientName      string                `json:"patient_name"`
	AttentionType    string                `json:"attention_type"`
	Totals           account.Totals        `json:"totals"`
	Method           account.PaymentMethod `json:"method"`
	Cash             float64               `json:"cash,omitempty"`
	Card             float64               `json:"card,omitempty"`
	Tendered         float64               `json:"tendered"`
	Change           float64               `json:"change"`
	Refund           float64               `json:"refund,omitempty"`
	Receivable       bool                  `json:"receivable"`
	ReceivableReason string                `json:"receivable_reason,omitempty"`
	Cashier          string                `json:"cashier"`
	ClosedAt         time.Time             `json:"closed_at"`
}

func newSummary(a *account.Account, totals account.Totals, s account.Settlement, cashier account.Caller, at time.Time) *Summary {
	sum := &Summary{
		Totals:   totals,
		Tendered: s.Tendered(),
		Change:   account.Change(totals, s.Tendered()),
		Cashier:  cashier.DisplayName(),
		ClosedAt: at,
	}
	if a != nil {
		sum.AccountID = a.ID
		sum.PatientID = a.PatientID
		sum.PatientName = a.PatientName
		sum.AttentionType = a.AttentionType
	}
	if s.Payment != nil {
		sum.Method = s.Payment.Method()
	}
	if mp, ok := s.Payment.(account.MixedPayment); ok {
		sum.Cash, sum.Card = mp.Cash, mp.Card
	}
	if totals.IsRefund() {
		sum.Refund = totals.FinalBalance
	}
	if s.Receivable && totals.FinalBalance < 0 {
		sum.Receivable = true
		sum.ReceivableReason = s.ReceivableReason
		sum.Change = 0
	}
	return sum
}

// Text renders the summary for a receipt printer or terminal.
func (s *Summary) Text(currency string) string {
	money := func(v float64) string {
		if currency == "" {
			return account.FormatMoney(v)
		}
		return account.FormatMoney(v) + " " + currency
	}
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%-22s %s\n", label+":", value)
	}

	b.WriteString("ACCOUNT SETTLEMENT\n")
	line("Account", s.AccountID.String())
	line("Patient", s.PatientName)
	if s.AttentionType != "" {
		line("Attention", s.AttentionType)
	}
	line("Services", money(s.Totals.TotalServices))
	line("Products", money(s.Totals.TotalProducts))
	line("Total charges", money(s.Totals.TotalCharges))
	line("Advances", money(s.Totals.TotalAdvances))
	line("Partial payments", money(s.Totals.TotalPartialPayments))
	line("Final balance", money(s.Totals.FinalBalance))
	line("Payment method", string(s.Method))
	if s.Method == account.MethodMixed {
		line("Cash", money(s.Cash))
		line("Card", money(s.Card))
	}
	line("Tendered", money(s.Tendered))
	line("Change", money(s.Change))
	if s.Refund > 0 {
		line("Refund due", money(s.Refund))
	}
	if s.Receivable {
		line("Accounts receivable", money(s.Totals.Deficit()))
		line("Reason", s.ReceivableReason)
	}
	line("Cashier", s.Cashier)
	line("Closed at", s.ClosedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
