package account

import "math"

// Totals are the aggregates derived from an account's line items. They are
// never stored; callers recompute them from the items on every load.
//
// FinalBalance < 0 means the patient owes money, > 0 means the facility owes
// the patient a refund.
type Totals struct {
	TotalServices        float64 `json:"totalServices"`
	TotalProducts        float64 `json:"totalProducts"`
	TotalAdvances        float64 `json:"totalAdvances"`
	TotalPartialPayments float64 `json:"totalPartialPayments"`
	TotalCharges         float64 `json:"totalCharges"`
	FinalBalance         float64 `json:"finalBalance"`
}

// Deficit is the amount still owed by the patient, zero when the balance
// is settled or in the patient's favour.
func (t Totals) Deficit() float64 {
	if t.FinalBalance >= 0 {
		return 0
	}
	return -t.FinalBalance
}

// IsRefund reports whether the facility owes the patient money.
func (t Totals) IsRefund() bool { return t.FinalBalance > 0 }

// CalculateTotals sums items by kind. Nil items, unknown kinds and
// non-finite amounts contribute nothing.
func CalculateTotals(items []*LineItem) Totals {
	var t Totals
	for _, li := range items {
		if li == nil {
			continue
		}
		amt := float64(li.Amount)
		if math.IsNaN(amt) || math.IsInf(amt, 0) {
			amt = 0
		}
		switch li.Kind {
		case KindService:
			t.TotalServices += amt
		case KindProduct:
			t.TotalProducts += amt
		case KindAdvance:
			t.TotalAdvances += amt
		case KindPartialPayment:
			t.TotalPartialPayments += amt
		}
	}
	t.TotalCharges = t.TotalServices + t.TotalProducts
	t.FinalBalance = (t.TotalAdvances + t.TotalPartialPayments) - t.TotalCharges
	return t
}

// Change is what is handed back to the patient after paying a deficit.
// With no deficit there is never change, whatever was tendered.
func Change(t Totals, tendered float64) float64 {
	if t.FinalBalance >= 0 {
		return 0
	}
	return math.Max(0, tendered-t.Deficit())
}
