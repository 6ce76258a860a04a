package account

import (
	"fmt"
	"math"
	"strings"
)

// MaxAmount is the largest amount a NUMERIC(14,2) column holds.
const MaxAmount = 999999999999.99

// checkAmount rejects amounts that are negative, not finite or too large to
// store.
func checkAmount(field string, v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return NewValidationError(field, "amount must be a finite number")
	case v < 0:
		return NewValidationError(field, "amount cannot be negative")
	case v > MaxAmount:
		return NewValidationError(field, fmt.Sprintf("amount cannot exceed %s", FormatMoney(MaxAmount)))
	}
	return nil
}

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
	MethodMixed    PaymentMethod = "mixed"
)

var validMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCard: true, MethodTransfer: true, MethodMixed: true,
}

// Payment is what the patient hands over at closing. The concrete types are
// SinglePayment and MixedPayment; each carries only the fields its method uses.
type Payment interface {
	Method() PaymentMethod
	Tendered() float64
}

// SinglePayment is a cash, card or transfer payment of one amount.
type SinglePayment struct {
	method PaymentMethod
	Amount float64
}

func (p SinglePayment) Method() PaymentMethod { return p.method }
func (p SinglePayment) Tendered() float64     { return p.Amount }

// MixedPayment splits the tendered amount between cash and card.
type MixedPayment struct {
	Cash float64
	Card float64
}

func (p MixedPayment) Method() PaymentMethod { return MethodMixed }
func (p MixedPayment) Tendered() float64     { return p.Cash + p.Card }

// NewSinglePayment builds a non-mixed payment.
func NewSinglePayment(method PaymentMethod, amount float64) (SinglePayment, error) {
	if !validMethods[method] {
		return SinglePayment{}, NewValidationError("metodoPago", fmt.Sprintf("unknown payment method %q", method))
	}
	if method == MethodMixed {
		return SinglePayment{}, NewValidationError("metodoPago", "mixed payments need separate cash and card amounts")
	}
	if err := checkAmount("montoPagado", amount); err != nil {
		return SinglePayment{}, err
	}
	return SinglePayment{method: method, Amount: amount}, nil
}

// NewMixedPayment builds a cash plus card payment.
func NewMixedPayment(cash, card float64) (MixedPayment, error) {
	if err := checkAmount("montoEfectivo", cash); err != nil {
		return MixedPayment{}, err
	}
	if err := checkAmount("montoTarjeta", card); err != nil {
		return MixedPayment{}, err
	}
	if cash+card > MaxAmount {
		return MixedPayment{}, NewValidationError("montoTarjeta", fmt.Sprintf("cash plus card cannot exceed %s", FormatMoney(MaxAmount)))
	}
	return MixedPayment{Cash: cash, Card: card}, nil
}

// Settlement is a typed close request.
type Settlement struct {
	Payment          Payment
	Receivable       bool
	ReceivableReason string
}

// Tendered is the total amount handed over, zero without a payment.
func (s Settlement) Tendered() float64 {
	if s.Payment == nil {
		return 0
	}
	return s.Payment.Tendered()
}

// CloseRequest is the body accepted by the account-close endpoint.
type CloseRequest struct {
	MetodoPago            PaymentMethod `json:"metodoPago" validate:"required,oneof=cash card transfer mixed"`
	MontoPagado           *Amount       `json:"montoPagado,omitempty"`
	MontoEfectivo         *Amount       `json:"montoEfectivo,omitempty"`
	MontoTarjeta          *Amount       `json:"montoTarjeta,omitempty"`
	CuentaPorCobrar       bool          `json:"cuentaPorCobrar,omitempty"`
	MotivoCuentaPorCobrar string        `json:"motivoCuentaPorCobrar,omitempty"`
}

// Settlement converts the wire request into its typed form, rejecting
// amounts sent for the wrong payment method.
func (r CloseRequest) Settlement() (Settlement, error) {
	s := Settlement{
		Receivable:       r.CuentaPorCobrar,
		ReceivableReason: strings.TrimSpace(r.MotivoCuentaPorCobrar),
	}
	if r.MetodoPago == MethodMixed {
		if r.MontoPagado != nil {
			return Settlement{}, NewValidationError("montoPagado", "not allowed for mixed payments")
		}
		p, err := NewMixedPayment(amountOrZero(r.MontoEfectivo), amountOrZero(r.MontoTarjeta))
		if err != nil {
			return Settlement{}, err
		}
		s.Payment = p
		return s, nil
	}
	if r.MontoEfectivo != nil || r.MontoTarjeta != nil {
		return Settlement{}, NewValidationError("metodoPago", "cash and card amounts are only allowed for mixed payments")
	}
	p, err := NewSinglePayment(r.MetodoPago, amountOrZero(r.MontoPagado))
	if err != nil {
		return Settlement{}, err
	}
	s.Payment = p
	return s, nil
}

// Request renders s as the wire body.
func (s Settlement) Request() CloseRequest {
	r := CloseRequest{
		CuentaPorCobrar:       s.Receivable,
		MotivoCuentaPorCobrar: s.ReceivableReason,
	}
	switch p := s.Payment.(type) {
	case MixedPayment:
		cash, card := Amount(p.Cash), Amount(p.Card)
		r.MetodoPago = MethodMixed
		r.MontoEfectivo = &cash
		r.MontoTarjeta = &card
	case SinglePayment:
		amt := Amount(p.Amount)
		r.MetodoPago = p.method
		r.MontoPagado = &amt
	}
	return r
}

func amountOrZero(a *Amount) float64 {
	if a == nil {
		return 0
	}
	return float64(*a)
}
