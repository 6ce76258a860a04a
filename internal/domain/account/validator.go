package account

import "strings"

// DefaultElevatedRole may authorize a deficit as accounts receivable.
const DefaultElevatedRole = "admin"

// Caller is the authenticated user acting on an account.
type Caller struct {
	ID    string
	Name  string
	Roles []string
}

func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DisplayName prefers the caller's name over the user id.
func (c Caller) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Validator decides whether a settlement may close an account.
type Validator struct {
	ElevatedRole string
}

func NewValidator(elevatedRole string) *Validator {
	if elevatedRole == "" {
		elevatedRole = DefaultElevatedRole
	}
	return &Validator{ElevatedRole: elevatedRole}
}

// Validate checks s against the account totals:
//   - no deficit: always accepted
//   - accounts receivable: elevated role and a reason are required, and no
//     amount may be tendered
//   - otherwise the tendered amount must cover the deficit
func (v *Validator) Validate(t Totals, s Settlement, caller Caller) error {
	if t.FinalBalance >= 0 {
		return nil
	}
	deficit := t.Deficit()
	elevated := caller.HasRole(v.ElevatedRole)

	if s.Receivable {
		if !elevated {
			return &PermissionError{Action: "authorizing accounts receivable", Role: v.ElevatedRole}
		}
		if strings.TrimSpace(s.ReceivableReason) == "" {
			return NewValidationError("motivoCuentaPorCobrar", "a reason is required to authorize accounts receivable")
		}
		if s.Tendered() > 0 {
			return NewValidationError("montoPagado", "no payment is taken when the balance is authorized as accounts receivable")
		}
		return nil
	}

	tendered := s.Tendered()
	if tendered < deficit {
		return &InsufficientPaymentError{Deficit: deficit, Tendered: tendered, CanDefer: elevated}
	}
	return nil
}

// ValidateSettlement runs the default validator.
func ValidateSettlement(t Totals, s Settlement, caller Caller) error {
	return NewValidator(DefaultElevatedRole).Validate(t, s, caller)
}
