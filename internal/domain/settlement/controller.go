// Package settlement drives one account-closing dialog: load the account,
// derive its balance, validate the cashier's settlement, submit the close and
// hand back a printable summary.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/account"
)

type State string

const (
	StateIdle           State = "idle"
	StateLoading        State = "loading"
	StateReady          State = "ready"
	StateValidating     State = "validating"
	StateSubmitting     State = "submitting"
	StateSuccessPending State = "success-pending"
	StateClosed         State = "closed"
	StateError          State = "error"
)

// Gateway is the account API as seen by the dialog.
type Gateway interface {
	FetchAccount(ctx context.Context, id uuid.UUID) (*account.Details, error)
	CloseAccount(ctx context.Context, id uuid.UUID, req account.CloseRequest) error
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notification struct {
	Level   Level
	Message string
}

// Notifier shows transient messages to the cashier.
type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Callbacks are invoked once the cashier acknowledges a completed settlement.
type Callbacks struct {
	OnSuccess func()
	OnClose   func()
}

// Preview is the outcome of a settlement draft against the current totals.
type Preview struct {
	Tendered   float64
	Change     float64
	Validation error
}

// Controller is the settlement state machine for one dialog. It is safe for
// concurrent use; gateway calls are made without holding the lock.
type Controller struct {
	mu        sync.Mutex
	gateway   Gateway
	caller    account.Caller
	callbacks Callbacks
	validator *account.Validator
	notifier  Notifier
	log       zerolog.Logger
	now       func() time.Time

	state      State
	generation uint64
	accountID  uuid.UUID
	acct       *account.Account
	items      []*account.LineItem
	draft      *account.Settlement
	validation error
	summary    *Summary
	err        error
}

func NewController(gw Gateway, caller account.Caller, cb Callbacks) *Controller {
	return &Controller{
		gateway:   gw,
		caller:    caller,
		callbacks: cb,
		validator: account.NewValidator(account.DefaultElevatedRole),
		notifier:  NotifierFunc(func(Notification) {}),
		log:       zerolog.Nop(),
		now:       time.Now,
		state:     StateIdle,
	}
}

func (c *Controller) SetValidator(v *account.Validator) {
	if v != nil {
		c.validator = v
	}
}

func (c *Controller) SetNotifier(n Notifier) {
	if n != nil {
		c.notifier = n
	}
}

func (c *Controller) SetLogger(l zerolog.Logger) {
	c.log = l.With().Str("component", "settlement").Logger()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts a dialog for account id and fetches its details once. A fetch
// failure leaves the controller in StateError until it is dismissed or
// reopened. If the dialog is dismissed before the fetch returns, the result
// is dropped and ErrDiscarded is returned.
func (c *Controller) Open(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateError, StateClosed:
	default:
		c.mu.Unlock()
		return transitionError(c.state, "open")
	}
	c.generation++
	gen := c.generation
	c.reset()
	c.accountID = id
	c.state = StateLoading
	c.mu.Unlock()

	details, err := c.gateway.FetchAccount(ctx, id)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrDiscarded
	}
	if err != nil {
		c.err = &NetworkError{Op: "fetch", Err: err}
		c.state = StateError
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("account_id", id.String()).Msg("load account failed")
		c.notifier.Notify(Notification{Level: LevelError, Message: userMessage(err)})
		return c.err
	}
	if details == nil || details.Account == nil {
		c.err = fmt.Errorf("%w: empty account details", account.ErrAccountNotFound)
		c.state = StateError
		c.mu.Unlock()
		c.notifier.Notify(Notification{Level: LevelError, Message: "Account not found."})
		return c.err
	}
	if !details.Account.IsOpen() {
		c.err = account.ErrAccountClosed
		c.state = StateError
		c.mu.Unlock()
		c.notifier.Notify(Notification{Level: LevelError, Message: "This account is already closed."})
		return c.err
	}
	c.acct = details.Account
	c.items = details.Items
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

// UpdateItems replaces the line items shown in the dialog. Totals follow on
// the next read.
func (c *Controller) UpdateItems(items []*account.LineItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return transitionError(c.state, "update line items")
	}
	c.items = items
	c.validation = nil
	return nil
}

// Totals recomputes the balance from the current line items.
func (c *Controller) Totals() account.Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return account.CalculateTotals(c.items)
}

// Preview records s as the dialog's draft settlement and reports the change
// and validation outcome it would have. It never calls the gateway.
func (c *Controller) Preview(s account.Settlement) Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = &s
	totals := account.CalculateTotals(c.items)
	c.validation = c.validator.Validate(totals, s, c.caller)
	return Preview{
		Tendered:   s.Tendered(),
		Change:     account.Change(totals, s.Tendered()),
		Validation: c.validation,
	}
}

// Submit validates s against freshly computed totals and, only if it passes,
// sends the close. A validation failure keeps the dialog Ready and is
// returned as is. A gateway failure is notified, returned as a *NetworkError
// and also leaves the dialog Ready so the cashier can retry.
func (c *Controller) Submit(ctx context.Context, s account.Settlement) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
	case StateValidating, StateSubmitting:
		c.mu.Unlock()
		return ErrSubmissionInFlight
	default:
		c.mu.Unlock()
		return transitionError(c.state, "submit")
	}

	c.state = StateValidating
	c.draft = &s
	totals := account.CalculateTotals(c.items)
	if err := c.validator.Validate(totals, s, c.caller); err != nil {
		c.validation = err
		c.state = StateReady
		c.mu.Unlock()
		c.notifier.Notify(Notification{Level: LevelWarning, Message: err.Error()})
		return err
	}
	c.validation = nil
	c.err = nil
	c.state = StateSubmitting
	gen, id, acct := c.generation, c.accountID, c.acct
	c.mu.Unlock()

	err := c.gateway.CloseAccount(ctx, id, s.Request())

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if err != nil {
			return &NetworkError{Op: "close", Err: err}
		}
		return ErrDiscarded
	}
	if err != nil {
		c.err = &NetworkError{Op: "close", Err: err}
		c.state = StateReady
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("account_id", id.String()).Msg("close account failed")
		c.notifier.Notify(Notification{Level: LevelError, Message: userMessage(err)})
		return &NetworkError{Op: "close", Err: err}
	}
	c.summary = newSummary(acct, totals, s, c.caller, c.now())
	c.state = StateSuccessPending
	sum := c.summary
	c.mu.Unlock()

	c.log.Info().
		Str("account_id", id.String()).
		Str("method", string(sum.Method)).
		Float64("tendered", sum.Tendered).
		Float64("change", sum.Change).
		Msg("settlement submitted")
	c.notifier.Notify(Notification{Level: LevelInfo, Message: "Account closed."})
	return nil
}

// Summary returns the settlement summary once the close has succeeded.
func (c *Controller) Summary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Acknowledge closes a successful dialog and runs OnSuccess then OnClose.
// Later calls return ErrInvalidTransition, so the callbacks run once.
func (c *Controller) Acknowledge() error {
	c.mu.Lock()
	if c.state != StateSuccessPending {
		st := c.state
		c.mu.Unlock()
		return transitionError(st, "acknowledge")
	}
	c.state = StateClosed
	cb := c.callbacks
	c.mu.Unlock()

	if cb.OnSuccess != nil {
		cb.OnSuccess()
	}
	if cb.OnClose != nil {
		cb.OnClose()
	}
	return nil
}

// Dismiss closes the dialog. Pending fetch or close results are discarded.
// Dismissing a completed settlement acknowledges it.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	if c.state == StateSuccessPending {
		c.mu.Unlock()
		_ = c.Acknowledge()
		return
	}
	c.generation++
	c.reset()
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Controller) reset() {
	c.accountID = uuid.Nil
	c.acct = nil
	c.items = nil
	c.draft = nil
	c.validation = nil
	c.summary = nil
	c.err = nil
}

// ViewModel is the read-only state a dialog renders.
type ViewModel struct {
	State      State               `json:"state"`
	Loading    bool                `json:"loading"`
	Submitting bool                `json:"submitting"`
	Account    *account.Account    `json:"account,omitempty"`
	Items      []*account.LineItem `json:"items"`
	Totals     account.Totals      `json:"totals"`
	Tendered   float64             `json:"tendered"`
	Change     float64             `json:"change"`
	Refund     bool                `json:"refund"`
	Validation string              `json:"validation,omitempty"`
	Summary    *Summary            `json:"summary,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func (c *Controller) View() ViewModel {
	c.mu.Lock()
	defer c.mu.Unlock()

	totals := account.CalculateTotals(c.items)
	vm := ViewModel{
		State:      c.state,
		Loading:    c.state == StateLoading,
		Submitting: c.state == StateValidating || c.state == StateSubmitting,
		Account:    c.acct,
		Items:      c.items,
		Totals:     totals,
		Refund:     totals.IsRefund(),
		Summary:    c.summary,
	}
	if c.draft != nil {
		vm.Tendered = c.draft.Tendered()
		vm.Change = account.Change(totals, vm.Tendered)
	}
	if c.validation != nil {
		vm.Validation = c.validation.Error()
	}
	if ne, ok := c.err.(*NetworkError); ok {
		vm.Error = userMessage(ne)
	} else if c.err != nil {
		vm.Error = c.err.Error()
	}
	return vm
}
