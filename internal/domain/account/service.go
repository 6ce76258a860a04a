package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/receipts"
)

// ErrReceiptNotFound is returned when no receipt was archived for an account.
var ErrReceiptNotFound = errors.New("receipt not found")

// EventAccountClosed is the routing key of the event published on close.
const EventAccountClosed = "account.closed"

// Locker serializes closes of the same account across server instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, string, error)
	Unlock(ctx context.Context, key, token string) error
}

// EventPublisher delivers domain events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// ReceiptArchive stores closing receipts.
type ReceiptArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ClosedEvent is the payload of EventAccountClosed.
type ClosedEvent struct {
	AccountID        uuid.UUID `json:"account_id"`
	PatientID        uuid.UUID `json:"patient_id"`
	Tenant           string    `json:"tenant,omitempty"`
	FinalBalance     float64   `json:"final_balance"`
	PaymentMethod    string    `json:"payment_method"`
	Tendered         float64   `json:"tendered"`
	Change           float64   `json:"change"`
	Currency         string    `json:"currency,omitempty"`
	Receivable       bool      `json:"receivable"`
	ReceivableReason string    `json:"receivable_reason,omitempty"`
	ClosedBy         string    `json:"closed_by"`
	ClosedAt         time.Time `json:"closed_at"`
}

type Service struct {
	accounts  AccountRepository
	validator *Validator
	locker    Locker
	lockTTL   time.Duration
	events    EventPublisher
	receipts  ReceiptArchive
	currency  string
	now       func() time.Time
	log       zerolog.Logger
}

func NewService(accounts AccountRepository, v *Validator) *Service {
	if v == nil {
		v = NewValidator(DefaultElevatedRole)
	}
	return &Service{
		accounts:  accounts,
		validator: v,
		lockTTL:   30 * time.Second,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
}

// SetLocker attaches the close lock. Without one, concurrent closes are
// still caught by the repository's version check.
func (s *Service) SetLocker(l Locker, ttl time.Duration) {
	s.locker = l
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

func (s *Service) SetEventPublisher(p EventPublisher) { s.events = p }

func (s *Service) SetReceiptArchive(a ReceiptArchive) { s.receipts = a }

// SetCurrency sets the currency code stamped on closures and events.
func (s *Service) SetCurrency(code string) { s.currency = code }

func (s *Service) SetLogger(l zerolog.Logger) { s.log = l.With().Str("component", "account").Logger() }

// Validator returns the settlement validator used on close.
func (s *Service) Validator() *Validator { return s.validator }

// -- Accounts --

func (s *Service) OpenAccount(ctx context.Context, a *Account) error {
	if a.PatientID == uuid.Nil {
		return NewValidationError("patient_id", "is required")
	}
	if a.AttentionType == "" {
		return NewValidationError("attention_type", "is required")
	}
	if !validAttentionTypes[a.AttentionType] {
		return NewValidationError("attention_type", fmt.Sprintf("invalid attention type: %s", a.AttentionType))
	}
	a.State = StateOpen
	if a.OpenedAt.IsZero() {
		a.OpenedAt = s.now().UTC()
	}
	return s.accounts.Create(ctx, a)
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// GetDetails loads an account with its line items and freshly computed totals.
func (s *Service) GetDetails(ctx context.Context, id uuid.UUID) (*Details, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.accounts.GetLineItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	if items == nil {
		items = []*LineItem{}
	}
	return &Details{Account: a, Items: items, Totals: CalculateTotals(items)}, nil
}

func (s *Service) ListAccountsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Account, int, error) {
	return s.accounts.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) SearchAccounts(ctx context.Context, params map[string]string, limit, offset int) ([]*Account, int, error) {
	return s.accounts.Search(ctx, params, limit, offset)
}

// ListReceivables returns closed accounts whose balance was deferred.
func (s *Service) ListReceivables(ctx context.Context, limit, offset int) ([]*Account, int, error) {
	return s.accounts.Search(ctx, map[string]string{"state": string(StateClosed), "receivable": "true"}, limit, offset)
}

// -- Line Items --

func (s *Service) AddLineItem(ctx context.Context, li *LineItem) error {
	if li.AccountID == uuid.Nil {
		return NewValidationError("account_id", "is required")
	}
	if !validKinds[li.Kind] {
		return NewValidationError("kind", fmt.Sprintf("invalid line item kind: %s", li.Kind))
	}
	if li.Quantity == 0 {
		li.Quantity = 1
	}
	if li.Quantity < 0 {
		return NewValidationError("quantity", "must be positive")
	}
	if err := checkAmount("amount", float64(li.Amount)); err != nil {
		return err
	}
	if float64(li.Amount)*float64(li.Quantity) > MaxAmount {
		return NewValidationError("quantity", fmt.Sprintf("line total cannot exceed %s", FormatMoney(MaxAmount)))
	}
	return s.accounts.AddLineItem(ctx, li)
}

func (s *Service) GetLineItems(ctx context.Context, accountID uuid.UUID) ([]*LineItem, error) {
	return s.accounts.GetLineItems(ctx, accountID)
}

// -- Close --

// CloseAccount settles and closes an open account on behalf of caller. The
// settlement is validated against totals recomputed from the stored line
// items, never against totals supplied by the client.
func (s *Service) CloseAccount(ctx context.Context, id uuid.UUID, req CloseRequest, caller Caller) (*Closure, error) {
	settlement, err := req.Settlement()
	if err != nil {
		return nil, err
	}

	tenant := db.TenantFromContext(ctx)
	if s.locker != nil {
		key := fmt.Sprintf("account-close:%s:%s", tenant, id)
		ok, token, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire close lock: %w", err)
		}
		if !ok {
			return nil, ErrCloseInProgress
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn().Err(err).Str("account_id", id.String()).Msg("release close lock")
			}
		}()
	}

	details, err := s.GetDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	a := details.Account
	if !a.IsOpen() {
		return nil, ErrAccountClosed
	}

	if err := s.validator.Validate(details.Totals, settlement, caller); err != nil {
		s.log.Info().
			Str("account_id", id.String()).
			Str("user_id", caller.ID).
			Float64("final_balance", details.Totals.FinalBalance).
			Err(err).
			Msg("close rejected")
		return nil, err
	}

	tendered := settlement.Tendered()
	change := Change(details.Totals, tendered)
	method := string(settlement.Payment.Method())
	closedAt := s.now().UTC()
	closedBy := caller.DisplayName()

	a.ClosedAt = &closedAt
	a.ClosedBy = &closedBy
	a.PaymentMethod = &method
	a.Receivable = settlement.Receivable && details.Totals.FinalBalance < 0
	if a.Receivable {
		// the whole deficit is deferred, nothing is handed back
		change = 0
		reason := settlement.ReceivableReason
		a.ReceivableReason = &reason
	}
	a.AmountTendered = &tendered
	a.ChangeGiven = &change

	if err := s.accounts.Close(ctx, a); err != nil {
		return nil, err
	}
	a.Items = details.Items

	closure := &Closure{Account: a, Totals: details.Totals, Change: change, Currency: s.currency}
	s.log.Info().
		Str("account_id", id.String()).
		Str("method", method).
		Float64("tendered", tendered).
		Float64("change", change).
		Bool("receivable", a.Receivable).
		Msg("account closed")

	s.afterClose(ctx, tenant, closure)
	return closure, nil
}

// afterClose publishes the closed event and archives the receipt. Failures
// are logged; the account is already closed.
func (s *Service) afterClose(ctx context.Context, tenant string, c *Closure) {
	a := c.Account
	if s.events != nil {
		evt := ClosedEvent{
			AccountID:     a.ID,
			PatientID:     a.PatientID,
			Tenant:        tenant,
			FinalBalance:  c.Totals.FinalBalance,
			PaymentMethod: deref(a.PaymentMethod),
			Tendered:      derefFloat(a.AmountTendered),
			Change:        c.Change,
			Currency:      c.Currency,
			Receivable:    a.Receivable,
			ClosedBy:      deref(a.ClosedBy),
		}
		if a.ReceivableReason != nil {
			evt.ReceivableReason = *a.ReceivableReason
		}
		if a.ClosedAt != nil {
			evt.ClosedAt = *a.ClosedAt
		}
		if err := s.events.Publish(ctx, EventAccountClosed, evt); err != nil {
			s.log.Error().Err(err).Str("account_id", a.ID.String()).Msg("publish account.closed")
		}
	}
	if s.receipts != nil {
		body, err := json.Marshal(c)
		if err == nil {
			err = s.receipts.Put(ctx, receiptKey(tenant, a.ID), body, "application/json")
		}
		if err != nil {
			s.log.Error().Err(err).Str("account_id", a.ID.String()).Msg("archive receipt")
		}
	}
}

// GetReceipt returns the archived closing receipt of an account.
func (s *Service) GetReceipt(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if s.receipts == nil {
		return nil, ErrReceiptNotFound
	}
	data, err := s.receipts.Get(ctx, receiptKey(db.TenantFromContext(ctx), id))
	if errors.Is(err, receipts.ErrNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load receipt: %w", err)
	}
	return data, nil
}

func receiptKey(tenant string, id uuid.UUID) string {
	if tenant == "" {
		tenant = "default"
	}
	return fmt.Sprintf("receipts/%s/%s.json", tenant, id)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
