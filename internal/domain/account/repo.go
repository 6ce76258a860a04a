package account

import (
	"context"

	"github.com/google/uuid"
)

type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Account, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Account, int, error)
	// Close persists the closing fields of a. It fails with ErrAccountClosed
	// when the account is no longer open and ErrAccountChanged when its
	// version moved since a was read.
	Close(ctx context.Context, a *Account) error
	// Line Items
	AddLineItem(ctx context.Context, li *LineItem) error
	GetLineItems(ctx context.Context, accountID uuid.UUID) ([]*LineItem, error)
}
