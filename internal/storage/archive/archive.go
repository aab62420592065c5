// Package archive records applied operations in a relational database
// for audit and reporting. The archive is a sink beside the storage
// pool, not a source of truth: accounts rehydrate from the pool alone.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/contalabs/bankd/internal/core/account"
)

var (
	// ErrClosed indicates the archive has been shut down.
	ErrClosed = errors.New("archive is closed")

	// ErrUnknownDriver rejects drivers other than sqlite and postgres.
	ErrUnknownDriver = errors.New("unknown archive driver")
)

// Record is one archived operation row.
type Record struct {
	AccountID   int64     `json:"account_id"`
	OperationID int64     `json:"operation_id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	DateTime    time.Time `json:"date_time"`
	Data        string    `json:"data"` // JSON-encoded operation data
}

// Archiver is the write-plus-query surface of the archive.
type Archiver interface {
	// Append persists a batch of records. Re-appending an existing
	// (account, operation) row replaces it, so status flips such as
	// refunds overwrite the original row.
	Append(ctx context.Context, records []Record) error

	// AccountOperations returns the newest records for one account,
	// most recent first.
	AccountOperations(ctx context.Context, accountID int64, limit int) ([]Record, error)

	// Close releases the underlying database.
	Close() error
}

// FromOperation flattens an applied operation into a Record.
func FromOperation(accountID int64, op *account.Operation) Record {
	rec := Record{
		AccountID:   accountID,
		OperationID: op.ID,
		Type:        string(op.Type),
		Status:      string(op.Status),
		DateTime:    op.DateTime,
	}

	if amount, ok := op.Amount(); ok {
		rec.Amount = amount
	}
	if currency, ok := op.Currency(); ok {
		rec.Currency = currency
	}

	if len(op.Data) > 0 {
		if encoded, err := json.Marshal(op.Data); err == nil {
			rec.Data = string(encoded)
		}
	}
	return rec
}
