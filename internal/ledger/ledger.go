package ledger

import (
	"context"
	"errors"
	"time"
)

// EventUpload tags rows written for accepted uploads.
const EventUpload = "upload"

var (
	// ErrEmpty indicates the ledger holds no records yet.
	ErrEmpty = errors.New("ledger: no records")
	// ErrUnreadable indicates the backing store could not be read.
	ErrUnreadable = errors.New("ledger: backing store unreadable")
	// ErrCorruptRecord indicates a row that cannot be parsed into a record.
	ErrCorruptRecord = errors.New("ledger: corrupt record")
)

// Record is one immutable row of the upload ledger. Rows are never updated
// and never pruned; deleting an image leaves its row in place.
type Record struct {
	Event     string
	Username  string
	Filename  string
	URL       string
	CreatedAt time.Time
}

// Ledger is the append-only record of accepted uploads. Insertion order is
// chronological order; Latest returns the last successfully appended record.
type Ledger interface {
	Append(ctx context.Context, rec Record) error
	Latest(ctx context.Context) (*Record, error)
	All(ctx context.Context) ([]Record, error)
}
