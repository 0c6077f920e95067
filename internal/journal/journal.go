// Package journal is the application-owned relational record of
// posted entries. It is the half of the double bookkeeping the
// coordinator can write transactionally; the external ledger is
// brought in line at commit time.
package journal

import (
	"context"
	"errors"
	"time"
)

// Entry is one journal line, keyed by (book date, book, document
// number, line number). Book names compare case-insensitively.
type Entry struct {
	BookDate       time.Time
	Book           string
	DocumentNumber int64
	LineNumber     int64
	Account        string
	Remark         string
	Amount         float64
	Quantity       float64
	Frozen         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DocumentKey addresses every line of one document.
type DocumentKey struct {
	BookDate time.Time
	Book     string
	Number   int64
}

// EntryKey addresses a single line.
type EntryKey struct {
	DocumentKey
	Line int64
}

var (
	// ErrNotFound indicates no entries match the key.
	ErrNotFound = errors.New("journal: entries not found")
	// ErrDuplicateEntry indicates an insert collided with an existing
	// (book date, book, document number, line number) row.
	ErrDuplicateEntry = errors.New("journal: duplicate entry")
)

// Tx is one local journal session. The coordinator writes through it
// during register and commits or rolls it back together with the
// external ledger replay. SelectEntriesForUpdate takes a row lock
// held until Commit or Rollback, so two coordinators can never both
// believe they own the same document.
type Tx interface {
	InsertEntries(ctx context.Context, entries []Entry) error
	SelectEntriesForUpdate(ctx context.Context, key DocumentKey) ([]Entry, error)
	UpdateEntryAccount(ctx context.Context, key EntryKey, account string) error
	DeleteEntries(ctx context.Context, key DocumentKey) ([]Entry, error)
	FreezeEntries(ctx context.Context, key DocumentKey) error
	// LastDocumentNumber returns the highest document number recorded
	// for (year, book), or 0 when the book is empty. Used to seed the
	// number registry after a restart.
	LastDocumentNumber(ctx context.Context, year int, book string) (int64, error)

	// Flush pushes buffered writes to the database without ending the
	// session, so later statements in the same batch see them.
	Flush(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository opens journal sessions.
type Repository interface {
	Begin(ctx context.Context) (Tx, error)
}
