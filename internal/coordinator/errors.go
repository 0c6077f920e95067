package coordinator

import (
	"errors"
	"fmt"

	"github.com/ledgerbridge/ledgerbridge/internal/journal"
)

var (
	// ErrAlreadyActive indicates Begin on a coordinator that already
	// has a transaction open.
	ErrAlreadyActive = errors.New("coordinator: transaction already active")
	// ErrNotActive indicates a register, commit or rollback without a
	// preceding Begin.
	ErrNotActive = errors.New("coordinator: no active transaction")
)

// MultiYearConflictError indicates a request whose book year differs
// from the year the pending batch is bound to. The external ledger
// cannot span years inside one transaction cluster.
type MultiYearConflictError struct {
	Have int
	Got  int
}

func (e *MultiYearConflictError) Error() string {
	return fmt.Sprintf("coordinator: request targets book year %d, batch is bound to %d", e.Got, e.Have)
}

// FrozenDocumentError indicates an update or removal of a document
// whose journal rows are frozen.
type FrozenDocumentError struct {
	Key journal.DocumentKey
}

func (e *FrozenDocumentError) Error() string {
	return fmt.Sprintf("coordinator: document %d in book %q is frozen", e.Key.Number, e.Key.Book)
}
