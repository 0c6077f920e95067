// Package ledger abstracts the legacy external accounting system. The
// legacy side has no transaction protocol compatible with the local
// database, so the coordinator only talks to it through this port:
// one handle per (book year, document type), begin/post/commit as an
// explicit replay at the very end of a batch.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Status is the raw result code of a legacy call.
type Status int

const (
	// StatusOK is the only success code.
	StatusOK Status = 0
	// StatusNoPriorTransaction means there was nothing to roll back.
	// The legacy system resets a handle's transaction cursor after a
	// destructive operation; a rollback right after that is harmless.
	StatusNoPriorTransaction Status = 6
)

// Fatal reports whether the status must abort the batch.
func (s Status) Fatal() bool {
	return s != StatusOK && s != StatusNoPriorTransaction
}

// Error carries the failing operation and the legacy status code.
type Error struct {
	Op     string
	Status Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger: %s failed with status %d", e.Op, e.Status)
}

// DocumentType selects the legacy document administration a handle
// operates on.
type DocumentType string

const (
	DocumentTypeSales    DocumentType = "sales"
	DocumentTypePurchase DocumentType = "purchase"
	DocumentTypeMemorial DocumentType = "memorial"
)

// DocumentLine is one line of a document as posted externally.
type DocumentLine struct {
	Number   int64
	Account  string
	Remark   string
	Amount   float64
	Quantity float64
}

// Document is a fully numbered document ready for posting.
type Document struct {
	Number       int64
	BookDate     time.Time
	DocumentDate time.Time
	Book         string
	Lines        []DocumentLine
}

// DocumentRef addresses an already-posted document.
type DocumentRef struct {
	Number   int64
	BookDate time.Time
	Book     string
}

// AccountSpec creates a generic account under an assigned number.
type AccountSpec struct {
	Number int64
	Name   string
}

// PartyRef links an account to a person or organization.
type PartyRef struct {
	PersonID       *int64
	OrganizationID *int64
}

// SupplierSpec creates a creditor account.
type SupplierSpec struct {
	AccountSpec
	Party PartyRef
}

// CustomerSpec creates a debtor account.
type CustomerSpec struct {
	AccountSpec
	Parties []PartyRef
}

// Handle is one open connection to a (book year, document type)
// administration. Handles are stateful on the legacy side: closing
// one in the middle of a transaction or an open filter leaves the
// remote object in an unspecified state and has crashed the bridge
// before, so Close must only be called after CommitTransaction or
// RollbackTransaction returned.
type Handle interface {
	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	PostSalesDocument(ctx context.Context, doc Document) error
	PostPurchaseDocument(ctx context.Context, doc Document) error
	PostUpdate(ctx context.Context, ref DocumentRef, lines []DocumentLine) error
	PostRemove(ctx context.Context, ref DocumentRef) error

	CreateAccount(ctx context.Context, spec AccountSpec) error
	CreateSupplier(ctx context.Context, spec SupplierSpec) error
	CreateCustomer(ctx context.Context, spec CustomerSpec) error

	LastDocumentNumber(ctx context.Context, year int, book string) (int64, error)
	LastAccountNumber(ctx context.Context, from, thru int64) (int64, error)

	Close(ctx context.Context) error
}

// Factory opens handles. Opening is expensive on the legacy side;
// the coordinator caches one handle per (year, type) for the life of
// a transaction.
type Factory interface {
	Open(ctx context.Context, year int, docType DocumentType) (Handle, error)
}
