// Package booking defines the closed set of accounting requests the
// coordinator accepts: document postings against a (book year, book)
// journal and account creations against a number range.
package booking

import "time"

// BookType classifies the ledger a document posts to. Internal
// documents live only in the local journal and are never replayed to
// the external ledger.
type BookType string

const (
	BookTypeSales    BookType = "sales"
	BookTypePurchase BookType = "purchase"
	BookTypeMemorial BookType = "memorial"
	BookTypeInternal BookType = "internal"
)

// TargetsLedger reports whether documents of this book type must be
// replayed to the external ledger at commit time.
func (t BookType) TargetsLedger() bool {
	return t != BookTypeInternal
}

// Request is the closed union of accounting requests. Adding a new
// variant forces every type switch over Request to be revisited.
type Request interface {
	isRequest()
	// Kind names the variant for logs and metrics.
	Kind() string
}

// Line is one entry of a document. Number stays nil until the
// coordinator assigns it.
type Line struct {
	Account  string
	Remark   string
	Amount   float64
	Quantity float64
	Number   *int64
}

// Document carries the fields shared by all document requests.
// Number stays nil until the coordinator assigns it and is reset to
// nil when the enclosing transaction rolls back.
type Document struct {
	BookDate     time.Time
	DocumentDate time.Time
	Book         string
	BookType     BookType
	Number       *int64
	Total        float64
	Lines        []Line
}

// BookYear derives the fiscal year the document belongs to.
func (d *Document) BookYear() int {
	return d.BookDate.Year()
}

// CreateSalesDocument posts a new sales document.
type CreateSalesDocument struct {
	Document
}

// CreatePurchaseDocument posts a new purchase invoice.
type CreatePurchaseDocument struct {
	Document
}

// UpdateDocument rewrites the account of already-posted lines. Every
// line must carry the line number it was posted under.
type UpdateDocument struct {
	Document
}

// RemoveDocument deletes a posted document.
type RemoveDocument struct {
	Document
}

// FreezeDocument marks a posted document immutable.
type FreezeDocument struct {
	Document
}

// Account carries the fields shared by all account requests. Number
// stays nil until the coordinator assigns (or resolves) it.
type Account struct {
	Name   string
	From   int64
	Thru   int64
	Step   int64
	Number *int64
}

// Party links a customer account to a person or organization.
type Party struct {
	PersonID       *int64
	OrganizationID *int64
}

// CreateAccount creates a generic ledger account inside a range.
type CreateAccount struct {
	Account
}

// CreateSupplierAccount creates a creditor account for exactly one
// person or organization.
type CreateSupplierAccount struct {
	Account
	PersonID       *int64
	OrganizationID *int64
}

// CreateCustomerAccount creates a debtor account for one or more
// parties.
type CreateCustomerAccount struct {
	Account
	Parties []Party
}

func (*CreateSalesDocument) isRequest()    {}
func (*CreatePurchaseDocument) isRequest() {}
func (*UpdateDocument) isRequest()         {}
func (*RemoveDocument) isRequest()         {}
func (*FreezeDocument) isRequest()         {}
func (*CreateAccount) isRequest()          {}
func (*CreateSupplierAccount) isRequest()  {}
func (*CreateCustomerAccount) isRequest()  {}

func (*CreateSalesDocument) Kind() string    { return "create_sales_document" }
func (*CreatePurchaseDocument) Kind() string { return "create_purchase_document" }
func (*UpdateDocument) Kind() string         { return "update_document" }
func (*RemoveDocument) Kind() string         { return "remove_document" }
func (*FreezeDocument) Kind() string         { return "freeze_document" }
func (*CreateAccount) Kind() string          { return "create_account" }
func (*CreateSupplierAccount) Kind() string  { return "create_supplier_account" }
func (*CreateCustomerAccount) Kind() string  { return "create_customer_account" }
