package posting

import (
	"fmt"
	"time"

	"github.com/ledgerbridge/ledgerbridge/internal/booking"
)

// PartyInput links an account request to a person or organization.
type PartyInput struct {
	PersonID       *int64 `json:"person_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`
}

// LineInput is one document line as submitted by the caller.
type LineInput struct {
	Account    string  `json:"account" validate:"required"`
	Remark     string  `json:"remark"`
	Amount     float64 `json:"amount"`
	Quantity   float64 `json:"quantity"`
	LineNumber *int64  `json:"line_number,omitempty"`
}

// RequestInput is one request of a posting batch. Which fields apply
// depends on Kind.
type RequestInput struct {
	Kind string `json:"kind" validate:"required,oneof=create_sales_document create_purchase_document update_document remove_document freeze_document create_account create_supplier_account create_customer_account"`

	BookDate       string      `json:"book_date,omitempty"`
	DocumentDate   string      `json:"document_date,omitempty"`
	Book           string      `json:"book,omitempty"`
	BookType       string      `json:"book_type,omitempty" validate:"omitempty,oneof=sales purchase memorial internal"`
	DocumentNumber *int64      `json:"document_number,omitempty"`
	Total          float64     `json:"total,omitempty"`
	Lines          []LineInput `json:"lines,omitempty" validate:"dive"`

	Name           string       `json:"name,omitempty"`
	FromNumber     int64        `json:"from_number,omitempty"`
	ThruNumber     int64        `json:"thru_number,omitempty"`
	Step           int64        `json:"step,omitempty"`
	PersonID       *int64       `json:"person_id,omitempty"`
	OrganizationID *int64       `json:"organization_id,omitempty"`
	Parties        []PartyInput `json:"parties,omitempty" validate:"dive"`
}

// BatchInput is the body of POST /api/postings.
type BatchInput struct {
	BatchID  string         `json:"batch_id,omitempty" validate:"omitempty,uuid4"`
	Requests []RequestInput `json:"requests" validate:"required,min=1,dive"`
}

// RequestResult reports the numbers assigned to one request.
type RequestResult struct {
	Kind             string  `json:"kind"`
	Queued           bool    `json:"queued"`
	DocumentNumber   *int64  `json:"document_number,omitempty"`
	AccountingNumber *int64  `json:"accounting_number,omitempty"`
	LineNumbers      []int64 `json:"line_numbers,omitempty"`
}

// BatchResult is the response of POST /api/postings.
type BatchResult struct {
	BatchID   string          `json:"batch_id"`
	Simulated bool            `json:"simulated,omitempty"`
	Results   []RequestResult `json:"results"`
}

const dateLayout = "2006-01-02"

func (in RequestInput) toRequest() (booking.Request, error) {
	switch in.Kind {
	case "create_sales_document":
		doc, err := in.toDocument(booking.BookTypeSales)
		if err != nil {
			return nil, err
		}
		return &booking.CreateSalesDocument{Document: doc}, nil
	case "create_purchase_document":
		doc, err := in.toDocument(booking.BookTypePurchase)
		if err != nil {
			return nil, err
		}
		return &booking.CreatePurchaseDocument{Document: doc}, nil
	case "update_document":
		doc, err := in.toDocument("")
		if err != nil {
			return nil, err
		}
		return &booking.UpdateDocument{Document: doc}, nil
	case "remove_document":
		doc, err := in.toDocument("")
		if err != nil {
			return nil, err
		}
		return &booking.RemoveDocument{Document: doc}, nil
	case "freeze_document":
		doc, err := in.toDocument("")
		if err != nil {
			return nil, err
		}
		return &booking.FreezeDocument{Document: doc}, nil
	case "create_account":
		return &booking.CreateAccount{Account: in.toAccount()}, nil
	case "create_supplier_account":
		return &booking.CreateSupplierAccount{
			Account:        in.toAccount(),
			PersonID:       in.PersonID,
			OrganizationID: in.OrganizationID,
		}, nil
	case "create_customer_account":
		parties := make([]booking.Party, 0, len(in.Parties))
		for _, p := range in.Parties {
			parties = append(parties, booking.Party{PersonID: p.PersonID, OrganizationID: p.OrganizationID})
		}
		return &booking.CreateCustomerAccount{Account: in.toAccount(), Parties: parties}, nil
	default:
		return nil, fmt.Errorf("posting: unknown request kind %q", in.Kind)
	}
}

func (in RequestInput) toDocument(defaultType booking.BookType) (booking.Document, error) {
	bookDate, err := time.Parse(dateLayout, in.BookDate)
	if err != nil {
		return booking.Document{}, fmt.Errorf("posting: invalid book_date %q", in.BookDate)
	}
	docDate := bookDate
	if in.DocumentDate != "" {
		docDate, err = time.Parse(dateLayout, in.DocumentDate)
		if err != nil {
			return booking.Document{}, fmt.Errorf("posting: invalid document_date %q", in.DocumentDate)
		}
	}
	bookType := booking.BookType(in.BookType)
	if in.BookType == "" {
		bookType = defaultType
		if bookType == "" {
			bookType = booking.BookTypeMemorial
		}
	}
	lines := make([]booking.Line, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, booking.Line{
			Account:  l.Account,
			Remark:   l.Remark,
			Amount:   l.Amount,
			Quantity: l.Quantity,
			Number:   l.LineNumber,
		})
	}
	return booking.Document{
		BookDate:     bookDate,
		DocumentDate: docDate,
		Book:         in.Book,
		BookType:     bookType,
		Number:       in.DocumentNumber,
		Total:        in.Total,
		Lines:        lines,
	}, nil
}

func (in RequestInput) toAccount() booking.Account {
	return booking.Account{
		Name: in.Name,
		From: in.FromNumber,
		Thru: in.ThruNumber,
		Step: in.Step,
	}
}

func resultFor(req booking.Request, queued bool) RequestResult {
	result := RequestResult{Kind: req.Kind(), Queued: queued}
	switch r := req.(type) {
	case *booking.CreateSalesDocument:
		fillDocumentResult(&result, &r.Document)
	case *booking.CreatePurchaseDocument:
		fillDocumentResult(&result, &r.Document)
	case *booking.UpdateDocument:
		fillDocumentResult(&result, &r.Document)
	case *booking.RemoveDocument:
		fillDocumentResult(&result, &r.Document)
	case *booking.FreezeDocument:
		fillDocumentResult(&result, &r.Document)
	case *booking.CreateAccount:
		result.AccountingNumber = r.Number
	case *booking.CreateSupplierAccount:
		result.AccountingNumber = r.Number
	case *booking.CreateCustomerAccount:
		result.AccountingNumber = r.Number
	}
	return result
}

func fillDocumentResult(result *RequestResult, d *booking.Document) {
	result.DocumentNumber = d.Number
	for _, line := range d.Lines {
		if line.Number != nil {
			result.LineNumbers = append(result.LineNumbers, *line.Number)
		}
	}
}
