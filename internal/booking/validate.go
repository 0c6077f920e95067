package booking

import (
	"fmt"
	"math"
)

// ValidationError indicates a malformed request. It is raised before
// any number allocation or journal write, so a failed validation has
// no side effects.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "booking: invalid request: " + e.Reason
}

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Rules carries the validation tunables.
type Rules struct {
	// AmountEpsilon bounds the difference tolerated between a
	// document's declared total and the sum of its line amounts.
	AmountEpsilon float64
}

// Validatable is implemented by every request variant.
type Validatable interface {
	Validate(rules Rules) error
}

func (r *CreateSalesDocument) Validate(rules Rules) error {
	return validateNewDocument(&r.Document, rules)
}

func (r *CreatePurchaseDocument) Validate(rules Rules) error {
	return validateNewDocument(&r.Document, rules)
}

func (r *UpdateDocument) Validate(rules Rules) error {
	if r.Number == nil {
		return invalidf("update requires a document number")
	}
	for i, line := range r.Lines {
		if line.Number == nil {
			return invalidf("update line %d has no line number", i)
		}
		if line.Account == "" {
			return invalidf("update line %d has no account", i)
		}
	}
	return nil
}

func (r *RemoveDocument) Validate(rules Rules) error {
	return validateBareDocument(&r.Document, "remove")
}

func (r *FreezeDocument) Validate(rules Rules) error {
	return validateBareDocument(&r.Document, "freeze")
}

func (r *CreateAccount) Validate(rules Rules) error {
	return validateNewAccount(&r.Account)
}

func (r *CreateSupplierAccount) Validate(rules Rules) error {
	if err := validateNewAccount(&r.Account); err != nil {
		return err
	}
	if (r.PersonID == nil) == (r.OrganizationID == nil) {
		return invalidf("supplier account requires exactly one of person or organization")
	}
	return nil
}

func (r *CreateCustomerAccount) Validate(rules Rules) error {
	if err := validateNewAccount(&r.Account); err != nil {
		return err
	}
	if len(r.Parties) == 0 {
		return invalidf("customer account requires at least one party")
	}
	for i, party := range r.Parties {
		if party.PersonID == nil && party.OrganizationID == nil {
			return invalidf("customer party %d has neither person nor organization", i)
		}
	}
	return nil
}

func validateNewDocument(d *Document, rules Rules) error {
	if d.Number != nil {
		return invalidf("new document must not carry a preset document number")
	}
	if d.Book == "" {
		return invalidf("document requires a book")
	}
	if len(d.Lines) == 0 {
		return invalidf("document requires at least one line")
	}
	var sum float64
	for i, line := range d.Lines {
		if line.Account == "" {
			return invalidf("line %d has no account", i)
		}
		if line.Number != nil {
			return invalidf("line %d must not carry a preset line number", i)
		}
		sum += line.Amount
	}
	// A zero declared total means the caller did not state one; the
	// line sum is then taken as authoritative.
	if d.Total != 0 && math.Abs(sum-d.Total) > rules.AmountEpsilon {
		return invalidf("line amounts sum to %.4f, declared total is %.4f", sum, d.Total)
	}
	return nil
}

func validateBareDocument(d *Document, op string) error {
	if d.Number == nil {
		return invalidf("%s requires a document number", op)
	}
	if len(d.Lines) != 0 {
		return invalidf("%s must not carry lines", op)
	}
	return nil
}

func validateNewAccount(a *Account) error {
	if a.Name == "" {
		return invalidf("account requires a name")
	}
	if a.From <= 0 || a.Thru <= 0 {
		return invalidf("account range bounds must be positive")
	}
	if a.From > a.Thru {
		return invalidf("account range is inverted")
	}
	if a.Step < 0 {
		return invalidf("account step must not be negative")
	}
	if a.Number != nil {
		return invalidf("new account must not carry a preset accounting number")
	}
	return nil
}
