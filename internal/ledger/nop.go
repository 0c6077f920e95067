package ledger

import "context"

// NopFactory returns a factory whose handles accept every operation
// and persist nothing. Used for dry runs and for deployments without
// a bridge configured.
func NopFactory() Factory {
	return nopFactory{}
}

type nopFactory struct{}

func (nopFactory) Open(ctx context.Context, year int, docType DocumentType) (Handle, error) {
	return &nopHandle{}, nil
}

type nopHandle struct{}

func (*nopHandle) BeginTransaction(ctx context.Context) error    { return nil }
func (*nopHandle) CommitTransaction(ctx context.Context) error   { return nil }
func (*nopHandle) RollbackTransaction(ctx context.Context) error { return nil }

func (*nopHandle) PostSalesDocument(ctx context.Context, doc Document) error    { return nil }
func (*nopHandle) PostPurchaseDocument(ctx context.Context, doc Document) error { return nil }
func (*nopHandle) PostUpdate(ctx context.Context, ref DocumentRef, lines []DocumentLine) error {
	return nil
}
func (*nopHandle) PostRemove(ctx context.Context, ref DocumentRef) error { return nil }

func (*nopHandle) CreateAccount(ctx context.Context, spec AccountSpec) error   { return nil }
func (*nopHandle) CreateSupplier(ctx context.Context, spec SupplierSpec) error { return nil }
func (*nopHandle) CreateCustomer(ctx context.Context, spec CustomerSpec) error { return nil }

func (*nopHandle) LastDocumentNumber(ctx context.Context, year int, book string) (int64, error) {
	return 0, nil
}
func (*nopHandle) LastAccountNumber(ctx context.Context, from, thru int64) (int64, error) {
	return 0, nil
}

func (*nopHandle) Close(ctx context.Context) error { return nil }
