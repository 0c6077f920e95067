// Package coordinator makes a batch of booking requests land on the
// local journal and the legacy external ledger together. Local writes
// happen inside the caller's database transaction as requests are
// registered; the external ledger only sees the batch at commit time,
// replayed in registration order once the whole batch is known to be
// postable.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerbridge/ledgerbridge/internal/booking"
	"github.com/ledgerbridge/ledgerbridge/internal/journal"
	"github.com/ledgerbridge/ledgerbridge/internal/ledger"
	"github.com/ledgerbridge/ledgerbridge/internal/numbering"
)

// AccountResolver reports the accounting number of an account that
// already exists, so the request resolves without an allocation or an
// external posting. Optional; without one every account request
// allocates a fresh number.
type AccountResolver interface {
	Resolve(ctx context.Context, req booking.Request) (int64, bool, error)
}

// Config wires a coordinator. Registry and Lock are shared by every
// coordinator posting to the same ledger; everything else is
// per-instance.
type Config struct {
	Registry numbering.Registry
	Lock     numbering.Lock
	Ledger   ledger.Factory
	Rules    booking.Rules
	Resolver AccountResolver
	Logger   *slog.Logger

	// SupplierAccountOffset and CustomerAccountOffset translate a raw
	// accounting number inside the range to the full account number
	// the ledger uses for creditors and debtors.
	SupplierAccountOffset int64
	CustomerAccountOffset int64
}

type state int

const (
	stateIdle state = iota
	stateActive
	stateCommitting
	stateRollingBack
)

type handleKey struct {
	year    int
	docType ledger.DocumentType
}

type pendingItem struct {
	req booking.Request
	key handleKey
}

// Coordinator orchestrates one begin/register/commit cycle at a time.
// Instances are not safe for concurrent use; the shared Lock is what
// serializes coordinators against each other.
type Coordinator struct {
	registry       numbering.Registry
	lock           numbering.Lock
	factory        ledger.Factory
	rules          booking.Rules
	resolver       AccountResolver
	logger         *slog.Logger
	supplierOffset int64
	customerOffset int64
	now            func() time.Time

	state       state
	sess        journal.Tx
	pending     []pendingItem
	handles     map[handleKey]ledger.Handle
	handleOrder []handleKey
	bookYear    int
}

// New constructs a coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry:       cfg.Registry,
		lock:           cfg.Lock,
		factory:        cfg.Ledger,
		rules:          cfg.Rules,
		resolver:       cfg.Resolver,
		logger:         logger,
		supplierOffset: cfg.SupplierAccountOffset,
		customerOffset: cfg.CustomerAccountOffset,
		now:            time.Now,
	}
}

// WithNow overrides the clock.
func (c *Coordinator) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Begin opens a coordinator transaction tied to the given journal
// session, so both can be committed or rolled back together.
func (c *Coordinator) Begin(ctx context.Context, sess journal.Tx) error {
	if c.state != stateIdle {
		return ErrAlreadyActive
	}
	c.state = stateActive
	c.sess = sess
	c.pending = nil
	c.handles = make(map[handleKey]ledger.Handle)
	c.handleOrder = nil
	c.bookYear = 0
	return nil
}

// RegisterRequest validates the request, assigns document and line
// numbers, writes it to the local journal, and queues it for replay
// against the external ledger at commit time. It returns true when the
// request was queued and false when it resolved immediately (a
// local-only document operation, or an account that already exists).
//
// The global lock is held for the duration of the call. Journal rows
// written before a failure in the same call are not undone here; the
// caller must roll back the enclosing transaction.
func (c *Coordinator) RegisterRequest(ctx context.Context, req booking.Request) (bool, error) {
	if c.state != stateActive {
		return false, ErrNotActive
	}
	unlock, err := c.lock.Lock(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("release posting lock", slog.Any("error", err))
		}
	}()

	if v, ok := req.(booking.Validatable); ok {
		if err := v.Validate(c.rules); err != nil {
			return false, err
		}
	}

	switch r := req.(type) {
	case *booking.CreateSalesDocument:
		return c.registerNewDocument(ctx, req, &r.Document)
	case *booking.CreatePurchaseDocument:
		return c.registerNewDocument(ctx, req, &r.Document)
	case *booking.UpdateDocument:
		return c.registerUpdate(ctx, r)
	case *booking.RemoveDocument:
		return c.registerRemove(ctx, r)
	case *booking.FreezeDocument:
		return c.registerFreeze(ctx, r)
	case *booking.CreateAccount:
		return c.registerAccount(ctx, req, &r.Account, 0)
	case *booking.CreateSupplierAccount:
		return c.registerAccount(ctx, req, &r.Account, c.supplierOffset)
	case *booking.CreateCustomerAccount:
		return c.registerAccount(ctx, req, &r.Account, c.customerOffset)
	default:
		return false, fmt.Errorf("coordinator: unhandled request kind %T", req)
	}
}

func (c *Coordinator) registerNewDocument(ctx context.Context, req booking.Request, d *booking.Document) (bool, error) {
	year := d.BookYear()
	docType, targets := docTypeFor(d.BookType)
	hk := handleKey{year: year, docType: docType}

	if d.Number == nil {
		if err := c.allocateDocumentNumber(ctx, d, hk, targets); err != nil {
			return false, err
		}
	}
	for i := range d.Lines {
		n := int64(i + 1)
		d.Lines[i].Number = &n
	}

	entries := make([]journal.Entry, 0, len(d.Lines))
	for _, line := range d.Lines {
		entries = append(entries, journal.Entry{
			BookDate:       d.BookDate,
			Book:           d.Book,
			DocumentNumber: *d.Number,
			LineNumber:     *line.Number,
			Account:        line.Account,
			Remark:         line.Remark,
			Amount:         line.Amount,
			Quantity:       line.Quantity,
		})
	}
	if err := c.sess.InsertEntries(ctx, entries); err != nil {
		return false, err
	}

	if !targets {
		return false, nil
	}
	if err := c.checkBookYear(year); err != nil {
		return false, err
	}
	if _, err := c.handle(ctx, hk); err != nil {
		return false, err
	}
	c.pending = append(c.pending, pendingItem{req: req, key: hk})
	return true, nil
}

func (c *Coordinator) registerUpdate(ctx context.Context, r *booking.UpdateDocument) (bool, error) {
	key := documentKeyOf(&r.Document)
	rows, err := c.sess.SelectEntriesForUpdate(ctx, key)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, journal.ErrNotFound
	}
	if anyFrozen(rows) {
		return false, &FrozenDocumentError{Key: key}
	}
	for _, line := range r.Lines {
		ek := journal.EntryKey{DocumentKey: key, Line: *line.Number}
		if err := c.sess.UpdateEntryAccount(ctx, ek, line.Account); err != nil {
			return false, err
		}
	}

	docType, targets := docTypeFor(r.BookType)
	if !targets {
		return false, nil
	}
	if err := c.checkBookYear(r.BookYear()); err != nil {
		return false, err
	}
	hk := handleKey{year: r.BookYear(), docType: docType}
	if _, err := c.handle(ctx, hk); err != nil {
		return false, err
	}
	c.pending = append(c.pending, pendingItem{req: r, key: hk})
	return true, nil
}

func (c *Coordinator) registerRemove(ctx context.Context, r *booking.RemoveDocument) (bool, error) {
	key := documentKeyOf(&r.Document)
	rows, err := c.sess.SelectEntriesForUpdate(ctx, key)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, journal.ErrNotFound
	}
	if anyFrozen(rows) {
		return false, &FrozenDocumentError{Key: key}
	}
	if _, err := c.sess.DeleteEntries(ctx, key); err != nil {
		return false, err
	}

	docType, targets := docTypeFor(r.BookType)
	if !targets {
		return false, nil
	}
	if err := c.checkBookYear(r.BookYear()); err != nil {
		return false, err
	}
	hk := handleKey{year: r.BookYear(), docType: docType}
	if _, err := c.handle(ctx, hk); err != nil {
		return false, err
	}
	c.pending = append(c.pending, pendingItem{req: r, key: hk})
	return true, nil
}

// registerFreeze marks the rows immutable. Freezing is a local-only
// operation; the external ledger has no notion of it.
func (c *Coordinator) registerFreeze(ctx context.Context, r *booking.FreezeDocument) (bool, error) {
	key := documentKeyOf(&r.Document)
	if _, err := c.sess.SelectEntriesForUpdate(ctx, key); err != nil {
		return false, err
	}
	if err := c.sess.FreezeEntries(ctx, key); err != nil {
		return false, err
	}
	return false, nil
}

func (c *Coordinator) registerAccount(ctx context.Context, req booking.Request, a *booking.Account, offset int64) (bool, error) {
	if c.resolver != nil {
		number, found, err := c.resolver.Resolve(ctx, req)
		if err != nil {
			return false, err
		}
		if found {
			a.Number = &number
			return false, nil
		}
	}

	hk := handleKey{year: c.accountYear(), docType: ledger.DocumentTypeMemorial}
	if err := c.checkBookYear(hk.year); err != nil {
		return false, err
	}
	raw, err := c.allocateAccountNumber(ctx, req, a, hk)
	if err != nil {
		return false, err
	}
	full := raw + offset
	a.Number = &full

	if _, err := c.handle(ctx, hk); err != nil {
		return false, err
	}
	c.pending = append(c.pending, pendingItem{req: req, key: hk})
	return true, nil
}

/// accountYear picks the ledger year account requests attach to: the
// year the batch is already bound to, or the current fiscal year.
func (c *Coordinator) accountYear() int {
	if c.bookYear != 0 {
		return c.bookYear
	}
	return c.now().Year()
}

func (c *Coordinator) allocateDocumentNumber(ctx context.Context, d *booking.Document, hk handleKey, targets bool) error {
	key := numbering.DocumentKey(d.BookYear(), d.Book)
	n, err := c.registry.Next(ctx, key, 1, 0)
	if errors.Is(err, numbering.ErrUnknownKey) {
		if err := c.seedDocumentKey(ctx, key, d, hk, targets); err != nil {
			return err
		}
		n, err = c.registry.Next(ctx, key, 1, 0)
	}
	if err != nil {
		return err
	}
	d.Number = &n
	return nil
}

// seedDocumentKey reads the last issued number from every durable
// subsystem and records each as a floor, so allocation can never
// reuse a number handed out before a restart.
func (c *Coordinator) seedDocumentKey(ctx context.Context, key numbering.Key, d *booking.Document, hk handleKey, targets bool) error {
	localLast, err := c.sess.LastDocumentNumber(ctx, d.BookYear(), d.Book)
	if err != nil {
		return err
	}
	if err := c.registry.SetMinimum(ctx, key, localLast, "journal"); err != nil {
		return err
	}
	if targets {
		h, err := c.handle(ctx, hk)
		if err != nil {
			return err
		}
		ledgerLast, err := h.LastDocumentNumber(ctx, d.BookYear(), d.Book)
		if err != nil {
			return err
		}
		if err := c.registry.SetMinimum(ctx, key, ledgerLast, "ledger"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) allocateAccountNumber(ctx context.Context, req booking.Request, a *booking.Account, hk handleKey) (int64, error) {
	step := a.Step
	if step <= 0 {
		step = 1
	}
	key := numbering.AccountKey(req.Kind(), a.From, a.Thru)
	raw, err := c.registry.Next(ctx, key, step, a.Thru)
	if errors.Is(err, numbering.ErrUnknownKey) {
		if err := c.registry.SetMinimum(ctx, key, a.From-step, "range"); err != nil {
			return 0, err
		}
		h, err := c.handle(ctx, hk)
		if err != nil {
			return 0, err
		}
		ledgerLast, err := h.LastAccountNumber(ctx, a.From, a.Thru)
		if err != nil {
			return 0, err
		}
		if err := c.registry.SetMinimum(ctx, key, ledgerLast, "ledger"); err != nil {
			return 0, err
		}
		raw, err = c.registry.Next(ctx, key, step, a.Thru)
		if err != nil {
			return 0, err
		}
		return raw, nil
	}
	return raw, err
}

func (c *Coordinator) checkBookYear(year int) error {
	if c.bookYear == 0 {
		c.bookYear = year
		return nil
	}
	if c.bookYear != year {
		return &MultiYearConflictError{Have: c.bookYear, Got: year}
	}
	return nil
}

func (c *Coordinator) handle(ctx context.Context, hk handleKey) (ledger.Handle, error) {
	if h, ok := c.handles[hk]; ok {
		return h, nil
	}
	h, err := c.factory.Open(ctx, hk.year, hk.docType)
	if err != nil {
		return nil, err
	}
	c.handles[hk] = h
	c.handleOrder = append(c.handleOrder, hk)
	return h, nil
}

// Commit replays the pending queue against the external ledger and,
// only when every replay landed, commits both sides. On any replay
// failure every ledger handle is rolled back and the local session is
// left uncommitted for the caller to roll back. The replay must run
// to completion or fail outright; a half-replayed handle is in an
// unspecified state and is never reused.
func (c *Coordinator) Commit(ctx context.Context) error {
	if c.state != stateActive {
		return ErrNotActive
	}
	c.state = stateCommitting

	if len(c.pending) == 0 {
		if err := c.sess.Commit(ctx); err != nil {
			c.state = stateActive
			return err
		}
		c.closeHandles(ctx)
		c.reset()
		return nil
	}

	unlock, err := c.lock.Lock(ctx)
	if err != nil {
		c.state = stateActive
		return err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("release posting lock", slog.Any("error", err))
		}
	}()

	if err := c.sess.Flush(ctx); err != nil {
		c.state = stateActive
		return err
	}

	touched := c.touchedHandles()
	for _, hk := range touched {
		if err := c.handles[hk].BeginTransaction(ctx); err != nil {
			c.rollbackHandles(ctx, touched)
			c.state = stateActive
			return err
		}
	}
	for _, item := range c.pending {
		if err := c.replay(ctx, item); err != nil {
			c.logger.Error("replay failed, rolling back ledger",
				slog.String("kind", item.req.Kind()), slog.Any("error", err))
			c.rollbackHandles(ctx, touched)
			c.state = stateActive
			return err
		}
	}
	for i, hk := range touched {
		if err := c.handles[hk].CommitTransaction(ctx); err != nil {
			// Earlier handles already committed and stay committed.
			// The failing handle and every later one still have an
			// open transaction; roll them back so Close never lands
			// mid-transaction.
			c.logger.Error("ledger commit failed, rolling back open handles",
				slog.Int("year", hk.year), slog.String("type", string(hk.docType)), slog.Any("error", err))
			c.rollbackHandles(ctx, touched[i:])
			c.state = stateActive
			return err
		}
	}

	if err := c.sess.Commit(ctx); err != nil {
		c.state = stateActive
		return err
	}
	c.closeHandles(ctx)
	c.reset()
	return nil
}

// Rollback rolls back the local session and clears assigned numbers
// from the pending requests. Registry counters are not decremented;
// the consumed numbers become gaps.
func (c *Coordinator) Rollback(ctx context.Context) error {
	if c.state == stateIdle {
		return ErrNotActive
	}
	c.state = stateRollingBack
	err := c.sess.Rollback(ctx)
	for _, item := range c.pending {
		clearNumbers(item.req)
	}
	c.closeHandles(ctx)
	c.reset()
	return err
}

/// Run is the scoped form: fn registers requests, then the transaction
// is committed on success or rolled back on failure. A failing commit
// also falls back to rollback before the error is returned.
func (c *Coordinator) Run(ctx context.Context, sess journal.Tx, fn func(ctx context.Context) error) error {
	if err := c.Begin(ctx, sess); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			c.logger.Error("rollback after failure", slog.Any("error", rbErr))
		}
		return err
	}
	if err := c.Commit(ctx); err != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			c.logger.Error("rollback after failed commit", slog.Any("error", rbErr))
		}
		return err
	}
	return nil
}

func (c *Coordinator) replay(ctx context.Context, item pendingItem) error {
	h, ok := c.handles[item.key]
	if !ok {
		return fmt.Errorf("coordinator: no handle for year %d type %s", item.key.year, item.key.docType)
	}
	switch r := item.req.(type) {
	case *booking.CreateSalesDocument:
		return h.PostSalesDocument(ctx, toLedgerDocument(&r.Document))
	case *booking.CreatePurchaseDocument:
		return h.PostPurchaseDocument(ctx, toLedgerDocument(&r.Document))
	case *booking.UpdateDocument:
		return h.PostUpdate(ctx, toLedgerRef(&r.Document), toLedgerLines(r.Lines))
	case *booking.RemoveDocument:
		return h.PostRemove(ctx, toLedgerRef(&r.Document))
	case *booking.FreezeDocument:
		// Local-only; never queued.
		return nil
	case *booking.CreateAccount:
		return h.CreateAccount(ctx, ledger.AccountSpec{Number: *r.Number, Name: r.Name})
	case *booking.CreateSupplierAccount:
		return h.CreateSupplier(ctx, ledger.SupplierSpec{
			AccountSpec: ledger.AccountSpec{Number: *r.Number, Name: r.Name},
			Party:       ledger.PartyRef{PersonID: r.PersonID, OrganizationID: r.OrganizationID},
		})
	case *booking.CreateCustomerAccount:
		parties := make([]ledger.PartyRef, 0, len(r.Parties))
		for _, p := range r.Parties {
			parties = append(parties, ledger.PartyRef{PersonID: p.PersonID, OrganizationID: p.OrganizationID})
		}
		return h.CreateCustomer(ctx, ledger.CustomerSpec{
			AccountSpec: ledger.AccountSpec{Number: *r.Number, Name: r.Name},
			Parties:     parties,
		})
	default:
		return fmt.Errorf("coordinator: unhandled request kind %T", item.req)
	}
}

// touchedHandles returns the distinct handles pending requests will
// replay through, in first-use order.
func (c *Coordinator) touchedHandles() []handleKey {
	seen := make(map[handleKey]bool, len(c.handles))
	for _, item := range c.pending {
		seen[item.key] = true
	}
	out := make([]handleKey, 0, len(seen))
	for _, hk := range c.handleOrder {
		if seen[hk] {
			out = append(out, hk)
		}
	}
	return out
}

func (c *Coordinator) rollbackHandles(ctx context.Context, keys []handleKey) {
	for _, hk := range keys {
		if err := c.handles[hk].RollbackTransaction(ctx); err != nil {
			c.logger.Error("ledger rollback",
				slog.Int("year", hk.year), slog.String("type", string(hk.docType)), slog.Any("error", err))
		}
	}
}

// closeHandles releases every open bridge handle. Handles are
// independent sessions, so they close in parallel.
func (c *Coordinator) closeHandles(ctx context.Context) {
	var g errgroup.Group
	for _, hk := range c.handleOrder {
		h := c.handles[hk]
		g.Go(func() error {
			return h.Close(ctx)
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) reset() {
	c.state = stateIdle
	c.sess = nil
	c.pending = nil
	c.handles = nil
	c.handleOrder = nil
	c.bookYear = 0
}

func clearNumbers(req booking.Request) {
	switch r := req.(type) {
	case *booking.CreateSalesDocument:
		clearDocumentNumbers(&r.Document)
	case *booking.CreatePurchaseDocument:
		clearDocumentNumbers(&r.Document)
	case *booking.UpdateDocument, *booking.RemoveDocument, *booking.FreezeDocument:
		// Numbers were supplied by the caller, not assigned here.
	case *booking.CreateAccount:
		r.Account.Number = nil
	case *booking.CreateSupplierAccount:
		r.Account.Number = nil
	case *booking.CreateCustomerAccount:
		r.Account.Number = nil
	}
}

func clearDocumentNumbers(d *booking.Document) {
	d.Number = nil
	for i := range d.Lines {
		d.Lines[i].Number = nil
	}
}

func docTypeFor(bt booking.BookType) (ledger.DocumentType, bool) {
	switch bt {
	case booking.BookTypeSales:
		return ledger.DocumentTypeSales, true
	case booking.BookTypePurchase:
		return ledger.DocumentTypePurchase, true
	case booking.BookTypeMemorial:
		return ledger.DocumentTypeMemorial, true
	default:
		return "", false
	}
}

func documentKeyOf(d *booking.Document) journal.DocumentKey {
	return journal.DocumentKey{BookDate: d.BookDate, Book: d.Book, Number: *d.Number}
}

func anyFrozen(rows []journal.Entry) bool {
	for _, row := range rows {
		if row.Frozen {
			return true
		}
	}
	return false
}

func toLedgerDocument(d *booking.Document) ledger.Document {
	return ledger.Document{
		Number:       *d.Number,
		BookDate:     d.BookDate,
		DocumentDate: d.DocumentDate,
		Book:         d.Book,
		Lines:        toLedgerLines(d.Lines),
	}
}

func toLedgerRef(d *booking.Document) ledger.DocumentRef {
	return ledger.DocumentRef{Number: *d.Number, BookDate: d.BookDate, Book: d.Book}
}

func toLedgerLines(lines []booking.Line) []ledger.DocumentLine {
	out := make([]ledger.DocumentLine, 0, len(lines))
	for _, line := range lines {
		var n int64
		if line.Number != nil {
			n = *line.Number
		}
		out = append(out, ledger.DocumentLine{
			Number:   n,
			Account:  line.Account,
			Remark:   line.Remark,
			Amount:   line.Amount,
			Quantity: line.Quantity,
		})
	}
	return out
}
