package coordinator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerbridge/ledgerbridge/internal/booking"
	"github.com/ledgerbridge/ledgerbridge/internal/journal"
	"github.com/ledgerbridge/ledgerbridge/internal/ledger"
	"github.com/ledgerbridge/ledgerbridge/internal/numbering"
)

// fakeStore is the durable side of the fake journal; rows only land
// here on Commit.
type fakeStore struct {
	rows []journal.Entry
}

func (s *fakeStore) session() *fakeSession {
	work := make([]journal.Entry, len(s.rows))
	copy(work, s.rows)
	return &fakeSession{store: s, work: work}
}

type fakeSession struct {
	store      *fakeStore
	work       []journal.Entry
	committed  bool
	rolledBack bool
}

func sameDocument(e journal.Entry, key journal.DocumentKey) bool {
	return e.BookDate.Equal(key.BookDate) && strings.EqualFold(e.Book, key.Book) && e.DocumentNumber == key.Number
}

func (s *fakeSession) InsertEntries(ctx context.Context, entries []journal.Entry) error {
	for _, e := range entries {
		for _, have := range s.work {
			if sameDocument(have, journal.DocumentKey{BookDate: e.BookDate, Book: e.Book, Number: e.DocumentNumber}) && have.LineNumber == e.LineNumber {
				return journal.ErrDuplicateEntry
			}
		}
		s.work = append(s.work, e)
	}
	return nil
}

func (s *fakeSession) SelectEntriesForUpdate(ctx context.Context, key journal.DocumentKey) ([]journal.Entry, error) {
	var out []journal.Entry
	for _, e := range s.work {
		if sameDocument(e, key) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeSession) UpdateEntryAccount(ctx context.Context, key journal.EntryKey, account string) error {
	for i, e := range s.work {
		if sameDocument(e, key.DocumentKey) && e.LineNumber == key.Line {
			s.work[i].Account = account
			return nil
		}
	}
	return journal.ErrNotFound
}

func (s *fakeSession) DeleteEntries(ctx context.Context, key journal.DocumentKey) ([]journal.Entry, error) {
	var removed, kept []journal.Entry
	for _, e := range s.work {
		if sameDocument(e, key) {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(removed) == 0 {
		return nil, journal.ErrNotFound
	}
	s.work = kept
	return removed, nil
}

func (s *fakeSession) FreezeEntries(ctx context.Context, key journal.DocumentKey) error {
	found := false
	for i, e := range s.work {
		if sameDocument(e, key) {
			s.work[i].Frozen = true
			found = true
		}
	}
	if !found {
		return journal.ErrNotFound
	}
	return nil
}

func (s *fakeSession) LastDocumentNumber(ctx context.Context, year int, book string) (int64, error) {
	var last int64
	for _, e := range s.work {
		if e.BookDate.Year() == year && strings.EqualFold(e.Book, book) && e.DocumentNumber > last {
			last = e.DocumentNumber
		}
	}
	return last, nil
}

func (s *fakeSession) Flush(ctx context.Context) error { return nil }

func (s *fakeSession) Commit(ctx context.Context) error {
	s.committed = true
	s.store.rows = s.work
	return nil
}

func (s *fakeSession) Rollback(ctx context.Context) error {
	s.rolledBack = true
	return nil
}

// fakeLedger counts post calls across all of its handles so tests can
// fail the k-th one.
type fakeLedger struct {
	handles      []*fakeHandle
	postCalls    int
	failOnCall   int
	commitCalls  int
	failCommitOn int
	lastDoc      map[string]int64
	lastAcct     map[string]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{lastDoc: map[string]int64{}, lastAcct: map[string]int64{}}
}

func (f *fakeLedger) Open(ctx context.Context, year int, docType ledger.DocumentType) (ledger.Handle, error) {
	h := &fakeHandle{owner: f, year: year, docType: docType}
	f.handles = append(f.handles, h)
	return h, nil
}

type fakeHandle struct {
	owner      *fakeLedger
	year       int
	docType    ledger.DocumentType
	begun      bool
	committed  bool
	rolledBack bool
	closed     bool
	ops        []string
}

func (h *fakeHandle) post(op string) error {
	h.owner.postCalls++
	if h.owner.failOnCall != 0 && h.owner.postCalls == h.owner.failOnCall {
		return &ledger.Error{Op: op, Status: ledger.Status(13)}
	}
	h.ops = append(h.ops, op)
	return nil
}

func (h *fakeHandle) BeginTransaction(ctx context.Context) error {
	h.begun = true
	return nil
}

func (h *fakeHandle) CommitTransaction(ctx context.Context) error {
	h.owner.commitCalls++
	if h.owner.failCommitOn != 0 && h.owner.commitCalls == h.owner.failCommitOn {
		return &ledger.Error{Op: "commit-transaction", Status: ledger.Status(13)}
	}
	h.committed = true
	return nil
}

func (h *fakeHandle) RollbackTransaction(ctx context.Context) error {
	h.rolledBack = true
	return nil
}

func (h *fakeHandle) PostSalesDocument(ctx context.Context, doc ledger.Document) error {
	return h.post(fmt.Sprintf("sales:%d", doc.Number))
}

func (h *fakeHandle) PostPurchaseDocument(ctx context.Context, doc ledger.Document) error {
	return h.post(fmt.Sprintf("purchase:%d", doc.Number))
}

func (h *fakeHandle) PostUpdate(ctx context.Context, ref ledger.DocumentRef, lines []ledger.DocumentLine) error {
	return h.post(fmt.Sprintf("update:%d", ref.Number))
}

func (h *fakeHandle) PostRemove(ctx context.Context, ref ledger.DocumentRef) error {
	return h.post(fmt.Sprintf("remove:%d", ref.Number))
}

func (h *fakeHandle) CreateAccount(ctx context.Context, spec ledger.AccountSpec) error {
	if err := h.post(fmt.Sprintf("account:%d", spec.Number)); err != nil {
		return err
	}
	key := fmt.Sprintf("%d", spec.Number)
	h.owner.lastAcct[key] = spec.Number
	return nil
}

func (h *fakeHandle) CreateSupplier(ctx context.Context, spec ledger.SupplierSpec) error {
	return h.post(fmt.Sprintf("supplier:%d", spec.Number))
}

func (h *fakeHandle) CreateCustomer(ctx context.Context, spec ledger.CustomerSpec) error {
	return h.post(fmt.Sprintf("customer:%d", spec.Number))
}

func (h *fakeHandle) LastDocumentNumber(ctx context.Context, year int, book string) (int64, error) {
	return h.owner.lastDoc[fmt.Sprintf("%d:%s", year, strings.ToLower(book))], nil
}

func (h *fakeHandle) LastAccountNumber(ctx context.Context, from, thru int64) (int64, error) {
	return h.owner.lastAcct[fmt.Sprintf("%d-%d", from, thru)], nil
}

func (h *fakeHandle) Close(ctx context.Context) error {
	h.closed = true
	return nil
}

func testConfig(fl *fakeLedger) Config {
	return Config{
		Registry:              numbering.NewMemoryRegistry(),
		Lock:                  numbering.NewMemoryLock(),
		Ledger:                fl,
		Rules:                 booking.Rules{AmountEpsilon: 0.005},
		SupplierAccountOffset: 700000,
		CustomerAccountOffset: 100000,
	}
}

func marchDate() time.Time {
	return time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
}

func salesDoc(book string) *booking.CreateSalesDocument {
	return &booking.CreateSalesDocument{Document: booking.Document{
		BookDate:     marchDate(),
		DocumentDate: marchDate(),
		Book:         book,
		BookType:     booking.BookTypeSales,
		Total:        121.00,
		Lines: []booking.Line{
			{Account: "8000", Remark: "premie", Amount: 100.00, Quantity: 1},
			{Account: "1800", Remark: "btw", Amount: 21.00, Quantity: 1},
		},
	}}
}

func TestBeginTwiceFails(t *testing.T) {
	store := &fakeStore{}
	c := New(testConfig(newFakeLedger()))
	require.NoError(t, c.Begin(context.Background(), store.session()))
	require.ErrorIs(t, c.Begin(context.Background(), store.session()), ErrAlreadyActive)
}

func TestProtocolMisuse(t *testing.T) {
	c := New(testConfig(newFakeLedger()))
	_, err := c.RegisterRequest(context.Background(), salesDoc("vk"))
	require.ErrorIs(t, err, ErrNotActive)
	require.ErrorIs(t, c.Commit(context.Background()), ErrNotActive)
	require.ErrorIs(t, c.Rollback(context.Background()), ErrNotActive)
}

func TestRegisterAssignsNumbersAndWritesJournal(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	fl.lastDoc["2026:vk"] = 41
	c := New(testConfig(fl))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	doc := salesDoc("VK")
	queued, err := c.RegisterRequest(ctx, doc)
	require.NoError(t, err)
	require.True(t, queued)

	require.NotNil(t, doc.Number)
	require.Equal(t, int64(42), *doc.Number)
	require.Equal(t, int64(1), *doc.Lines[0].Number)
	require.Equal(t, int64(2), *doc.Lines[1].Number)

	rows, err := sess.SelectEntriesForUpdate(ctx, journal.DocumentKey{BookDate: marchDate(), Book: "vk", Number: 42})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.False(t, sess.committed)
}

func TestSeedTakesMaximumOfJournalAndLedger(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{rows: []journal.Entry{{
		BookDate: marchDate(), Book: "vk", DocumentNumber: 57, LineNumber: 1, Account: "8000",
	}}}
	fl := newFakeLedger()
	fl.lastDoc["2026:vk"] = 41
	c := New(testConfig(fl))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	doc := salesDoc("vk")
	_, err := c.RegisterRequest(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, int64(58), *doc.Number)
}

func TestValidationFailureHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	c := New(testConfig(newFakeLedger()))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	doc := salesDoc("vk")
	doc.Total = 999.99
	_, err := c.RegisterRequest(ctx, doc)
	var verr *booking.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Nil(t, doc.Number)
	require.Empty(t, sess.work)
}

func TestCommitReplaysInOrderThenCommitsBothSides(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	first := salesDoc("vk")
	second := salesDoc("vk")
	_, err := c.RegisterRequest(ctx, first)
	require.NoError(t, err)
	_, err = c.RegisterRequest(ctx, second)
	require.NoError(t, err)

	require.NoError(t, c.Commit(ctx))

	require.True(t, sess.committed)
	require.Len(t, store.rows, 4)
	require.Len(t, fl.handles, 1)
	h := fl.handles[0]
	require.True(t, h.begun)
	require.True(t, h.committed)
	require.False(t, h.rolledBack)
	require.True(t, h.closed)
	require.Equal(t, []string{
		fmt.Sprintf("sales:%d", *first.Number),
		fmt.Sprintf("sales:%d", *second.Number),
	}, h.ops)
}

func TestCommitFailureRollsBackEveryHandle(t *testing.T) {
	for k := 1; k <= 3; k++ {
		t.Run(fmt.Sprintf("fail call %d", k), func(t *testing.T) {
			ctx := context.Background()
			store := &fakeStore{}
			fl := newFakeLedger()
			fl.failOnCall = k
			c := New(testConfig(fl))
			sess := store.session()
			require.NoError(t, c.Begin(ctx, sess))

			for i := 0; i < 3; i++ {
				_, err := c.RegisterRequest(ctx, salesDoc("vk"))
				require.NoError(t, err)
			}

			err := c.Commit(ctx)
			var lerr *ledger.Error
			require.ErrorAs(t, err, &lerr)

			for _, h := range fl.handles {
				require.False(t, h.committed)
				require.True(t, h.rolledBack)
			}
			require.False(t, sess.committed)
			require.Empty(t, store.rows)

			// The protocol allows falling back to rollback.
			require.NoError(t, c.Rollback(ctx))
			require.True(t, sess.rolledBack)
		})
	}
}

func TestEmptyCommitJustCommitsSession(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))
	require.NoError(t, c.Commit(ctx))
	require.True(t, sess.committed)
	require.Zero(t, fl.postCalls)
}

func TestRollbackClearsNumbersButKeepsCursor(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	cfg := testConfig(fl)
	c := New(cfg)

	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))
	first := salesDoc("vk")
	_, err := c.RegisterRequest(ctx, first)
	require.NoError(t, err)
	got := *first.Number
	require.NoError(t, c.Rollback(ctx))

	require.True(t, sess.rolledBack)
	require.Nil(t, first.Number)
	require.Nil(t, first.Lines[0].Number)

	// The consumed number stays consumed; the next one is strictly
	// greater.
	sess = store.session()
	require.NoError(t, c.Begin(ctx, sess))
	second := salesDoc("vk")
	_, err = c.RegisterRequest(ctx, second)
	require.NoError(t, err)
	require.Greater(t, *second.Number, got)
}

func TestMultiYearConflict(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	c := New(testConfig(newFakeLedger()))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	_, err := c.RegisterRequest(ctx, salesDoc("vk"))
	require.NoError(t, err)

	other := salesDoc("vk")
	other.BookDate = time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC)
	other.DocumentDate = other.BookDate
	_, err = c.RegisterRequest(ctx, other)
	var conflict *MultiYearConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, 2026, conflict.Have)
	require.Equal(t, 2027, conflict.Got)

	// The conflicting request's journal rows are written before the
	// year check fires; only the caller's rollback removes them.
	require.NoError(t, c.Rollback(ctx))
	require.Empty(t, store.rows)
}

func TestInternalBookSkipsLedger(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	doc := salesDoc("intern")
	doc.BookType = booking.BookTypeInternal
	queued, err := c.RegisterRequest(ctx, doc)
	require.NoError(t, err)
	require.False(t, queued)
	require.NotNil(t, doc.Number)

	require.NoError(t, c.Commit(ctx))
	require.Zero(t, fl.postCalls)
	require.Len(t, store.rows, 2)
}

func postedDocument(t *testing.T, store *fakeStore, fl *fakeLedger, c *Coordinator) *booking.CreateSalesDocument {
	t.Helper()
	ctx := context.Background()
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))
	doc := salesDoc("vk")
	_, err := c.RegisterRequest(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx))
	return doc
}

func TestUpdateDocument(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	doc := postedDocument(t, store, fl, c)

	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))
	lineNo := int64(1)
	upd := &booking.UpdateDocument{Document: booking.Document{
		BookDate: marchDate(),
		Book:     "vk",
		BookType: booking.BookTypeSales,
		Number:   doc.Number,
		Lines:    []booking.Line{{Account: "8100", Number: &lineNo}},
	}}
	queued, err := c.RegisterRequest(ctx, upd)
	require.NoError(t, err)
	require.True(t, queued)
	require.NoError(t, c.Commit(ctx))

	require.Equal(t, "8100", store.rows[0].Account)
	last := fl.handles[len(fl.handles)-1]
	require.Contains(t, last.ops, fmt.Sprintf("update:%d", *doc.Number))
}

func TestRemoveDocument(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	doc := postedDocument(t, store, fl, c)

	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))
	rm := &booking.RemoveDocument{Document: booking.Document{
		BookDate: marchDate(),
		Book:     "vk",
		BookType: booking.BookTypeSales,
		Number:   doc.Number,
	}}
	queued, err := c.RegisterRequest(ctx, rm)
	require.NoError(t, err)
	require.True(t, queued)
	require.NoError(t, c.Commit(ctx))
	require.Empty(t, store.rows)
}

func TestFreezeBlocksUpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	doc := postedDocument(t, store, fl, c)

	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))
	fr := &booking.FreezeDocument{Document: booking.Document{
		BookDate: marchDate(),
		Book:     "vk",
		BookType: booking.BookTypeSales,
		Number:   doc.Number,
	}}
	queued, err := c.RegisterRequest(ctx, fr)
	require.NoError(t, err)
	require.False(t, queued, "freeze is local-only")
	require.NoError(t, c.Commit(ctx))
	require.True(t, store.rows[0].Frozen)

	sess = store.session()
	require.NoError(t, c.Begin(ctx, sess))
	rm := &booking.RemoveDocument{Document: booking.Document{
		BookDate: marchDate(),
		Book:     "vk",
		BookType: booking.BookTypeSales,
		Number:   doc.Number,
	}}
	_, err = c.RegisterRequest(ctx, rm)
	var frozen *FrozenDocumentError
	require.ErrorAs(t, err, &frozen)
	require.NoError(t, c.Rollback(ctx))
	require.Len(t, store.rows, 2, "nothing deleted")
}

func TestCreateAccountEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	acc := &booking.CreateAccount{Account: booking.Account{Name: "tussenrekening", From: 500, Thru: 500, Step: 1}}
	queued, err := c.RegisterRequest(ctx, acc)
	require.NoError(t, err)
	require.True(t, queued)
	require.Equal(t, int64(500), *acc.Number)
	require.NoError(t, c.Commit(ctx))

	h := fl.handles[0]
	require.Contains(t, h.ops, "account:500")

	// The range is a single number; a second allocation exhausts it.
	sess = store.session()
	require.NoError(t, c.Begin(ctx, sess))
	again := &booking.CreateAccount{Account: booking.Account{Name: "tussenrekening bis", From: 500, Thru: 500, Step: 1}}
	_, err = c.RegisterRequest(ctx, again)
	var exhausted *numbering.RangeExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, int64(500), exhausted.Ceiling)
}

func TestSupplierAndCustomerOffsets(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	person := int64(12)
	sup := &booking.CreateSupplierAccount{
		Account:  booking.Account{Name: "leverancier", From: 100, Thru: 199, Step: 1},
		PersonID: &person,
	}
	_, err := c.RegisterRequest(ctx, sup)
	require.NoError(t, err)
	require.Equal(t, int64(700100), *sup.Number)

	cust := &booking.CreateCustomerAccount{
		Account: booking.Account{Name: "verzekerde", From: 200, Thru: 299, Step: 1},
		Parties: []booking.Party{{PersonID: &person}},
	}
	_, err = c.RegisterRequest(ctx, cust)
	require.NoError(t, err)
	require.Equal(t, int64(100200), *cust.Number)

	require.NoError(t, c.Commit(ctx))
}

type staticResolver struct {
	number int64
}

func (r staticResolver) Resolve(ctx context.Context, req booking.Request) (int64, bool, error) {
	return r.number, true, nil
}

func TestExistingAccountResolvesWithoutPosting(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	cfg := testConfig(fl)
	cfg.Resolver = staticResolver{number: 100455}
	c := New(cfg)
	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	person := int64(9)
	cust := &booking.CreateCustomerAccount{
		Account: booking.Account{Name: "verzekerde", From: 400, Thru: 499, Step: 1},
		Parties: []booking.Party{{PersonID: &person}},
	}
	queued, err := c.RegisterRequest(ctx, cust)
	require.NoError(t, err)
	require.False(t, queued)
	require.Equal(t, int64(100455), *cust.Number)

	require.NoError(t, c.Commit(ctx))
	require.Zero(t, fl.postCalls)
}

func TestRunScopedSemantics(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))

	sess := store.session()
	require.NoError(t, c.Run(ctx, sess, func(ctx context.Context) error {
		_, err := c.RegisterRequest(ctx, salesDoc("vk"))
		return err
	}))
	require.True(t, sess.committed)
	require.Len(t, store.rows, 2)

	boom := fmt.Errorf("upstream says no")
	sess = store.session()
	err := c.Run(ctx, sess, func(ctx context.Context) error {
		if _, err := c.RegisterRequest(ctx, salesDoc("vk")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.True(t, sess.rolledBack)
	require.Len(t, store.rows, 2)
}

func TestLedgerCommitFailureRollsBackOpenHandle(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	fl.failCommitOn = 1
	c := New(testConfig(fl))

	sess := store.session()
	err := c.Run(ctx, sess, func(ctx context.Context) error {
		_, err := c.RegisterRequest(ctx, salesDoc("vk"))
		return err
	})
	var lerr *ledger.Error
	require.ErrorAs(t, err, &lerr)

	// The handle's transaction must be closed out before Run tears the
	// handle down.
	require.Len(t, fl.handles, 1)
	h := fl.handles[0]
	require.True(t, h.begun)
	require.False(t, h.committed)
	require.True(t, h.rolledBack)
	require.True(t, h.closed)

	require.False(t, sess.committed)
	require.True(t, sess.rolledBack)
	require.Empty(t, store.rows)
}

func TestLedgerCommitFailureKeepsEarlierHandlesCommitted(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	fl.failCommitOn = 2
	c := New(testConfig(fl))
	c.WithNow(marchDate)

	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))
	_, err := c.RegisterRequest(ctx, salesDoc("vk"))
	require.NoError(t, err)
	acc := &booking.CreateAccount{Account: booking.Account{Name: "tussenrekening", From: 500, Thru: 500, Step: 1}}
	_, err = c.RegisterRequest(ctx, acc)
	require.NoError(t, err)

	err = c.Commit(ctx)
	var lerr *ledger.Error
	require.ErrorAs(t, err, &lerr)

	require.Len(t, fl.handles, 2)
	// First handle committed before the failure and stays committed;
	// the failing one is rolled back.
	require.True(t, fl.handles[0].committed)
	require.False(t, fl.handles[0].rolledBack)
	require.False(t, fl.handles[1].committed)
	require.True(t, fl.handles[1].rolledBack)

	require.NoError(t, c.Rollback(ctx))
	require.True(t, sess.rolledBack)
}

func TestAccountRequestBindsBookYear(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	c := New(testConfig(fl))
	c.WithNow(marchDate)

	sess := store.session()
	require.NoError(t, c.Begin(ctx, sess))

	acc := &booking.CreateAccount{Account: booking.Account{Name: "tussenrekening", From: 500, Thru: 500, Step: 1}}
	_, err := c.RegisterRequest(ctx, acc)
	require.NoError(t, err)

	other := salesDoc("vk")
	other.BookDate = time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC)
	other.DocumentDate = other.BookDate
	_, err = c.RegisterRequest(ctx, other)
	var conflict *MultiYearConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, 2026, conflict.Have)
	require.Equal(t, 2027, conflict.Got)
}

func TestRunFallsBackToRollbackWhenCommitFails(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	fl := newFakeLedger()
	fl.failOnCall = 1
	c := New(testConfig(fl))

	sess := store.session()
	err := c.Run(ctx, sess, func(ctx context.Context) error {
		_, err := c.RegisterRequest(ctx, salesDoc("vk"))
		return err
	})
	var lerr *ledger.Error
	require.ErrorAs(t, err, &lerr)
	require.True(t, sess.rolledBack)
	require.False(t, sess.committed)
	require.Empty(t, store.rows)
}
