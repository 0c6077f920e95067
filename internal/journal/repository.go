package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx-backed journal repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("journal: begin tx: %w", err)
	}
	return &pgxTx{tx: tx}, nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) InsertEntries(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		_, err := t.tx.Exec(ctx, `INSERT INTO journal_entries (book_date, book, document_number, line_number, account, remark, amount, quantity, frozen)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			e.BookDate, e.Book, e.DocumentNumber, e.LineNumber, e.Account, e.Remark, toAmount(e.Amount), toQuantity(e.Quantity), e.Frozen)
		if err != nil {
			if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
				return ErrDuplicateEntry
			}
			return fmt.Errorf("journal: insert entry: %w", err)
		}
	}
	return nil
}

func (t *pgxTx) SelectEntriesForUpdate(ctx context.Context, key DocumentKey) ([]Entry, error) {
	rows, err := t.tx.Query(ctx, `SELECT book_date, book, document_number, line_number, account, remark, amount, quantity, frozen, created_at, updated_at
FROM journal_entries
WHERE book_date=$1 AND lower(book)=lower($2) AND document_number=$3
ORDER BY line_number ASC
FOR UPDATE`, key.BookDate, key.Book, key.Number)
	if err != nil {
		return nil, fmt.Errorf("journal: select for update: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (t *pgxTx) UpdateEntryAccount(ctx context.Context, key EntryKey, account string) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE journal_entries SET account=$5, updated_at=NOW()
WHERE book_date=$1 AND lower(book)=lower($2) AND document_number=$3 AND line_number=$4`,
		key.BookDate, key.Book, key.Number, key.Line, account)
	if err != nil {
		return fmt.Errorf("journal: update entry: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgxTx) DeleteEntries(ctx context.Context, key DocumentKey) ([]Entry, error) {
	rows, err := t.tx.Query(ctx, `DELETE FROM journal_entries
WHERE book_date=$1 AND lower(book)=lower($2) AND document_number=$3
RETURNING book_date, book, document_number, line_number, account, remark, amount, quantity, frozen, created_at, updated_at`,
		key.BookDate, key.Book, key.Number)
	if err != nil {
		return nil, fmt.Errorf("journal: delete entries: %w", err)
	}
	defer rows.Close()
	removed, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, ErrNotFound
	}
	return removed, nil
}

func (t *pgxTx) FreezeEntries(ctx context.Context, key DocumentKey) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE journal_entries SET frozen=TRUE, updated_at=NOW()
WHERE book_date=$1 AND lower(book)=lower($2) AND document_number=$3`,
		key.BookDate, key.Book, key.Number)
	if err != nil {
		return fmt.Errorf("journal: freeze entries: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgxTx) LastDocumentNumber(ctx context.Context, year int, book string) (int64, error) {
	var last int64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(document_number), 0)
FROM journal_entries
WHERE date_part('year', book_date)=$1 AND lower(book)=lower($2)`, year, book).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("journal: last document number: %w", err)
	}
	return last, nil
}

// Flush is a no-op: pgx statements are executed eagerly inside the
// transaction, so later reads in the same session already see them.
func (t *pgxTx) Flush(ctx context.Context) error {
	return nil
}

func (t *pgxTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("journal: commit tx: %w", err)
	}
	return nil
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("journal: rollback tx: %w", err)
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.BookDate, &e.Book, &e.DocumentNumber, &e.LineNumber, &e.Account, &e.Remark, &e.Amount, &e.Quantity, &e.Frozen, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// toAmount and toQuantity serialize at the scale of their columns,
// numeric(14,2) and numeric(14,3). The external ledger receives the
// same values, so truncating here would make the two sides disagree.
func toAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func toQuantity(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
