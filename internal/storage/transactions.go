package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/service"
)

// postingBatchSize keeps IN lists under SQLite's variable limit.
const postingBatchSize = 500

// SaveTransactions stores transactions that are not already present, keyed by
// content hash, and returns how many were new. A transaction with Supersedes
// set replaces the stored row with that hash. A transaction whose hash was
// already superseded is ignored, so re-importing a reconciled statement does
// not bring back the original rows.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateTransactions(transactions); err != nil {
		return 0, err
	}

	var inserted int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := saveTransactionsTx(ctx, tx, transactions)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("Saved transactions",
		"received", len(transactions),
		"inserted", inserted)
	return inserted, nil
}

func saveTransactionsTx(ctx context.Context, tx *sql.Tx, transactions []model.Transaction) (int, error) {
	txnStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (
			id, hash, date, flag, payee, narration, tags, links, meta, schedule_id, source_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = txnStmt.Close() }()

	postingStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO postings (transaction_seq, position, account, amount, currency, meta)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = postingStmt.Close() }()

	inserted := 0
	for i := range transactions {
		txn := &transactions[i]
		hash := txn.Hash
		if hash == "" {
			hash = txn.GenerateHash()
		}

		source, skip, err := sourceHash(ctx, tx, txn.Supersedes, hash)
		if err != nil {
			return inserted, err
		}
		if skip {
			continue
		}

		tags, err := encodeJSON(txn.Tags)
		if err != nil {
			return inserted, err
		}
		links, err := encodeJSON(txn.Links)
		if err != nil {
			return inserted, err
		}
		meta, err := encodeJSON(txn.Meta)
		if err != nil {
			return inserted, err
		}

		var scheduleID sql.NullString
		if id, ok := txn.MetaValue(model.MetaScheduleID); ok && id != "" {
			scheduleID = sql.NullString{String: id, Valid: true}
		}

		res, err := txnStmt.ExecContext(ctx,
			txn.ID, hash, txn.Date.String(), flagOrDefault(txn.Flag),
			txn.Payee, txn.Narration, tags, links, meta, scheduleID, source)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}
		if source.Valid {
			if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE hash = ?`, txn.Supersedes); err != nil {
				return inserted, fmt.Errorf("failed to replace transaction %s: %w", txn.ID, err)
			}
		}
		if affected == 0 {
			continue
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}

		for pos, p := range txn.Postings {
			amount := decimal.NullDecimal{}
			if p.Amount != nil {
				amount = decimal.NewNullDecimal(*p.Amount)
			}
			postingMeta, err := encodeJSON(p.Meta)
			if err != nil {
				return inserted, err
			}
			if _, err := postingStmt.ExecContext(ctx, seq, pos, p.Account, amount, p.Currency, postingMeta); err != nil {
				return inserted, fmt.Errorf("failed to insert posting %d of %s: %w", pos, txn.ID, err)
			}
		}
		inserted++
	}

	return inserted, nil
}

// sourceHash resolves the original import hash recorded for a row. For a
// replacement it follows the superseded row back to its own source. For a
// plain transaction it reports skip when an earlier replacement already
// consumed that hash.
func sourceHash(ctx context.Context, tx *sql.Tx, supersedes, hash string) (sql.NullString, bool, error) {
	if supersedes == "" || supersedes == hash {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM transactions WHERE source_hash = ? LIMIT 1`, hash).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return sql.NullString{}, false, nil
		case err != nil:
			return sql.NullString{}, false, fmt.Errorf("failed to check superseded hash: %w", err)
		}
		return sql.NullString{}, true, nil
	}

	var source string
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(source_hash, hash) FROM transactions WHERE hash = ?`, supersedes).Scan(&source)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		source = supersedes
	case err != nil:
		return sql.NullString{}, false, fmt.Errorf("failed to look up superseded transaction: %w", err)
	}
	return sql.NullString{String: source, Valid: true}, false, nil
}

// GetTransactions returns stored transactions matching filter, ordered by
// date and then insertion order.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidDateRange, filter.EndDate, filter.StartDate)
	}
	return getTransactionsTx(ctx, s.db, filter, "")
}

// GetTransactionsBySchedule returns the stored transactions tagged with a
// schedule ID.
func (s *SQLiteStorage) GetTransactionsBySchedule(ctx context.Context, scheduleID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(scheduleID, "scheduleID"); err != nil {
		return nil, err
	}
	return getTransactionsTx(ctx, s.db, service.TransactionFilter{ScheduleID: scheduleID}, "")
}

// GetTransactionByID returns the earliest stored transaction with the ID.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	txns, err := getTransactionsTx(ctx, s.db, service.TransactionFilter{}, id)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return &txns[0], nil
}

// GetTransactionCount returns the number of stored transactions.
func (s *SQLiteStorage) GetTransactionCount(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

type storedTransaction struct {
	seq int64
	txn model.Transaction
}

func getTransactionsTx(ctx context.Context, q queryable, filter service.TransactionFilter, id string) ([]model.Transaction, error) {
	var where []string
	var args []any

	if filter.StartDate != nil {
		where = append(where, "t.date >= ?")
		args = append(args, filter.StartDate.String())
	}
	if filter.EndDate != nil {
		where = append(where, "t.date <= ?")
		args = append(args, filter.EndDate.String())
	}
	if filter.Flag != "" {
		where = append(where, "t.flag = ?")
		args = append(args, filter.Flag)
	}
	if filter.ScheduleID != "" {
		where = append(where, "t.schedule_id = ?")
		args = append(args, filter.ScheduleID)
	}
	if filter.Account != "" {
		where = append(where, "EXISTS (SELECT 1 FROM postings p WHERE p.transaction_seq = t.seq AND p.account = ?)")
		args = append(args, filter.Account)
	}
	if id != "" {
		where = append(where, "t.id = ?")
		args = append(args, id)
	}

	query := `SELECT t.seq, t.id, t.hash, t.date, t.flag, t.payee, t.narration, t.tags, t.links, t.meta
		FROM transactions t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.date ASC, t.seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	var stored []storedTransaction
	for rows.Next() {
		var st storedTransaction
		var date string
		var tags, links, meta sql.NullString
		if err := rows.Scan(&st.seq, &st.txn.ID, &st.txn.Hash, &date, &st.txn.Flag,
			&st.txn.Payee, &st.txn.Narration, &tags, &links, &meta); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if st.txn.Date, err = civil.ParseDate(date); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: transaction %s has date %q", common.ErrDatabaseCorrupted, st.txn.ID, date)
		}
		if err := decodeJSON(tags, &st.txn.Tags); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := decodeJSON(links, &st.txn.Links); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := decodeJSON(meta, &st.txn.Meta); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stored = append(stored, st)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	_ = rows.Close()

	// The single connection is free again, so postings can be loaded now.
	if err := loadPostings(ctx, q, stored); err != nil {
		return nil, err
	}

	transactions := make([]model.Transaction, len(stored))
	for i := range stored {
		transactions[i] = stored[i].txn
	}
	return transactions, nil
}

func loadPostings(ctx context.Context, q queryable, stored []storedTransaction) error {
	index := make(map[int64]int, len(stored))
	for i := range stored {
		index[stored[i].seq] = i
	}

	for start := 0; start < len(stored); start += postingBatchSize {
		end := min(start+postingBatchSize, len(stored))
		batch := stored[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, st := range batch {
			args[i] = st.seq
		}

		rows, err := q.QueryContext(ctx, `
			SELECT transaction_seq, account, amount, currency, meta
			FROM postings
			WHERE transaction_seq IN (`+placeholders+`)
			ORDER BY transaction_seq, position
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to query postings: %w", err)
		}

		for rows.Next() {
			var seq int64
			var p model.Posting
			var amount decimal.NullDecimal
			var meta sql.NullString
			if err := rows.Scan(&seq, &p.Account, &amount, &p.Currency, &meta); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan posting: %w", err)
			}
			if amount.Valid {
				p.Amount = model.DecimalPtr(amount.Decimal)
			}
			if err := decodeJSON(meta, &p.Meta); err != nil {
				_ = rows.Close()
				return err
			}
			i := index[seq]
			stored[i].txn.Postings = append(stored[i].txn.Postings, p)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to iterate postings: %w", err)
		}
		_ = rows.Close()
	}
	return nil
}

func flagOrDefault(flag string) string {
	if flag == "" {
		return model.FlagCleared
	}
	return flag
}

func encodeJSON[T any](v T) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode column: %w", err)
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON[T any](s sql.NullString, dst *T) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return errors.Join(common.ErrDatabaseCorrupted, fmt.Errorf("failed to decode column: %w", err))
	}
	return nil
}
