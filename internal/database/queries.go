// Package database is the Postgres implementation of core.Store.
//
// Table and column names come from the column map and the configured
// Tables, and are quoted with pgx.Identifier. Every value is a parameter.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/itemstage/internal/core"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Queries runs the pipeline's SQL against one connection, pool or transaction.
type Queries struct {
	db     DBTX
	tables Tables
}

// New returns Queries over db. Empty table names fall back to DefaultTables.
func New(db DBTX, tables Tables) *Queries {
	if tables.Staging == "" {
		tables.Staging = DefaultTables.Staging
	}
	if tables.Production == "" {
		tables.Production = DefaultTables.Production
	}
	if tables.Identifiers == "" {
		tables.Identifiers = DefaultTables.Identifiers
	}
	return &Queries{db: db, tables: tables}
}

// WithTx returns Queries that run inside tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx, tables: q.tables}
}

func (q *Queries) TruncateStaging(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, truncateStagingSQL(q.tables)); err != nil {
		return fmt.Errorf("truncate staging: %w", err)
	}
	return nil
}

// InsertStagingBatch writes rows with a single multi-row INSERT, so a batch
// lands entirely or not at all.
func (q *Queries) InsertStagingBatch(ctx context.Context, cm core.ColumnMap, rows []core.StagingRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(rows)*len(cm.Columns))
	for _, r := range rows {
		if len(r.Values) != len(cm.Columns) {
			return 0, fmt.Errorf("row %d has %d values, want %d", r.RowNumber, len(r.Values), len(cm.Columns))
		}
		for _, v := range r.Values {
			args = append(args, v)
		}
	}

	tag, err := q.db.Exec(ctx, insertStagingSQL(q.tables, cm, len(rows)), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CountStaging(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countStagingSQL(q.tables)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// PreviewStaging returns the most recently staged records, newest first.
func (q *Queries) PreviewStaging(ctx context.Context, cm core.ColumnMap, limit int) ([]core.Record, error) {
	if limit <= 0 {
		return []core.Record{}, nil
	}
	return q.records(ctx, cm, previewStagingSQL(q.tables, cm), limit)
}

func (q *Queries) StagingDuplicateKeys(ctx context.Context, cm core.ColumnMap, limit int) ([]string, error) {
	rows, err := q.db.Query(ctx, stagingDuplicateKeysSQL(q.tables, cm), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (q *Queries) NewRecords(ctx context.Context, cm core.ColumnMap) ([]core.Record, error) {
	return q.records(ctx, cm, newRecordsSQL(q.tables, cm))
}

func (q *Queries) DeletedRecords(ctx context.Context, cm core.ColumnMap) ([]core.Record, error) {
	return q.records(ctx, cm, deletedRecordsSQL(q.tables, cm))
}

func (q *Queries) ModifiedFields(ctx context.Context, cm core.ColumnMap) ([]core.FieldChange, error) {
	if len(cm.Compare) == 0 {
		return []core.FieldChange{}, nil
	}

	rows, err := q.db.Query(ctx, modifiedFieldsSQL(q.tables, cm))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.FieldChange, error) {
		var fc core.FieldChange
		err := row.Scan(&fc.Key, &fc.Field, &fc.OldValue, &fc.NewValue)
		return fc, err
	})
}

// records runs query and scans each row into a Record keyed by field.
func (q *Queries) records(ctx context.Context, cm core.ColumnMap, query string, args ...any) ([]core.Record, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Record{}
	values := make([]pgtype.Text, len(cm.Columns))
	dest := make([]any, len(cm.Columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec := make(core.Record, len(cm.Columns))
		for i, c := range cm.Columns {
			rec[c.Field] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// InTx runs fn in a transaction and commits when fn returns nil.
func (q *Queries) InTx(ctx context.Context, fn func(core.ChangeWriter) error) error {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if err := fn(q.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (q *Queries) InsertFromStaging(ctx context.Context, cm core.ColumnMap, key string) (int64, error) {
	return q.exec(ctx, insertFromStagingSQL(q.tables, cm), key)
}

// UpdateFieldFromStaging copies field from staging. The caller has checked
// field against the compare list; it is checked again before reaching SQL.
func (q *Queries) UpdateFieldFromStaging(ctx context.Context, cm core.ColumnMap, key, field string) (int64, error) {
	if !cm.Comparable(field) {
		return 0, fmt.Errorf("%w: %q", core.ErrFieldNotComparable, field)
	}
	return q.exec(ctx, updateFieldSQL(q.tables, cm, field), key)
}

func (q *Queries) DeleteMissing(ctx context.Context, cm core.ColumnMap, key string) (int64, error) {
	return q.exec(ctx, deleteMissingSQL(q.tables, cm), key)
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := q.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RefreshIdentifiers rebuilds the identifier index from production in one
// transaction. Readers see the old index until it commits.
func (q *Queries) RefreshIdentifiers(ctx context.Context, cm core.ColumnMap) (int64, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, clearIdentifiersSQL(q.tables)); err != nil {
		return 0, fmt.Errorf("clear identifiers: %w", err)
	}

	var n int64
	if len(cm.Identifiers) > 0 {
		tag, err := tx.Exec(ctx, refreshIdentifiersSQL(q.tables, cm))
		if err != nil {
			return 0, fmt.Errorf("insert identifiers: %w", err)
		}
		n = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (q *Queries) ListIdentifiers(ctx context.Context, limit int) ([]core.Identifier, error) {
	rows, err := q.db.Query(ctx, listIdentifiersSQL(q.tables), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Identifier, error) {
		var id core.Identifier
		var kind string
		err := row.Scan(&id.ItemCode, &kind, &id.Level, &id.LevelNumber, &id.Code, &id.IsSellable)
		id.Kind = core.IdentifierKind(kind)
		return id, err
	})
}

var (
	_ core.Store        = (*Queries)(nil)
	_ core.ChangeWriter = (*Queries)(nil)
)
