package core

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// FieldType is the storage type of a mapped column.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumeric FieldType = "numeric"
)

// Column maps one spreadsheet position to a table field.
type Column struct {
	Index    int       `yaml:"index" json:"index"`
	Field    string    `yaml:"field" json:"field"`
	Header   string    `yaml:"header" json:"header"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required,omitempty"`
}

// IdentifierKind selects the format rule for an identifier group.
type IdentifierKind string

const (
	KindUPC  IdentifierKind = "upc"  // exactly 12 digits
	KindGTIN IdentifierKind = "gtin" // at least 14 digits
)

// IdentifierGroup is a set of packaging-tier columns holding codes of one kind.
// Fields are ordered from the innermost tier outwards.
type IdentifierGroup struct {
	Name      string         `yaml:"name" json:"name"`
	Kind      IdentifierKind `yaml:"kind" json:"kind"`
	Fields    []string       `yaml:"fields" json:"fields"`
	Sellable  string         `yaml:"sellable" json:"sellable,omitempty"`
	Sentinels []string       `yaml:"sentinels" json:"sentinels"`
}

// ColumnMap is a versioned, positional description of an import sheet.
type ColumnMap struct {
	Version     string            `yaml:"version" json:"version"`
	NaturalKey  string            `yaml:"natural_key" json:"naturalKey"`
	Columns     []Column          `yaml:"columns" json:"columns"`
	Essential   []string          `yaml:"essential" json:"essential"`
	Identifiers []IdentifierGroup `yaml:"identifiers" json:"identifiers"`
	Compare     []string          `yaml:"compare" json:"compare"`
}

// Sheet is the extracted content of one import file.
type Sheet struct {
	Header   []string   // column titles; nil when the file has none
	Rows     [][]string // data rows in file order, blank padding included
	FirstRow int        // 1-based spreadsheet row number of Rows[0]
}

// StagingRow is one accepted row, typed by the column map.
// Values is aligned with ColumnMap.Columns; invalid entries are NULL.
type StagingRow struct {
	RowNumber int
	Key       string
	Values    []pgtype.Text
}

// Record is a full row read back from staging or production, keyed by field.
type Record map[string]pgtype.Text

// Progress is pushed after each unit of work.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Percent returns the progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Current * 100 / p.Total
}

// ProgressFunc receives progress events. It runs on the caller's loop and
// must not block.
type ProgressFunc func(Progress)

// LoadOptions tunes a staging load.
type LoadOptions struct {
	BatchSize   int
	ClearFirst  bool
	PreviewSize int
}

// BatchError records one failed staging batch.
type BatchError struct {
	Batch string `json:"batch"`
	Error string `json:"error"`
}

// LoadResult summarizes a staging load.
type LoadResult struct {
	Success        bool         `json:"success"`
	TotalRows      int          `json:"totalRows"`
	SuccessfulRows int          `json:"successfulRows"`
	FailedRows     int          `json:"failedRows"`
	Errors         []BatchError `json:"errors"`
	Preview        []Record     `json:"preview"`
}

// ChangeType classifies a diff entry.
type ChangeType string

const (
	ChangeNew      ChangeType = "NEW"
	ChangeModified ChangeType = "MODIFIED"
	ChangeDeleted  ChangeType = "DELETED"
)

// priority orders change types in a diff listing.
func (c ChangeType) priority() int {
	switch c {
	case ChangeNew:
		return 1
	case ChangeModified:
		return 2
	case ChangeDeleted:
		return 3
	default:
		return 4
	}
}

// DiffEntry is one unit of difference between staging and production.
// MODIFIED entries carry Field, OldValue and NewValue; NEW and DELETED
// entries carry the full Record.
type DiffEntry struct {
	ID         string      `json:"id"`
	ChangeType ChangeType  `json:"changeType"`
	Key        string      `json:"key"`
	Field      string      `json:"field,omitempty"`
	OldValue   pgtype.Text `json:"oldValue"`
	NewValue   pgtype.Text `json:"newValue"`
	Record     Record      `json:"record,omitempty"`
}

// FieldChange is a single differing field of a key present on both sides.
type FieldChange struct {
	Key      string
	Field    string
	OldValue pgtype.Text
	NewValue pgtype.Text
}

// ApplyResult summarizes an apply call.
type ApplyResult struct {
	Success      bool   `json:"success"`
	AppliedCount int    `json:"appliedCount"`
	Message      string `json:"message"`
}

// Identifier is one row of the identifier index built from production.
type Identifier struct {
	ItemCode    string         `json:"itemCode"`
	Kind        IdentifierKind `json:"kind"`
	Level       string         `json:"level"`
	LevelNumber int            `json:"levelNumber"`
	Code        string         `json:"code"`
	IsSellable  bool           `json:"isSellable"`
}

// StagingStatus reports what staging currently holds.
type StagingStatus struct {
	RowCount int64 `json:"rowCount"`
	HasData  bool  `json:"hasData"`
}

// Store is the persistence the pipeline runs against.
// Implementations own the staging, production and identifier tables.
type Store interface {
	TruncateStaging(ctx context.Context) error
	InsertStagingBatch(ctx context.Context, cm ColumnMap, rows []StagingRow) (int64, error)
	CountStaging(ctx context.Context) (int64, error)
	PreviewStaging(ctx context.Context, cm ColumnMap, limit int) ([]Record, error)
	StagingDuplicateKeys(ctx context.Context, cm ColumnMap, limit int) ([]string, error)

	NewRecords(ctx context.Context, cm ColumnMap) ([]Record, error)
	DeletedRecords(ctx context.Context, cm ColumnMap) ([]Record, error)
	ModifiedFields(ctx context.Context, cm ColumnMap) ([]FieldChange, error)

	// InTx runs fn in one transaction; any error from fn rolls it back.
	InTx(ctx context.Context, fn func(ChangeWriter) error) error

	RefreshIdentifiers(ctx context.Context, cm ColumnMap) (int64, error)
	ListIdentifiers(ctx context.Context, limit int) ([]Identifier, error)
}

// ChangeWriter applies single changes inside an InTx transaction.
// Each method returns the number of production rows affected.
type ChangeWriter interface {
	InsertFromStaging(ctx context.Context, cm ColumnMap, key string) (int64, error)
	UpdateFieldFromStaging(ctx context.Context, cm ColumnMap, key, field string) (int64, error)
	DeleteMissing(ctx context.Context, cm ColumnMap, key string) (int64, error)
}
