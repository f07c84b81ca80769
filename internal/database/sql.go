package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/itemstage/internal/core"
)

// Tables names the tables the store reads and writes. Names may be
// schema-qualified ("public.main_data").
type Tables struct {
	Staging     string
	Production  string
	Identifiers string
}

// DefaultTables matches sql/schema/001_items.sql.
var DefaultTables = Tables{
	Staging:     "vendor_items_temp",
	Production:  "main_data",
	Identifiers: "item_identifiers",
}

// quoteTable quotes a possibly schema-qualified table name.
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// quoteLiteral quotes a string constant. Only column-map field names are
// embedded this way; values always travel as parameters.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// textExpr reads a column as text. Numeric columns drop trailing zeros so
// 12.50 and 12.5 compare equal and match the loader's canonical form.
func textExpr(alias string, c core.Column) string {
	col := alias + "." + quoteIdent(c.Field)
	if c.Type == core.FieldNumeric {
		return "trim_scale(" + col + ")::text"
	}
	return col + "::text"
}

// selectList reads every mapped column of alias as text, in column order.
func selectList(alias string, cm core.ColumnMap) string {
	exprs := make([]string, len(cm.Columns))
	for i, c := range cm.Columns {
		exprs[i] = textExpr(alias, c)
	}
	return strings.Join(exprs, ", ")
}

// columnList is the quoted mapped columns, optionally prefixed by alias.
func columnList(alias string, cm core.ColumnMap) string {
	cols := make([]string, len(cm.Columns))
	for i, c := range cm.Columns {
		cols[i] = quoteIdent(c.Field)
		if alias != "" {
			cols[i] = alias + "." + cols[i]
		}
	}
	return strings.Join(cols, ", ")
}

// placeholder is a typed parameter for column c.
func placeholder(n int, c core.Column) string {
	if c.Type == core.FieldNumeric {
		return fmt.Sprintf("$%d::text::numeric", n)
	}
	return fmt.Sprintf("$%d::text", n)
}

// insertStagingSQL builds one multi-row INSERT for rows rows.
func insertStagingSQL(t Tables, cm core.ColumnMap, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteTable(t.Staging), columnList("", cm))

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, c := range cm.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder(n, c))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func truncateStagingSQL(t Tables) string {
	return "TRUNCATE TABLE " + quoteTable(t.Staging)
}

func countStagingSQL(t Tables) string {
	return "SELECT count(*) FROM " + quoteTable(t.Staging)
}

func previewStagingSQL(t Tables, cm core.ColumnMap) string {
	return fmt.Sprintf("SELECT %s FROM %s s ORDER BY s.id DESC LIMIT $1",
		selectList("s", cm), quoteTable(t.Staging))
}

func stagingDuplicateKeysSQL(t Tables, cm core.ColumnMap) string {
	key := quoteIdent(cm.NaturalKey)
	return fmt.Sprintf("SELECT %s FROM %s GROUP BY %s HAVING count(*) > 1 ORDER BY %s LIMIT $1",
		key, quoteTable(t.Staging), key, key)
}

// newRecordsSQL selects staged records whose key is absent from production.
func newRecordsSQL(t Tables, cm core.ColumnMap) string {
	key := quoteIdent(cm.NaturalKey)
	return fmt.Sprintf(
		"SELECT %s FROM %s s WHERE NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = s.%s) ORDER BY s.%s",
		selectList("s", cm), quoteTable(t.Staging), quoteTable(t.Production), key, key, key)
}

// deletedRecordsSQL selects production records whose key is absent from staging.
func deletedRecordsSQL(t Tables, cm core.ColumnMap) string {
	key := quoteIdent(cm.NaturalKey)
	return fmt.Sprintf(
		"SELECT %s FROM %s p WHERE NOT EXISTS (SELECT 1 FROM %s s WHERE s.%s = p.%s) ORDER BY p.%s",
		selectList("p", cm), quoteTable(t.Production), quoteTable(t.Staging), key, key, key)
}

// modifiedFieldsSQL unnests the compare fields of every key present on both
// sides and keeps the pairs that differ. NULL and empty text are equal.
func modifiedFieldsSQL(t Tables, cm core.ColumnMap) string {
	key := quoteIdent(cm.NaturalKey)

	values := make([]string, 0, len(cm.Compare))
	for _, f := range cm.Compare {
		c, _ := cm.Column(f)
		values = append(values, fmt.Sprintf("(%s, %s, %s)", quoteLiteral(f), textExpr("p", c), textExpr("s", c)))
	}

	return fmt.Sprintf(`SELECT s.%s, v.field, v.old_value, v.new_value
FROM %s s
JOIN %s p ON p.%s = s.%s
CROSS JOIN LATERAL (VALUES %s) AS v(field, old_value, new_value)
WHERE COALESCE(v.old_value, '') <> COALESCE(v.new_value, '')
ORDER BY s.%s, v.field`,
		key, quoteTable(t.Staging), quoteTable(t.Production), key, key,
		strings.Join(values, ", "), key)
}

// insertFromStagingSQL copies the latest staged record for $1 into
// production unless production already holds the key.
func insertFromStagingSQL(t Tables, cm core.ColumnMap) string {
	key := quoteIdent(cm.NaturalKey)
	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s FROM %s s
WHERE s.%s = $1 AND NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = $1)
ORDER BY s.id DESC LIMIT 1`,
		quoteTable(t.Production), columnList("", cm),
		columnList("s", cm), quoteTable(t.Staging),
		key, quoteTable(t.Production), key)
}

// updateFieldSQL copies one field of the latest staged record for $1 into
// production. field must already be checked against the compare list.
func updateFieldSQL(t Tables, cm core.ColumnMap, field string) string {
	key := quoteIdent(cm.NaturalKey)
	col := quoteIdent(field)
	return fmt.Sprintf(`UPDATE %s p SET %s = s.%s
FROM (SELECT %s FROM %s WHERE %s = $1 ORDER BY id DESC LIMIT 1) s
WHERE p.%s = $1`,
		quoteTable(t.Production), col, col,
		col, quoteTable(t.Staging), key,
		key)
}

// deleteMissingSQL removes the production record for $1 unless staging
// holds the key.
func deleteMissingSQL(t Tables, cm core.ColumnMap) string {
	key := quoteIdent(cm.NaturalKey)
	return fmt.Sprintf("DELETE FROM %s p WHERE p.%s = $1 AND NOT EXISTS (SELECT 1 FROM %s s WHERE s.%s = $1)",
		quoteTable(t.Production), key, quoteTable(t.Staging), key)
}

func clearIdentifiersSQL(t Tables) string {
	return "DELETE FROM " + quoteTable(t.Identifiers)
}

// refreshIdentifiersSQL explodes every identifier tier of production into
// one index row per all-digit code.
func refreshIdentifiersSQL(t Tables, cm core.ColumnMap) string {
	var values []string
	for _, g := range cm.Identifiers {
		for i, f := range g.Fields {
			c, _ := cm.Column(f)
			values = append(values, fmt.Sprintf("(%s, %s, %d, %s, %t)",
				quoteLiteral(string(g.Kind)), quoteLiteral(f), i+1, textExpr("p", c), f == g.Sellable))
		}
	}

	return fmt.Sprintf(`INSERT INTO %s (item_code, kind, level, level_number, code, is_sellable)
SELECT p.%s, v.kind, v.level, v.level_number, v.code, v.is_sellable
FROM %s p
CROSS JOIN LATERAL (VALUES %s) AS v(kind, level, level_number, code, is_sellable)
WHERE v.code ~ '^[0-9]+$'`,
		quoteTable(t.Identifiers), quoteIdent(cm.NaturalKey),
		quoteTable(t.Production), strings.Join(values, ", "))
}

func listIdentifiersSQL(t Tables) string {
	return fmt.Sprintf(`SELECT item_code, kind, level, level_number, code, is_sellable
FROM %s ORDER BY item_code, kind, level_number LIMIT $1`, quoteTable(t.Identifiers))
}
