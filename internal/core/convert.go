package core

// convert.go turns raw spreadsheet cells into staging values.
//
// Cells arrive with the usual spreadsheet debris: Excel formula prefixes,
// stray quotes, thousands separators, decomposed accents. Sentinel tokens
// ("N/A", "x") mean "intentionally blank" and become NULL, as do numeric
// cells that do not parse.

import (
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// nullTokens are cell values stored as NULL (compared case-insensitively).
var nullTokens = map[string]bool{
	"":     true,
	"n/a":  true,
	"na":   true,
	"x":    true,
	"null": true,
	"none": true,
}

// CleanCell removes common spreadsheet artifacts from a cell value:
//   - Excel formula prefix (="...")
//   - surrounding quotes
//   - control characters (replaced by spaces), which also guarantees the
//     change-id delimiter never appears inside a stored value
//   - non-NFC Unicode forms
//
// and trims surrounding whitespace.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		s = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return ' '
			}
			return r
		}, s)
	}

	return strings.TrimSpace(norm.NFC.String(s))
}

// IsNullToken reports whether a cleaned cell means "no value".
func IsNullToken(s string) bool {
	return nullTokens[strings.ToLower(s)]
}

// ToPgText converts a raw cell to pgtype.Text.
// Blank and sentinel cells are invalid (NULL).
func ToPgText(s string) pgtype.Text {
	s = CleanCell(s)
	if IsNullToken(s) {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToNumericText converts a raw cell to the canonical text of a decimal.
// Thousands separators and a leading currency symbol are tolerated;
// anything else that does not parse is NULL rather than an error.
func ToNumericText(s string) pgtype.Text {
	s = CleanCell(s)
	if IsNullToken(s) {
		return pgtype.Text{}
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: d.String(), Valid: true}
}

// ToPgNumeric converts canonical decimal text to pgtype.Numeric.
// Invalid input yields an invalid (NULL) numeric.
func ToPgNumeric(t pgtype.Text) pgtype.Numeric {
	if !t.Valid {
		return pgtype.Numeric{}
	}
	var n pgtype.Numeric
	if err := n.Scan(t.String); err != nil {
		return pgtype.Numeric{}
	}
	return n
}

// ConvertCell applies the column's type to a raw cell.
func ConvertCell(raw string, typ FieldType) pgtype.Text {
	if typ == FieldNumeric {
		return ToNumericText(raw)
	}
	return ToPgText(raw)
}

// cellAt returns row[i], or "" when the row is short.
func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// isEmptyRow reports whether every listed position is blank after cleaning.
func isEmptyRow(row []string, positions []int) bool {
	for _, i := range positions {
		if CleanCell(cellAt(row, i)) != "" {
			return false
		}
	}
	return true
}
