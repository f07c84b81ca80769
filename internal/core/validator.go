package core

// validator.go is the whole-sheet gate in front of staging.
//
// Data problems never produce an error; they produce findings. Any finding
// rejects the whole sheet so nothing is partially ingested. Rows whose
// essential columns are all blank are padding and are skipped entirely.

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// Category groups validation findings.
type Category string

const (
	CategoryDuplicateKey                     Category = "duplicateKey"
	CategoryInvalidIdentifierFormat          Category = "invalidIdentifierFormat"
	CategoryDuplicateIdentifierWithinRecord  Category = "duplicateIdentifierWithinRecord"
	CategoryDuplicateIdentifierAcrossRecords Category = "duplicateIdentifierAcrossRecords"
	CategoryMissingRequiredField             Category = "missingRequiredField"
)

var (
	upcRegex  = regexp.MustCompile(`^\d{12}$`)
	gtinRegex = regexp.MustCompile(`^\d{14,}$`)
)

// Finding is one validation problem.
type Finding struct {
	Category Category `json:"category"`
	Row      int      `json:"row"`
	Column   string   `json:"column,omitempty"`
	Value    string   `json:"value"`
	Message  string   `json:"message"`
}

// ValidationReport groups findings by category.
type ValidationReport struct {
	Valid                             bool      `json:"valid"`
	TotalRows                         int       `json:"totalRows"`
	DuplicateKeys                     []Finding `json:"duplicateItems"`
	DuplicateIdentifiersWithinRecord  []Finding `json:"duplicateIdentifiersWithinRecord"`
	InvalidIdentifierFormat           []Finding `json:"invalidIdentifierFormat"`
	DuplicateIdentifiersAcrossRecords []Finding `json:"duplicateIdentifiersAcrossRecords"`
	MissingRequired                   []Finding `json:"missingRequired"`
}

func newValidationReport() *ValidationReport {
	return &ValidationReport{
		DuplicateKeys:                     []Finding{},
		DuplicateIdentifiersWithinRecord:  []Finding{},
		InvalidIdentifierFormat:           []Finding{},
		DuplicateIdentifiersAcrossRecords: []Finding{},
		MissingRequired:                   []Finding{},
	}
}

// FindingCount returns the number of findings across all categories.
func (r *ValidationReport) FindingCount() int {
	return len(r.DuplicateKeys) +
		len(r.DuplicateIdentifiersWithinRecord) +
		len(r.InvalidIdentifierFormat) +
		len(r.DuplicateIdentifiersAcrossRecords) +
		len(r.MissingRequired)
}

// Findings returns every finding, category by category.
func (r *ValidationReport) Findings() []Finding {
	out := make([]Finding, 0, r.FindingCount())
	out = append(out, r.DuplicateKeys...)
	out = append(out, r.DuplicateIdentifiersWithinRecord...)
	out = append(out, r.InvalidIdentifierFormat...)
	out = append(out, r.DuplicateIdentifiersAcrossRecords...)
	out = append(out, r.MissingRequired...)
	return out
}

func (r *ValidationReport) add(f Finding) {
	switch f.Category {
	case CategoryDuplicateKey:
		r.DuplicateKeys = append(r.DuplicateKeys, f)
	case CategoryInvalidIdentifierFormat:
		r.InvalidIdentifierFormat = append(r.InvalidIdentifierFormat, f)
	case CategoryDuplicateIdentifierWithinRecord:
		r.DuplicateIdentifiersWithinRecord = append(r.DuplicateIdentifiersWithinRecord, f)
	case CategoryDuplicateIdentifierAcrossRecords:
		r.DuplicateIdentifiersAcrossRecords = append(r.DuplicateIdentifiersAcrossRecords, f)
	case CategoryMissingRequiredField:
		r.MissingRequired = append(r.MissingRequired, f)
	}
}

// codeOwner is the first record seen with an identifier code.
type codeOwner struct {
	key string
	row int
}

// Validate checks every non-padding row of the sheet against the map.
// The returned error is reserved for an unusable column map; data problems
// are reported as findings and leave Valid false.
func Validate(sheet Sheet, cm ColumnMap) (*ValidationReport, error) {
	if err := cm.Validate(); err != nil {
		return nil, err
	}

	report := newValidationReport()
	essential := cm.positions(cm.Essential)
	keyCol := cm.KeyColumn()

	firstByKey := make(map[string]int)
	owners := make(map[string]codeOwner)

	for i, row := range sheet.Rows {
		if isEmptyRow(row, essential) {
			continue
		}
		report.TotalRows++
		rowNum := sheet.FirstRow + i
		key := CleanCell(cellAt(row, keyCol.Index))

		for _, c := range cm.Columns {
			if c.Required && IsNullToken(CleanCell(cellAt(row, c.Index))) {
				report.add(Finding{
					Category: CategoryMissingRequiredField,
					Row:      rowNum,
					Column:   headerName(c),
					Value:    CleanCell(cellAt(row, c.Index)),
					Message:  fmt.Sprintf("%s is required", headerName(c)),
				})
			}
		}

		if !IsNullToken(key) {
			if first, seen := firstByKey[key]; seen {
				report.add(Finding{
					Category: CategoryDuplicateKey,
					Row:      rowNum,
					Column:   headerName(keyCol),
					Value:    key,
					Message:  fmt.Sprintf("duplicate %s %q, first seen on row %d", headerName(keyCol), key, first),
				})
			} else {
				firstByKey[key] = rowNum
			}
		}

		// Within-record tiers are tracked per row; a repeated key is already
		// a duplicateKey finding and must not double as a tier clash.
		tiers := make(map[string]string)
		reported := make(map[string]bool)

		for _, g := range cm.Identifiers {
			for _, field := range g.Fields {
				c, _ := cm.Column(field)
				code := CleanCell(cellAt(row, c.Index))
				if isSentinel(code, g.Sentinels) {
					continue
				}

				if !identifierFormatOK(g.Kind, code) {
					report.add(Finding{
						Category: CategoryInvalidIdentifierFormat,
						Row:      rowNum,
						Column:   headerName(c),
						Value:    code,
						Message:  formatMessage(g, code),
					})
					continue
				}

				codeKey := string(g.Kind) + ":" + code

				if firstTier, dup := tiers[codeKey]; dup {
					if !reported["within:"+codeKey] {
						reported["within:"+codeKey] = true
						report.add(Finding{
							Category: CategoryDuplicateIdentifierWithinRecord,
							Row:      rowNum,
							Column:   headerName(c),
							Value:    code,
							Message:  fmt.Sprintf("%s %s repeats %s on the same item", g.Name, code, firstTier),
						})
					}
					continue
				}
				tiers[codeKey] = headerName(c)

				owner, seen := owners[codeKey]
				if !seen {
					owners[codeKey] = codeOwner{key: key, row: rowNum}
					continue
				}
				// A repeated key carrying its own code is only a duplicateKey.
				if owner.key != key && !reported["across:"+codeKey] {
					reported["across:"+codeKey] = true
					report.add(Finding{
						Category: CategoryDuplicateIdentifierAcrossRecords,
						Row:      rowNum,
						Column:   headerName(c),
						Value:    code,
						Message:  fmt.Sprintf("%s %s already used by item %q on row %d", g.Name, code, owner.key, owner.row),
					})
				}
			}
		}
	}

	report.Valid = report.FindingCount() == 0
	return report, nil
}

// BuildStagingRows converts the sheet's non-padding rows into typed rows.
// Call it only after Validate accepted the sheet.
func BuildStagingRows(sheet Sheet, cm ColumnMap) []StagingRow {
	essential := cm.positions(cm.Essential)
	keyCol := cm.KeyColumn()

	rows := make([]StagingRow, 0, len(sheet.Rows))
	for i, raw := range sheet.Rows {
		if isEmptyRow(raw, essential) {
			continue
		}
		values := make([]pgtype.Text, len(cm.Columns))
		for j, c := range cm.Columns {
			values[j] = ConvertCell(cellAt(raw, c.Index), c.Type)
		}
		rows = append(rows, StagingRow{
			RowNumber: sheet.FirstRow + i,
			Key:       CleanCell(cellAt(raw, keyCol.Index)),
			Values:    values,
		})
	}
	return rows
}

func isSentinel(code string, sentinels []string) bool {
	for _, s := range sentinels {
		if strings.EqualFold(code, s) {
			return true
		}
	}
	return false
}

func identifierFormatOK(kind IdentifierKind, code string) bool {
	switch kind {
	case KindUPC:
		return upcRegex.MatchString(code)
	case KindGTIN:
		return gtinRegex.MatchString(code)
	default:
		return false
	}
}

func formatMessage(g IdentifierGroup, code string) string {
	n := utf8.RuneCountInString(code)
	switch g.Kind {
	case KindUPC:
		return fmt.Sprintf("%s must be exactly 12 digits, got %d characters", g.Name, n)
	default:
		return fmt.Sprintf("%s must be at least 14 digits, got %d characters", g.Name, n)
	}
}

func headerName(c Column) string {
	if c.Header != "" {
		return c.Header
	}
	return c.Field
}
