package core

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
)

// fieldNameRegex restricts field names to plain lower-case SQL identifiers.
var fieldNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// LoadColumnMapFile reads a YAML column map and validates it.
func LoadColumnMapFile(path string) (ColumnMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ColumnMap{}, fmt.Errorf("read column map: %w", err)
	}
	return ParseColumnMap(data)
}

// ParseColumnMap decodes a YAML column map and validates it.
func ParseColumnMap(data []byte) (ColumnMap, error) {
	var cm ColumnMap
	if err := yaml.Unmarshal(data, &cm); err != nil {
		return ColumnMap{}, fmt.Errorf("parse column map: %w", err)
	}
	for i := range cm.Columns {
		if cm.Columns[i].Type == "" {
			cm.Columns[i].Type = FieldText
		}
	}
	if err := cm.Validate(); err != nil {
		return ColumnMap{}, err
	}
	return cm, nil
}

// Validate checks the map is internally consistent. Field names end up as
// SQL identifiers, so they are held to a strict pattern as well as being
// quoted wherever they are used.
func (cm ColumnMap) Validate() error {
	var errs []string

	if cm.Version == "" {
		errs = append(errs, "version is required")
	}
	if len(cm.Columns) == 0 {
		errs = append(errs, "at least one column is required")
	}

	fields := make(map[string]bool, len(cm.Columns))
	indices := make(map[int]string, len(cm.Columns))
	for _, c := range cm.Columns {
		if !fieldNameRegex.MatchString(c.Field) {
			errs = append(errs, fmt.Sprintf("field %q is not a valid name", c.Field))
		}
		if fields[c.Field] {
			errs = append(errs, fmt.Sprintf("field %q mapped twice", c.Field))
		}
		fields[c.Field] = true

		if c.Index < 0 {
			errs = append(errs, fmt.Sprintf("field %q has negative index", c.Field))
		}
		if other, dup := indices[c.Index]; dup {
			errs = append(errs, fmt.Sprintf("index %d mapped to both %q and %q", c.Index, other, c.Field))
		}
		indices[c.Index] = c.Field

		if c.Type != FieldText && c.Type != FieldNumeric {
			errs = append(errs, fmt.Sprintf("field %q has unknown type %q", c.Field, c.Type))
		}
	}

	if !fields[cm.NaturalKey] {
		errs = append(errs, fmt.Sprintf("natural key %q is not a mapped field", cm.NaturalKey))
	}
	if len(cm.Essential) == 0 {
		errs = append(errs, "at least one essential field is required")
	}
	for _, f := range cm.Essential {
		if !fields[f] {
			errs = append(errs, fmt.Sprintf("essential field %q is not mapped", f))
		}
	}
	for _, f := range cm.Compare {
		if !fields[f] {
			errs = append(errs, fmt.Sprintf("compare field %q is not mapped", f))
		}
		if f == cm.NaturalKey {
			errs = append(errs, "natural key cannot be a compare field")
		}
	}
	for _, g := range cm.Identifiers {
		if g.Kind != KindUPC && g.Kind != KindGTIN {
			errs = append(errs, fmt.Sprintf("identifier group %q has unknown kind %q", g.Name, g.Kind))
		}
		for _, f := range g.Fields {
			if !fields[f] {
				errs = append(errs, fmt.Sprintf("identifier field %q is not mapped", f))
			}
		}
		if g.Sellable != "" && !slices.Contains(g.Fields, g.Sellable) {
			errs = append(errs, fmt.Sprintf("identifier group %q sellable tier %q is not one of its fields", g.Name, g.Sellable))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %s:\n  - %s", ErrInvalidColumnMap, cm.Version, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Fields returns field names in column order.
func (cm ColumnMap) Fields() []string {
	out := make([]string, len(cm.Columns))
	for i, c := range cm.Columns {
		out[i] = c.Field
	}
	return out
}

// Column returns the column mapped to field.
func (cm ColumnMap) Column(field string) (Column, bool) {
	for _, c := range cm.Columns {
		if c.Field == field {
			return c, true
		}
	}
	return Column{}, false
}

// Comparable reports whether field is in the compare allow-list.
func (cm ColumnMap) Comparable(field string) bool {
	return slices.Contains(cm.Compare, field)
}

// KeyColumn returns the natural key column.
func (cm ColumnMap) KeyColumn() Column {
	c, _ := cm.Column(cm.NaturalKey)
	return c
}

// MaxBatchSize is the largest number of rows one staging insert can carry
// within Postgres's limit on bind parameters per statement.
func (cm ColumnMap) MaxBatchSize() int {
	if len(cm.Columns) == 0 {
		return MaxBindParams
	}
	return MaxBindParams / len(cm.Columns)
}

// positions returns the sheet indices of fields, skipping unmapped names.
func (cm ColumnMap) positions(fields []string) []int {
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		if c, ok := cm.Column(f); ok {
			out = append(out, c.Index)
		}
	}
	return out
}

// CheckHeader compares a header row against the map's column titles.
// Only mapped positions are checked; matching ignores case and collapses
// whitespace. A mismatch means the positional map would misalign data.
func CheckHeader(header []string, cm ColumnMap) error {
	var bad []string
	for _, c := range cm.Columns {
		if c.Header == "" {
			continue
		}
		got := cellAt(header, c.Index)
		if !equalHeader(got, c.Header) {
			bad = append(bad, fmt.Sprintf("column %d: want %q, got %q", c.Index+1, c.Header, CleanCell(got)))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w (map %s):\n  - %s", ErrHeaderMismatch, cm.Version, strings.Join(bad, "\n  - "))
	}
	return nil
}

func equalHeader(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(CleanCell(a)), " "), strings.Join(strings.Fields(b), " "))
}
