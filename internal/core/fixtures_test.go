package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/memstore"
)

// testMap is a small sheet layout with every feature of a real map: a
// required key, essential columns, two identifier groups and a numeric field.
func testMap() core.ColumnMap {
	col := func(i int, field, header string, typ core.FieldType) core.Column {
		return core.Column{Index: i, Field: field, Header: header, Type: typ}
	}
	key := col(1, "item", "Item", core.FieldText)
	key.Required = true

	return core.ColumnMap{
		Version:    "test-v1",
		NaturalKey: "item",
		Columns: []core.Column{
			col(0, "brand_name", "Brand", core.FieldText),
			key,
			col(2, "description1", "Description", core.FieldText),
			col(3, "upc_inner", "Inner UPC", core.FieldText),
			col(4, "upc_sellable", "Sellable UPC", core.FieldText),
			col(5, "gtin_case", "Case GTIN", core.FieldText),
			col(6, "price", "Price", core.FieldNumeric),
		},
		Essential: []string{"brand_name", "item", "description1"},
		Identifiers: []core.IdentifierGroup{
			{
				Name:      "UPC",
				Kind:      core.KindUPC,
				Fields:    []string{"upc_inner", "upc_sellable"},
				Sellable:  "upc_sellable",
				Sentinels: []string{"", "x", "n/a"},
			},
			{
				Name:      "GTIN",
				Kind:      core.KindGTIN,
				Fields:    []string{"gtin_case"},
				Sellable:  "gtin_case",
				Sentinels: []string{"", "x"},
			},
		},
		Compare: []string{"brand_name", "description1", "upc_inner", "upc_sellable", "gtin_case", "price"},
	}
}

var testHeader = []string{"Brand", "Item", "Description", "Inner UPC", "Sellable UPC", "Case GTIN", "Price"}

// sheet wraps data rows as they would come out of a file whose header is
// on row 1.
func sheet(rows ...[]string) core.Sheet {
	return core.Sheet{Header: testHeader, Rows: rows, FirstRow: 2}
}

// row builds a raw sheet row; identifier and price cells are left blank.
func row(brand, item, desc string) []string {
	return []string{brand, item, desc, "", "", "", ""}
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

// record is the stored form of row(brand, item, desc).
func record(brand, item, desc string) core.Record {
	return core.Record{
		"brand_name":   text(brand),
		"item":         text(item),
		"description1": text(desc),
		"upc_inner":    {},
		"upc_sellable": {},
		"gtin_case":    {},
		"price":        {},
	}
}

func newStore() *memstore.Store {
	return memstore.New("item")
}

// stage loads raw rows into staging without validating them.
func stage(t *testing.T, store core.Store, cm core.ColumnMap, rows ...[]string) {
	t.Helper()
	staged := core.BuildStagingRows(sheet(rows...), cm)
	res, err := core.Load(context.Background(), store, cm, staged, core.LoadOptions{}, nil)
	require.NoError(t, err)
	require.True(t, res.Success, "staging failed: %+v", res.Errors)
}

// numberedRows returns n distinct valid rows with keys I0001, I0002, ...
func numberedRows(n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = row("ACME", fmt.Sprintf("I%04d", i+1), "Widget")
	}
	return rows
}

func ids(diff []core.DiffEntry) []string {
	out := make([]string, len(diff))
	for i, d := range diff {
		out[i] = d.ID
	}
	return out
}
