package tables_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/core/tables"
)

func itemsMap(t *testing.T) core.ColumnMap {
	t.Helper()
	cm, ok := core.Get(tables.ItemsV1)
	require.True(t, ok, "%s is registered on import", tables.ItemsV1)
	return cm
}

// itemRow returns a blank row as wide as the sheet with the essentials set.
func itemRow(item string) []string {
	r := make([]string, 76)
	r[0], r[1], r[2] = "ACME", item, "Gauze pad"
	return r
}

func header(cm core.ColumnMap) []string {
	h := make([]string, 76)
	for _, c := range cm.Columns {
		h[c.Index] = c.Header
	}
	return h
}

func TestItemsV1(t *testing.T) {
	cm := itemsMap(t)

	require.NoError(t, cm.Validate())
	assert.Equal(t, "item", cm.NaturalKey)
	assert.Equal(t, "Item#", cm.KeyColumn().Header)

	_, ok := cm.Column("hcpc_code")
	assert.True(t, ok)
	for _, c := range cm.Columns {
		assert.False(t, c.Index >= 20 && c.Index < 40, "column %d (%s) is in the skipped block", c.Index, c.Field)
	}
}

func TestItemsV1_ThreeTiersOneCode(t *testing.T) {
	cm := itemsMap(t)

	r := itemRow("A1")
	r[10], r[11], r[12] = "012345678905", "012345678905", "012345678905"

	report, err := core.Validate(core.Sheet{Header: header(cm), Rows: [][]string{r}, FirstRow: 2}, cm)
	require.NoError(t, err)

	assert.False(t, report.Valid)
	require.Len(t, report.DuplicateIdentifiersWithinRecord, 1, "one finding per code, not per tier")
	assert.Equal(t, "012345678905", report.DuplicateIdentifiersWithinRecord[0].Value)
	assert.Empty(t, report.DuplicateIdentifiersAcrossRecords)
}

func TestItemsV1_HeaderAndStaging(t *testing.T) {
	cm := itemsMap(t)

	r := itemRow("A1")
	r[12] = "123456789012"
	r[64] = "10123456789012"
	sh := core.Sheet{Header: header(cm), Rows: [][]string{r, make([]string, 76)}, FirstRow: 2}

	require.NoError(t, core.CheckHeader(sh.Header, cm))

	report, err := core.Validate(sh, cm)
	require.NoError(t, err)
	assert.True(t, report.Valid, "%+v", report.Findings())
	assert.Equal(t, 1, report.TotalRows)

	rows := core.BuildStagingRows(sh, cm)
	require.Len(t, rows, 1)
	assert.Equal(t, "A1", rows[0].Key)
	assert.Len(t, rows[0].Values, len(cm.Columns))
}
