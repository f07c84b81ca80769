package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/itemstage/internal/cli"
	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/memstore"
)

const columnMap = `
version: cli-test-v1
natural_key: item
columns:
  - {index: 0, field: brand_name, header: Brand}
  - {index: 1, field: item, header: Item, required: true}
  - {index: 2, field: description1, header: Description}
essential: [brand_name, item, description1]
compare: [brand_name, description1]
`

type env struct {
	t     *testing.T
	dir   string
	vars  map[string]string
	store *memstore.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "map.yaml")
	require.NoError(t, os.WriteFile(mapPath, []byte(columnMap), 0o600))

	return &env{
		t:   t,
		dir: dir,
		vars: map[string]string{
			"DATABASE_URL":      "postgres://localhost/items_test",
			"IMPORT_COLUMN_MAP": mapPath,
		},
		store: memstore.New("item"),
	}
}

func (e *env) file(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes one itemctl command line against the env's store.
func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	app := cli.New(
		cli.WithStore(e.store),
		cli.WithEnv(func(k string) string { return e.vars[k] }),
		cli.WithStderr(&stderr),
	)
	err := app.Execute(context.Background(), args, &stdout)
	return stdout.String(), err
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

func record(brand, item, desc string) core.Record {
	return core.Record{"brand_name": text(brand), "item": text(item), "description1": text(desc)}
}

const sheetCSV = "Brand,Item,Description\nACME,A1,Gauze\nACME,B2,Tape\n"

func TestColumns(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("columns", "-o", "json")
	require.NoError(t, err)

	var cm core.ColumnMap
	require.NoError(t, json.Unmarshal([]byte(out), &cm))
	assert.Equal(t, "cli-test-v1", cm.Version)
	assert.Len(t, cm.Columns, 3)

	out, err = e.run("columns", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "description1")
}

func TestValidate(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("validate", e.file("good.csv", sheetCSV), "-o", "json")
	require.NoError(t, err)
	var report core.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.TotalRows)

	out, err = e.run("validate", e.file("dup.csv", "Brand,Item,Description\nACME,A1,One\nACME,A1,Two\n"), "-o", "json")
	require.ErrorIs(t, err, cli.ErrValidationFailed)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	assert.Len(t, report.DuplicateKeys, 1)

	_, err = e.run("validate", e.file("wrong.csv", "Brand,SKU,Description\nACME,A1,One\n"))
	assert.ErrorIs(t, err, core.ErrHeaderMismatch)
}

func TestStageDiffApply(t *testing.T) {
	e := newEnv(t)
	e.store.Seed(record("ACME", "B2", "Old"), record("ACME", "C3", "Gone"))

	out, err := e.run("stage", e.file("items.csv", sheetCSV), "-o", "json")
	require.NoError(t, err)
	var res core.LoadResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SuccessfulRows)

	out, err = e.run("staging", "status", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"rowCount": 2, "hasData": true}`, out)

	out, err = e.run("diff", "-o", "json")
	require.NoError(t, err)
	var diff struct {
		Summary core.DiffSummary `json:"summary"`
		Entries []core.DiffEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &diff))
	assert.Equal(t, core.DiffSummary{New: 1, Modified: 1, Deleted: 1}, diff.Summary)

	out, err = e.run("diff", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "MODIFIED")
	assert.Contains(t, out, "Tape")

	var modified string
	for _, d := range diff.Entries {
		if d.ChangeType == core.ChangeModified {
			modified = d.ID
		}
	}
	require.NotEmpty(t, modified)

	out, err = e.run("apply", modified, "-o", "json")
	require.NoError(t, err)
	var applied core.ApplyResult
	require.NoError(t, json.Unmarshal([]byte(out), &applied))
	assert.Equal(t, 1, applied.AppliedCount)
	got, _ := e.store.Production("B2")
	assert.Equal(t, "Tape", got["description1"].String)

	_, err = e.run("apply", "--all", "--only", "new", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B2", "C3"}, e.store.ProductionKeys())

	// Only the deletion is left.
	ids := e.file("ids.txt", core.EncodeChangeID(core.ChangeDeleted, "C3", "")+"\n\n")
	_, err = e.run("apply", "--ids-file", ids, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B2"}, e.store.ProductionKeys())

	_, err = e.run("staging", "clear")
	require.NoError(t, err)
	assert.Empty(t, e.store.StagingRecords())
}

func TestApplyErrors(t *testing.T) {
	e := newEnv(t)

	_, err := e.run("apply", "-o", "json")
	assert.ErrorIs(t, err, core.ErrEmptySelection)

	_, err = e.run("apply", "garbage", "-o", "json")
	assert.ErrorIs(t, err, core.ErrInvalidDiffID)

	// An empty diff with --all is not an error.
	_, err = e.run("apply", "--all")
	assert.NoError(t, err)
}

func TestIdentifiers(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("identifiers", "refresh", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count": 0}`, out)

	_, err = e.run("identifiers", "list", "--limit", "5", "-o", "yaml")
	require.NoError(t, err)
}

func TestSetupErrors(t *testing.T) {
	e := newEnv(t)

	_, err := e.run("columns", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")

	delete(e.vars, "DATABASE_URL")
	_, err = e.run("columns")
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, err = e.run("columns", "--database-url", "postgres://localhost/other", "-o", "json")
	assert.NoError(t, err)

	e.vars["IMPORT_COLUMN_MAP"] = filepath.Join(e.dir, "missing.yaml")
	_, err = e.run("columns", "--database-url", "postgres://localhost/other")
	assert.Error(t, err)
}

func TestStageRejected(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("stage", e.file("dup.csv", "Brand,Item,Description\nACME,A1,One\nACME,A1,Two\n"), "-o", "json")
	var rejected *core.ValidationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.True(t, strings.Contains(out, "duplicateItems"))
	assert.Empty(t, e.store.StagingRecords())
}
