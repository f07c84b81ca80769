package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/memstore"
)

func TestReconcile_EmptyStagingIsEmptyDiff(t *testing.T) {
	store := newStore()
	store.Seed(record("ACME", "C3", "Kept"))

	diff, err := core.Reconcile(context.Background(), store, testMap())
	require.NoError(t, err)
	assert.NotNil(t, diff)
	assert.Empty(t, diff, "an empty staging table must not mark production as deleted")
}

func TestReconcile_New(t *testing.T) {
	cm := testMap()
	store := newStore()
	stage(t, store, cm, row("ACME", "A1", "Gauze"))

	diff, err := core.Reconcile(context.Background(), store, cm)
	require.NoError(t, err)

	require.Len(t, diff, 1)
	assert.Equal(t, core.ChangeNew, diff[0].ChangeType)
	assert.Equal(t, "A1", diff[0].Key)
	assert.Equal(t, record("ACME", "A1", "Gauze"), diff[0].Record)
}

func TestReconcile_Modified(t *testing.T) {
	cm := testMap()
	store := newStore()
	store.Seed(record("ACME", "B2", "Old"))
	stage(t, store, cm, row("ACME", "B2", "New"))

	diff, err := core.Reconcile(context.Background(), store, cm)
	require.NoError(t, err)

	require.Len(t, diff, 1)
	d := diff[0]
	assert.Equal(t, core.ChangeModified, d.ChangeType)
	assert.Equal(t, "B2", d.Key)
	assert.Equal(t, "description1", d.Field)
	assert.Equal(t, text("Old"), d.OldValue)
	assert.Equal(t, text("New"), d.NewValue)
	assert.Equal(t, core.EncodeChangeID(core.ChangeModified, "B2", "description1"), d.ID)
}

func TestReconcile_Deleted(t *testing.T) {
	cm := testMap()
	store := newStore()
	store.Seed(record("ACME", "C3", "Gone"), record("ACME", "D4", "Same"))
	stage(t, store, cm, row("ACME", "D4", "Same"))

	diff, err := core.Reconcile(context.Background(), store, cm)
	require.NoError(t, err)

	require.Len(t, diff, 1)
	assert.Equal(t, core.ChangeDeleted, diff[0].ChangeType)
	assert.Equal(t, "C3", diff[0].Key)
	assert.Equal(t, "Gone", diff[0].Record["description1"].String)
}

func TestReconcile_NullEqualsEmpty(t *testing.T) {
	cm := testMap()
	store := newStore()
	prod := record("ACME", "B2", "Same")
	prod["upc_inner"] = text("")
	store.Seed(prod)
	stage(t, store, cm, row("ACME", "B2", "Same"))

	diff, err := core.Reconcile(context.Background(), store, cm)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func mixedFixture(t *testing.T) (*memstore.Store, core.ColumnMap) {
	t.Helper()
	cm := testMap()
	store := newStore()
	store.Seed(
		record("ACME", "B2", "Old"),
		record("ACME", "C3", "Gone"),
		record("ACME", "D4", "Same"),
		record("ACME", "E5", "Old"),
		record("ACME", "A0", "Gone too"),
	)
	stage(t, store, cm,
		row("ACME", "Z9", "Brand new"),
		row("Other", "E5", "New"),
		row("ACME", "D4", "Same"),
		row("ACME", "B2", "New"),
		row("ACME", "A1", "Also new"),
	)
	return store, cm
}

func TestReconcile_OrderAndDeterminism(t *testing.T) {
	store, cm := mixedFixture(t)

	first, err := core.Reconcile(context.Background(), store, cm)
	require.NoError(t, err)
	second, err := core.Reconcile(context.Background(), store, cm)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	want := []string{
		core.EncodeChangeID(core.ChangeNew, "A1", ""),
		core.EncodeChangeID(core.ChangeNew, "Z9", ""),
		core.EncodeChangeID(core.ChangeModified, "B2", "description1"),
		core.EncodeChangeID(core.ChangeModified, "E5", "brand_name"),
		core.EncodeChangeID(core.ChangeModified, "E5", "description1"),
		core.EncodeChangeID(core.ChangeDeleted, "A0", ""),
		core.EncodeChangeID(core.ChangeDeleted, "C3", ""),
	}
	assert.Equal(t, want, ids(first))

	assert.Equal(t, core.DiffSummary{New: 2, Modified: 3, Deleted: 2}, core.Summarize(first))
}

func TestReconcile_KeyInOneBucket(t *testing.T) {
	store, cm := mixedFixture(t)

	diff, err := core.Reconcile(context.Background(), store, cm)
	require.NoError(t, err)

	buckets := make(map[string]core.ChangeType)
	for _, d := range diff {
		if prev, seen := buckets[d.Key]; seen {
			assert.Equal(t, prev, d.ChangeType, "key %s appears in two buckets", d.Key)
		}
		buckets[d.Key] = d.ChangeType
	}
	_, unchanged := buckets["D4"]
	assert.False(t, unchanged, "identical records are not in the diff")
}

func TestReconcile_DuplicateStagingKeys(t *testing.T) {
	cm := testMap()
	store := newStore()
	stage(t, store, cm, row("ACME", "A1", "One"), row("ACME", "A1", "Two"))

	_, err := core.Reconcile(context.Background(), store, cm)

	var rerr *core.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, core.ErrDuplicateStagingKey)
	assert.Contains(t, err.Error(), "A1")
}

type failingStore struct {
	*memstore.Store
}

func (failingStore) ModifiedFields(context.Context, core.ColumnMap) ([]core.FieldChange, error) {
	return nil, errors.New("connection reset by peer")
}

func TestReconcile_StoreFailure(t *testing.T) {
	cm := testMap()
	store := newStore()
	stage(t, store, cm, row("ACME", "A1", "Gauze"))

	_, err := core.Reconcile(context.Background(), failingStore{store}, cm)

	var rerr *core.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "find modified fields", rerr.Op)
}

func TestSortDiff(t *testing.T) {
	diff := []core.DiffEntry{
		{ChangeType: core.ChangeDeleted, Key: "A"},
		{ChangeType: core.ChangeModified, Key: "B", Field: "z"},
		{ChangeType: core.ChangeModified, Key: "B", Field: "a"},
		{ChangeType: core.ChangeNew, Key: "C"},
		{ChangeType: core.ChangeModified, Key: "A", Field: "m"},
	}
	core.SortDiff(diff)

	got := make([]string, len(diff))
	for i, d := range diff {
		got[i] = string(d.ChangeType) + ":" + d.Key + ":" + d.Field
	}
	assert.Equal(t, []string{"NEW:C:", "MODIFIED:A:m", "MODIFIED:B:a", "MODIFIED:B:z", "DELETED:A:"}, got)
}
