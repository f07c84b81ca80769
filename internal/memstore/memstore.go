// Package memstore is an in-memory core.Store.
//
// It mirrors the semantics of the Postgres store closely enough to drive
// the pipeline in tests: transactions work on a copy of the state that is
// swapped in only on success, and write hooks let a test fail a specific
// batch or change.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"sync"

	"github.com/JonMunkholm/itemstage/internal/core"
)

var digitsRegex = regexp.MustCompile(`^[0-9]+$`)

type stagedRow struct {
	id  int64
	rec core.Record
}

type state struct {
	staging     []stagedRow
	nextID      int64
	production  map[string]core.Record
	identifiers []core.Identifier
}

func (s state) clone() state {
	out := state{
		staging:     make([]stagedRow, len(s.staging)),
		nextID:      s.nextID,
		production:  make(map[string]core.Record, len(s.production)),
		identifiers: slices.Clone(s.identifiers),
	}
	for i, r := range s.staging {
		out.staging[i] = stagedRow{id: r.id, rec: maps.Clone(r.rec)}
	}
	for k, v := range s.production {
		out.production[k] = maps.Clone(v)
	}
	return out
}

// Store is an in-memory core.Store. The zero value is not usable; call New.
type Store struct {
	// NaturalKey is the production key field, used by Seed.
	NaturalKey string

	// FailInsert, when set, is called for each staging batch; a non-nil
	// error fails that batch without writing any of its rows.
	FailInsert func(rows []core.StagingRow) error

	// FailChange, when set, is called before each change inside InTx with
	// the change type and key; a non-nil error aborts the transaction.
	FailChange func(ct core.ChangeType, key string) error

	mu    sync.Mutex
	state state
}

// New returns an empty store keyed by naturalKey.
func New(naturalKey string) *Store {
	return &Store{
		NaturalKey: naturalKey,
		state:      state{production: map[string]core.Record{}},
	}
}

// Seed puts records into production, replacing any with the same key.
func (s *Store) Seed(records ...core.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.state.production[r[s.NaturalKey].String] = maps.Clone(r)
	}
}

// Production returns a copy of the production record for key.
func (s *Store) Production(key string) (core.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.production[key]
	return maps.Clone(r), ok
}

// ProductionKeys returns the sorted production keys.
func (s *Store) ProductionKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.state.production))
}

// StagingRecords returns copies of the staged records in insert order.
func (s *Store) StagingRecords() []core.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Record, len(s.state.staging))
	for i, r := range s.state.staging {
		out[i] = maps.Clone(r.rec)
	}
	return out
}

func (s *Store) TruncateStaging(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.staging = nil
	return nil
}

func (s *Store) InsertStagingBatch(ctx context.Context, cm core.ColumnMap, rows []core.StagingRow) (int64, error) {
	if s.FailInsert != nil {
		if err := s.FailInsert(rows); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]stagedRow, 0, len(rows))
	for _, row := range rows {
		if len(row.Values) != len(cm.Columns) {
			return 0, fmt.Errorf("row %d has %d values, want %d", row.RowNumber, len(row.Values), len(cm.Columns))
		}
		rec := make(core.Record, len(cm.Columns))
		for i, c := range cm.Columns {
			rec[c.Field] = row.Values[i]
		}
		if !rec[cm.NaturalKey].Valid {
			return 0, fmt.Errorf("null value in column %q violates not-null constraint", cm.NaturalKey)
		}
		s.state.nextID++
		batch = append(batch, stagedRow{id: s.state.nextID, rec: rec})
	}
	s.state.staging = append(s.state.staging, batch...)
	return int64(len(batch)), nil
}

func (s *Store) CountStaging(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.state.staging)), nil
}

func (s *Store) PreviewStaging(ctx context.Context, cm core.ColumnMap, limit int) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return []core.Record{}, nil
	}
	out := make([]core.Record, 0, limit)
	for i := len(s.state.staging) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, maps.Clone(s.state.staging[i].rec))
	}
	return out, nil
}

func (s *Store) StagingDuplicateKeys(ctx context.Context, cm core.ColumnMap, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, r := range s.state.staging {
		counts[r.rec[cm.NaturalKey].String]++
	}
	var dups []string
	for k, n := range counts {
		if n > 1 {
			dups = append(dups, k)
		}
	}
	sort.Strings(dups)
	if limit > 0 && len(dups) > limit {
		dups = dups[:limit]
	}
	return dups, nil
}

// latestStaged returns the most recently staged record per key.
func (st state) latestStaged(cm core.ColumnMap) map[string]core.Record {
	out := make(map[string]core.Record, len(st.staging))
	for _, r := range st.staging {
		out[r.rec[cm.NaturalKey].String] = r.rec
	}
	return out
}

func (s *Store) NewRecords(ctx context.Context, cm core.ColumnMap) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.latestStaged(cm)
	var out []core.Record
	for _, key := range slices.Sorted(maps.Keys(staged)) {
		if _, ok := s.state.production[key]; !ok {
			out = append(out, maps.Clone(staged[key]))
		}
	}
	return out, nil
}

func (s *Store) DeletedRecords(ctx context.Context, cm core.ColumnMap) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.latestStaged(cm)
	var out []core.Record
	for _, key := range slices.Sorted(maps.Keys(s.state.production)) {
		if _, ok := staged[key]; !ok {
			out = append(out, maps.Clone(s.state.production[key]))
		}
	}
	return out, nil
}

func (s *Store) ModifiedFields(ctx context.Context, cm core.ColumnMap) ([]core.FieldChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.latestStaged(cm)
	fields := slices.Sorted(slices.Values(cm.Compare))

	var out []core.FieldChange
	for _, key := range slices.Sorted(maps.Keys(staged)) {
		prod, ok := s.state.production[key]
		if !ok {
			continue
		}
		for _, f := range fields {
			oldV, newV := prod[f], staged[key][f]
			if oldV.String == newV.String {
				// NULL and empty text compare equal.
				continue
			}
			out = append(out, core.FieldChange{Key: key, Field: f, OldValue: oldV, NewValue: newV})
		}
	}
	return out, nil
}

// InTx runs fn against a copy of the state and keeps the copy only if fn
// succeeds.
func (s *Store) InTx(ctx context.Context, fn func(core.ChangeWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s, state: s.state.clone()}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = t.state
	return nil
}

type tx struct {
	store *Store
	state state
}

func (t *tx) hook(ct core.ChangeType, key string) error {
	if t.store.FailChange == nil {
		return nil
	}
	return t.store.FailChange(ct, key)
}

func (t *tx) InsertFromStaging(ctx context.Context, cm core.ColumnMap, key string) (int64, error) {
	if err := t.hook(core.ChangeNew, key); err != nil {
		return 0, err
	}
	if _, exists := t.state.production[key]; exists {
		return 0, nil
	}
	rec, ok := t.state.latestStaged(cm)[key]
	if !ok {
		return 0, nil
	}
	t.state.production[key] = maps.Clone(rec)
	return 1, nil
}

func (t *tx) UpdateFieldFromStaging(ctx context.Context, cm core.ColumnMap, key, field string) (int64, error) {
	if err := t.hook(core.ChangeModified, key); err != nil {
		return 0, err
	}
	prod, ok := t.state.production[key]
	if !ok {
		return 0, nil
	}
	rec, ok := t.state.latestStaged(cm)[key]
	if !ok {
		return 0, nil
	}
	prod[field] = rec[field]
	return 1, nil
}

func (t *tx) DeleteMissing(ctx context.Context, cm core.ColumnMap, key string) (int64, error) {
	if err := t.hook(core.ChangeDeleted, key); err != nil {
		return 0, err
	}
	if _, ok := t.state.production[key]; !ok {
		return 0, nil
	}
	if _, staged := t.state.latestStaged(cm)[key]; staged {
		return 0, nil
	}
	delete(t.state.production, key)
	return 1, nil
}

func (s *Store) RefreshIdentifiers(ctx context.Context, cm core.ColumnMap) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []core.Identifier
	for _, key := range slices.Sorted(maps.Keys(s.state.production)) {
		rec := s.state.production[key]
		for _, g := range cm.Identifiers {
			for i, f := range g.Fields {
				code := rec[f]
				if !code.Valid || !digitsRegex.MatchString(code.String) {
					continue
				}
				ids = append(ids, core.Identifier{
					ItemCode:    key,
					Kind:        g.Kind,
					Level:       f,
					LevelNumber: i + 1,
					Code:        code.String,
					IsSellable:  f == g.Sellable,
				})
			}
		}
	}
	s.state.identifiers = ids
	return int64(len(ids)), nil
}

func (s *Store) ListIdentifiers(ctx context.Context, limit int) ([]core.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.state.identifiers)
	if limit > 0 {
		n = min(limit, n)
	}
	return slices.Clone(s.state.identifiers[:n]), nil
}

var _ core.Store = (*Store)(nil)
