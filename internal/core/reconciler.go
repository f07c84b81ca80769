package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// duplicateKeySample bounds how many duplicate staging keys are reported.
const duplicateKeySample = 10

// Reconcile classifies staging against production by natural key.
//
// Keys only in staging are NEW and keys only in production are DELETED, each
// carrying the full record. Keys on both sides yield one MODIFIED entry per
// compare field whose values differ, with NULL and empty text treated as
// equal. An empty staging table returns an empty diff without reading
// production, so an import that was never staged cannot mark every
// production row as deleted.
func Reconcile(ctx context.Context, store Store, cm ColumnMap) ([]DiffEntry, error) {
	n, err := store.CountStaging(ctx)
	if err != nil {
		return nil, &ReconciliationError{Op: "count staging", Err: err}
	}
	if n == 0 {
		return []DiffEntry{}, nil
	}

	dups, err := store.StagingDuplicateKeys(ctx, cm, duplicateKeySample)
	if err != nil {
		return nil, &ReconciliationError{Op: "check staging keys", Err: err}
	}
	if len(dups) > 0 {
		return nil, &ReconciliationError{
			Op:  "check staging keys",
			Err: fmt.Errorf("%w: %s", ErrDuplicateStagingKey, strings.Join(dups, ", ")),
		}
	}

	added, err := store.NewRecords(ctx, cm)
	if err != nil {
		return nil, &ReconciliationError{Op: "find new records", Err: err}
	}
	changed, err := store.ModifiedFields(ctx, cm)
	if err != nil {
		return nil, &ReconciliationError{Op: "find modified fields", Err: err}
	}
	removed, err := store.DeletedRecords(ctx, cm)
	if err != nil {
		return nil, &ReconciliationError{Op: "find deleted records", Err: err}
	}

	diff := make([]DiffEntry, 0, len(added)+len(changed)+len(removed))
	for _, rec := range added {
		key := rec[cm.NaturalKey].String
		diff = append(diff, DiffEntry{
			ID:         EncodeChangeID(ChangeNew, key, ""),
			ChangeType: ChangeNew,
			Key:        key,
			Record:     rec,
		})
	}
	for _, fc := range changed {
		diff = append(diff, DiffEntry{
			ID:         EncodeChangeID(ChangeModified, fc.Key, fc.Field),
			ChangeType: ChangeModified,
			Key:        fc.Key,
			Field:      fc.Field,
			OldValue:   fc.OldValue,
			NewValue:   fc.NewValue,
		})
	}
	for _, rec := range removed {
		key := rec[cm.NaturalKey].String
		diff = append(diff, DiffEntry{
			ID:         EncodeChangeID(ChangeDeleted, key, ""),
			ChangeType: ChangeDeleted,
			Key:        key,
			Record:     rec,
		})
	}

	SortDiff(diff)
	return diff, nil
}

// SortDiff orders entries by change type (NEW, MODIFIED, DELETED), then key,
// then field.
func SortDiff(diff []DiffEntry) {
	sort.SliceStable(diff, func(i, j int) bool {
		a, b := diff[i], diff[j]
		if pa, pb := a.ChangeType.priority(), b.ChangeType.priority(); pa != pb {
			return pa < pb
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Field < b.Field
	})
}

// DiffSummary counts entries per change type.
type DiffSummary struct {
	New      int `json:"new"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

// Summarize counts a diff by change type.
func Summarize(diff []DiffEntry) DiffSummary {
	var s DiffSummary
	for _, d := range diff {
		switch d.ChangeType {
		case ChangeNew:
			s.New++
		case ChangeModified:
			s.Modified++
		case ChangeDeleted:
			s.Deleted++
		}
	}
	return s
}
