package core

import (
	"context"
	"fmt"
)

// Apply commits the selected changes to production in one transaction.
//
// IDs are resolved against the live staging and production tables, not a
// cached diff. NEW copies the staged record, MODIFIED copies one allow-listed
// field from staging, DELETED removes the production record. A write error,
// or a change that no longer matches the tables, rolls back every change in
// the call and is returned as an *ApplyError naming the failing ID.
func Apply(ctx context.Context, store Store, cm ColumnMap, ids []string) (ApplyResult, error) {
	refs, err := resolveSelection(cm, ids)
	if err != nil {
		return ApplyResult{Message: fmt.Sprintf("Failed to apply changes: %v", err)}, err
	}

	applied := 0
	err = store.InTx(ctx, func(w ChangeWriter) error {
		for _, ref := range refs {
			id := EncodeChangeID(ref.ChangeType, ref.Key, ref.Field)

			var n int64
			var err error
			switch ref.ChangeType {
			case ChangeNew:
				n, err = w.InsertFromStaging(ctx, cm, ref.Key)
			case ChangeModified:
				n, err = w.UpdateFieldFromStaging(ctx, cm, ref.Key, ref.Field)
			case ChangeDeleted:
				n, err = w.DeleteMissing(ctx, cm, ref.Key)
			}
			if err != nil {
				return &ApplyError{ID: id, Err: err}
			}
			if n == 0 {
				return &ApplyError{ID: id, Err: ErrStaleChange}
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return ApplyResult{Message: fmt.Sprintf("Failed to apply changes: %v", err)}, err
	}

	return ApplyResult{
		Success:      true,
		AppliedCount: applied,
		Message:      fmt.Sprintf("Successfully applied %d changes", applied),
	}, nil
}

// resolveSelection decodes and de-duplicates IDs, keeping caller order.
// MODIFIED fields are checked against the compare allow-list here, before
// any field name reaches SQL.
func resolveSelection(cm ColumnMap, ids []string) ([]ChangeRef, error) {
	seen := make(map[string]bool, len(ids))
	refs := make([]ChangeRef, 0, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		ref, err := DecodeChangeID(id)
		if err != nil {
			return nil, err
		}
		if ref.ChangeType == ChangeModified && !cm.Comparable(ref.Field) {
			return nil, fmt.Errorf("%w: %q", ErrFieldNotComparable, ref.Field)
		}
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		return nil, ErrEmptySelection
	}
	return refs, nil
}
