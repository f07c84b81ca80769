package core

import (
	"fmt"
	"strings"
)

// idDelimiter separates the parts of a change ID. CleanCell strips control
// characters from every staged value, so it cannot occur inside a key, and
// field names are restricted to [a-z0-9_].
const idDelimiter = "\x1f"

// ChangeRef is a decoded change ID.
type ChangeRef struct {
	ChangeType ChangeType
	Key        string
	Field      string
}

// EncodeChangeID builds the opaque ID of a diff entry.
func EncodeChangeID(ct ChangeType, key, field string) string {
	return string(ct) + idDelimiter + key + idDelimiter + field
}

// DecodeChangeID parses an ID produced by EncodeChangeID.
func DecodeChangeID(id string) (ChangeRef, error) {
	parts := strings.Split(id, idDelimiter)
	if len(parts) != 3 {
		return ChangeRef{}, fmt.Errorf("%w: %q", ErrInvalidDiffID, readableID(id))
	}

	ref := ChangeRef{ChangeType: ChangeType(parts[0]), Key: parts[1], Field: parts[2]}
	if ref.Key == "" {
		return ChangeRef{}, fmt.Errorf("%w: empty key", ErrInvalidDiffID)
	}

	switch ref.ChangeType {
	case ChangeNew, ChangeDeleted:
		if ref.Field != "" {
			return ChangeRef{}, fmt.Errorf("%w: %s change cannot name a field", ErrInvalidDiffID, ref.ChangeType)
		}
	case ChangeModified:
		if ref.Field == "" {
			return ChangeRef{}, fmt.Errorf("%w: MODIFIED change must name a field", ErrInvalidDiffID)
		}
	default:
		return ChangeRef{}, fmt.Errorf("%w: unknown change type %q", ErrInvalidDiffID, parts[0])
	}
	return ref, nil
}

// readableID renders an ID for messages and logs.
func readableID(id string) string {
	return strings.TrimSpace(strings.ReplaceAll(id, idDelimiter, " "))
}
