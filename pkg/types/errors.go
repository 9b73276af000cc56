package types

import (
	"errors"
	"fmt"
	"strings"
)

// Identity and codec errors.
var (
	ErrAllocation           = errors.New("local id allocation failed")
	ErrUnassignedIdentifier = errors.New("record has no id")
	ErrOrphanRecord         = errors.New("record parent not found")
	ErrPromotionConflict    = errors.New("id promotion conflict")
	ErrDuplicateID          = errors.New("duplicate record id")
	ErrDuplicateRankOrder   = errors.New("duplicate rank order among siblings")
	ErrInvalidNode          = errors.New("invalid node reference")
	ErrInvalidGroup         = errors.New("invalid batch group")
)

// Save round trip errors.
var (
	ErrSaveMismatch     = errors.New("saved records do not match sent records")
	ErrUnpromotedRecord = errors.New("saved record still has a local id")
	ErrNotFound         = errors.New("record not found")
	ErrDetached         = errors.New("backend is detached")
	ErrAlreadyAttached  = errors.New("backend is already attached")
)

// ErrRoundingInconsistency marks a sampling ratio that cannot scale a count.
var ErrRoundingInconsistency = errors.New("sampling ratio cannot scale count")

// AllocationError reports that the identity source could not satisfy a
// batch request. No id of the enclosing batch has been assigned.
type AllocationError struct {
	Entity    string
	Requested int
	Received  int
	Err       error
}

func (e *AllocationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "allocate %d %s ids", e.Requested, e.Entity)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": received %d", e.Received)
	}
	return b.String()
}

func (e *AllocationError) Unwrap() error { return e.Err }

func (e *AllocationError) Is(target error) bool { return target == ErrAllocation }

// UnassignedIdentifierError is returned by Flatten for a node that never went
// through local id filling. It indicates a programming error.
type UnassignedIdentifierError struct {
	Label string
	Kind  RecordKind
}

func (e *UnassignedIdentifierError) Error() string {
	return fmt.Sprintf("flatten %s %q: %v", e.Kind.EntityName(), e.Label, ErrUnassignedIdentifier)
}

func (e *UnassignedIdentifierError) Is(target error) bool { return target == ErrUnassignedIdentifier }

// OrphanRecordError wraps the records that reconstruction could not place.
// Reconstruction never returns it by itself; callers that treat orphans as
// corruption ask for it explicitly.
type OrphanRecordError struct {
	Orphans []FlatRecord
}

func (e *OrphanRecordError) Error() string {
	ids := make([]string, 0, len(e.Orphans))
	for _, r := range e.Orphans {
		ids = append(ids, r.ID.String())
	}
	return fmt.Sprintf("%d orphan records (%s)", len(e.Orphans), strings.Join(ids, ", "))
}

func (e *OrphanRecordError) Is(target error) bool { return target == ErrOrphanRecord }

// PromotionConflictError reports a server id that would collide with an id
// already present, or a local id that cannot be promoted.
type PromotionConflictError struct {
	Local  ID
	Server ID
	Reason string
}

func (e *PromotionConflictError) Error() string {
	return fmt.Sprintf("promote %d to %d: %s", e.Local, e.Server, e.Reason)
}

func (e *PromotionConflictError) Is(target error) bool { return target == ErrPromotionConflict }

// RoundingInconsistencyWarning is a non-fatal finding of the aggregate pass:
// a sampling node whose ratio is not positive, or that would scale its
// count out of range, was treated as unscaled.
type RoundingInconsistencyWarning struct {
	Label string
	Ratio float64
}

func (w *RoundingInconsistencyWarning) Error() string {
	return fmt.Sprintf("batch %q: sampling ratio %g cannot scale its count, count left unscaled", w.Label, w.Ratio)
}

func (w *RoundingInconsistencyWarning) Is(target error) bool {
	return target == ErrRoundingInconsistency
}
