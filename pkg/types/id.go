package types

import "strconv"

// ID identifies a record. Negative values are local ids issued on the device
// before the record was ever saved; non-negative values are server ids.
type ID int64

// IsLocal reports whether the id was issued locally and not yet promoted.
func (id ID) IsLocal() bool {
	return id < 0
}

// IsServer reports whether the id was assigned by the backend.
func (id ID) IsServer() bool {
	return id >= 0
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IDPtr returns a pointer to id. Handy for optional parent references.
func IDPtr(id ID) *ID {
	return &id
}

// RecordKind discriminates the concrete record type carried by a FlatRecord.
type RecordKind string

// Record kinds. The kind also names the entity whose local id counter the
// record draws from.
const (
	KindBatch       RecordKind = "batch"
	KindSample      RecordKind = "sample"
	KindComposition RecordKind = "composition"
	KindRelease     RecordKind = "release"
)

// validKinds is the set of recognized record kinds.
var validKinds = map[RecordKind]bool{
	KindBatch:       true,
	KindSample:      true,
	KindComposition: true,
	KindRelease:     true,
}

// Valid reports whether k is a recognized record kind.
func (k RecordKind) Valid() bool {
	return validKinds[k]
}

// EntityName returns the name the identity source keys its counter on.
// Parent references carry no kind, so kinds that share a tree share a
// counter: compositions draw batch ids and releases draw sample ids. An
// empty kind counts as a batch.
func (k RecordKind) EntityName() string {
	switch k {
	case KindSample, KindRelease:
		return "Sample"
	default:
		return "Batch"
	}
}
