package types

import "context"

// IdentitySource hands out local ids. A single call reserves count ids for
// one entity as an indivisible operation; the ids are strictly negative,
// unique for the lifetime of the source, and decrease monotonically.
type IdentitySource interface {
	NextIDs(ctx context.Context, entityName string, count int) ([]ID, error)
}

// PersistenceGateway stores flat records. Save returns the records in input
// order with every local id (and every parent reference to one) replaced by
// the server-assigned id.
type PersistenceGateway interface {
	Save(ctx context.Context, records []FlatRecord) ([]FlatRecord, error)
}

// RecordStore is a gateway that can also read back what it stored.
type RecordStore interface {
	PersistenceGateway

	// FetchTree returns the record with the given id and all its
	// descendants. Returns ErrNotFound if no such record exists.
	FetchTree(ctx context.Context, rootID ID) ([]FlatRecord, error)
}
