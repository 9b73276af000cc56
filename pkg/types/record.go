package types

import "fmt"

// FlatRecord is the wire and storage form of a tree node. The parent is
// referenced by id; in-memory parent and children links are never carried.
type FlatRecord struct {
	ID                ID             `json:"id"`
	ParentID          *ID            `json:"parentId"`
	RankOrder         int            `json:"rankOrder"`
	Label             string         `json:"label"`
	IndividualCount   *int64         `json:"individualCount"`
	SamplingRatio     *float64       `json:"samplingRatio"`
	SamplingRatioText string         `json:"samplingRatioText,omitempty"`
	TaxonGroup        string         `json:"taxonGroup,omitempty"`
	MeasurementValues map[string]any `json:"measurementValues"`
	Kind              RecordKind     `json:"kind"`
}

// IsRoot reports whether the record has no parent.
func (r FlatRecord) IsRoot() bool {
	return r.ParentID == nil
}

// Clone returns a copy of r that shares no mutable state with it.
func (r FlatRecord) Clone() FlatRecord {
	out := r
	if r.ParentID != nil {
		out.ParentID = IDPtr(*r.ParentID)
	}
	if r.IndividualCount != nil {
		v := *r.IndividualCount
		out.IndividualCount = &v
	}
	if r.SamplingRatio != nil {
		v := *r.SamplingRatio
		out.SamplingRatio = &v
	}
	out.MeasurementValues = CloneValues(r.MeasurementValues)
	return out
}

// CloneValues copies a measurement map. Nil stays nil.
func CloneValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PromotionMapping pairs the records handed to PersistenceGateway.Save with
// the records it returned and reports every local id that received a server
// id. The gateway returns records in input order.
//
// Returns ErrSaveMismatch when the slices differ in length and
// ErrUnpromotedRecord when a returned record still carries a local id.
func PromotionMapping(sent, saved []FlatRecord) (map[ID]ID, error) {
	if len(sent) != len(saved) {
		return nil, fmt.Errorf("%w: sent %d records, got %d back", ErrSaveMismatch, len(sent), len(saved))
	}
	mapping := make(map[ID]ID)
	for i := range sent {
		if saved[i].ID.IsLocal() {
			return nil, fmt.Errorf("%w: record %q came back with id %d", ErrUnpromotedRecord, saved[i].Label, saved[i].ID)
		}
		if sent[i].ID.IsLocal() {
			mapping[sent[i].ID] = saved[i].ID
			continue
		}
		if sent[i].ID != saved[i].ID {
			return nil, fmt.Errorf("%w: server id %d changed to %d", ErrSaveMismatch, sent[i].ID, saved[i].ID)
		}
	}
	return mapping, nil
}
