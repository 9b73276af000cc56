// Package types defines the flat record shape, identifier rules, collaborator
// interfaces, and standard error types for batch and sample trees.
//
// A record travels in one of two forms: as a node of an in-memory tree while
// it is being edited, or as a FlatRecord carrying an explicit ParentID on the
// wire and in storage. The tree form lives in internal/tree; this package
// holds everything both forms and the storage collaborators share.
package types
