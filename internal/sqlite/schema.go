package sqlite

import _ "embed"

//go:embed schema.sql
var schemaSQL string

// Rows of the sequences table. The server sequence counts up from -1; the
// local sequence counts down from zero for every entity.
const (
	serverSequence = "record"
	localSequence  = "local"
)
