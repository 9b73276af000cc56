package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// parseID reads a record id argument.
func parseID(s string) (types.ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, userError("invalid id %q", s)
	}
	return types.ID(v), nil
}

// openInput opens path for reading; "-" is stdin.
func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, userError("open %s: %w", path, err)
	}
	return f, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sysError("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// storeError classifies a backend error: missing records are the caller's
// mistake, anything else is a system failure.
func storeError(op string, err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return userError("%s: %w", op, err)
	}
	return sysError("%s: %w", op, err)
}

// printWarnings writes one line per aggregate warning.
func printWarnings(w io.Writer, warnings []*types.RoundingInconsistencyWarning) {
	for _, warn := range warnings {
		fmt.Fprintln(w, "warning:", warn)
	}
}

func printOrphans(w io.Writer, orphans []types.FlatRecord) {
	for _, o := range orphans {
		parent := "none"
		if o.ParentID != nil {
			parent = o.ParentID.String()
		}
		fmt.Fprintf(w, "orphan: record %d %q (parent %s)\n", o.ID, o.Label, parent)
	}
}
