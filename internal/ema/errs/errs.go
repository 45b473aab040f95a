// Package errs folds multiple non-fatal errors into one, the way the
// teacher's util.MergeErrors does for its HTTP handlers that attempt
// several independent operations and want to report every failure, not
// just the first.
package errs

import (
	"fmt"
	"strings"
)

// Merge converts errs into a single newline-separated error, skipping
// any nil entries. It returns nil if every entry was nil. Used by the
// sync Engine to report every parameter mismatch found in one reconcile
// pass instead of aborting at the first one (spec §4.6, §7).
func Merge(errors []error) error {
	var lines []string
	for _, err := range errors {
		if err != nil {
			lines = append(lines, err.Error())
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return fmt.Errorf(strings.Join(lines, "\n"))
}
