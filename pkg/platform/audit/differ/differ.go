// Package differ computes field-level diffs between two snapshots of a resource.
package differ

import (
	"auditlog/pkg/platform/audit"
)

// Snapshot is a flat field → value view of a resource, extracted by the caller.
type Snapshot map[string]any

// Result is the outcome of Diff. Failures lists fields whose values could not
// be serialized; those fields were compared using Placeholder instead.
type Result struct {
	Changes  audit.Changes
	Failures []string
}

// Diff compares old and new over fields and returns a change for every field
// whose display form differs. A field missing from a snapshot is treated as
// nil. Fields outside the list are never read.
func Diff(old, new Snapshot, fields []string) Result {
	res := Result{Changes: audit.Changes{}}
	for _, field := range fields {
		oldVal, oldInOld := old[field]
		newVal, newInNew := new[field]
		if !oldInOld && !newInNew {
			continue
		}

		oldText, oldErr := Display(oldVal)
		newText, newErr := Display(newVal)
		if oldErr != nil || newErr != nil {
			res.Failures = append(res.Failures, field)
		}
		if equal(oldText, newText) {
			continue
		}
		res.Changes[field] = audit.Change{Old: oldText, New: newText}
	}
	return res
}

func equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
