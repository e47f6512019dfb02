// Package summary renders stored diffs for people: a bounded one-line summary
// and a numbered change table. Output is plain data; escaping for the final
// medium (HTML, terminal) belongs to whoever displays it.
package summary

import (
	"fmt"
	"strings"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/redact"
)

const (
	// MaxFieldsLength bounds the field list in Short, ellipsis excluded.
	MaxFieldsLength = 75
	// Ellipsis marks a truncated field list.
	Ellipsis = " .."
	// Unavailable is shown when a stored diff could not be decoded.
	Unavailable = "changes unavailable"
)

// Header labels the columns of a Table.
var Header = [4]string{"#", "Field", "From", "To"}

// Short returns "<N> change(s): <fields>" with fields sorted and joined by
// ", ". A list longer than MaxFieldsLength is cut at the last space before the
// limit and Ellipsis is appended, so a field name is never split. Entries
// without a diff (delete, view, access denied) render as "".
func Short(e audit.LogEntry) string {
	if !e.Action.CarriesChanges() {
		return ""
	}
	if e.ChangesUnavailable {
		return Unavailable
	}
	fields := e.Changes.Fields()
	plural := "s"
	if len(fields) == 1 {
		plural = ""
	}
	return fmt.Sprintf("%d change%s: %s", len(fields), plural, truncate(strings.Join(fields, ", ")))
}

func truncate(s string) string {
	if len(s) <= MaxFieldsLength {
		return s
	}
	i := strings.LastIndex(s[:MaxFieldsLength], " ")
	if i < 0 {
		// a single field name longer than the budget
		return strings.TrimSpace(Ellipsis)
	}
	return s[:i] + Ellipsis
}

// Row is one line of a Table. Old and New are nil for null values.
type Row struct {
	Number int     `json:"number"`
	Field  string  `json:"field"`
	Old    *string `json:"from"`
	New    *string `json:"to"`
}

// Table is the full rendering of an entry's diff.
type Table struct {
	Rows        []Row `json:"rows"`
	Unavailable bool  `json:"unavailable,omitempty"`
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Full returns one row per changed field in lexicographic field order,
// numbered from 1. Sensitive fields (the built-in set plus redactFields) show
// redact.Mask whatever the stored values are.
func Full(e audit.LogEntry, redactFields ...string) Table {
	if !e.Action.CarriesChanges() {
		return Table{Rows: []Row{}}
	}
	if e.ChangesUnavailable {
		return Table{Rows: []Row{}, Unavailable: true}
	}

	fields := e.Changes.Fields()
	rows := make([]Row, 0, len(fields))
	for i, field := range fields {
		ch := e.Changes[field]
		row := Row{Number: i + 1, Field: field, Old: ch.Old, New: ch.New}
		if redact.IsSensitive(field, redactFields...) {
			mask := redact.Mask
			row.Old, row.New = &mask, &mask
		}
		rows = append(rows, row)
	}
	return Table{Rows: rows}
}
