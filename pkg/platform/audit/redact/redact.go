// Package redact masks sensitive field values before they reach storage.
package redact

import (
	"strings"

	"auditlog/pkg/platform/audit"
)

// Mask replaces both sides of a redacted change. The original value is not
// recoverable from an entry.
const Mask = "***"

// builtin is redacted for every type, matched case-insensitively.
var builtin = map[string]struct{}{
	"password":      {},
	"passwd":        {},
	"secret":        {},
	"token":         {},
	"api_key":       {},
	"apikey":        {},
	"access_token":  {},
	"refresh_token": {},
	"client_secret": {},
	"private_key":   {},
	"credentials":   {},
}

// IsSensitive reports whether field is in the built-in set or in extra.
// Both comparisons ignore case.
func IsSensitive(field string, extra ...string) bool {
	lower := strings.ToLower(field)
	if _, ok := builtin[lower]; ok {
		return true
	}
	for _, f := range extra {
		if strings.EqualFold(f, field) {
			return true
		}
	}
	return false
}

// Apply returns a copy of changes in which every sensitive field has both
// values replaced by Mask. changes is not modified.
func Apply(changes audit.Changes, fields []string) audit.Changes {
	if changes == nil {
		return nil
	}
	out := make(audit.Changes, len(changes))
	for field, ch := range changes {
		if IsSensitive(field, fields...) {
			ch = audit.Change{Old: masked(), New: masked()}
		}
		out[field] = ch
	}
	return out
}

func masked() *string {
	m := Mask
	return &m
}
