package summary

import (
	"auditlog/pkg/platform/audit"
)

// CreatedLayout formats entry timestamps for display.
const CreatedLayout = "2006-01-02 15:04:05"

// SystemActor labels entries that have no actor.
const SystemActor = "system"

// Created formats the entry timestamp in UTC.
func Created(e audit.LogEntry) string {
	return e.Timestamp.UTC().Format(CreatedLayout)
}

// ActorLabel returns the actor's name, falling back to its ID, or SystemActor.
func ActorLabel(e audit.LogEntry) string {
	if e.Actor == nil {
		return SystemActor
	}
	if e.Actor.Name != "" {
		return e.Actor.Name
	}
	return e.Actor.ID
}

// ResourceLabel returns the resource ID, or its repr for entities without a
// scalar key.
func ResourceLabel(e audit.LogEntry) string {
	if e.ResourceID != nil {
		return *e.ResourceID
	}
	return e.ResourceRepr
}
