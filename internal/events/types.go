package events

import (
	"time"
)

// Entity type constants. Every mutation in the coordination core is emitted
// against one of these.
const (
	EntityTask   = "task"
	EntityLock   = "lock"
	EntityMemory = "memory"
)

// Common field names for Change events.
const (
	FieldStatus   = "status"
	FieldOwner    = "owner"
	FieldHolder   = "holder"
	FieldValue    = "value"
	FieldMessages = "messages"
)

// Change describes a single observed mutation: which entity, which field,
// the value before and after, and who caused it. Per entity, emission order
// matches mutation order: producers publish while still inside the entity's
// critical section.
type Change struct {
	EntityType string
	EntityID   string
	Field      string
	OldValue   any
	NewValue   any
	Timestamp  time.Time
	ActorID    string
}
