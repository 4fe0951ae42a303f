// Package interceptor hooks the cache into the ORM's command and save
// pipelines: reads are served from or admitted to the cache store, writes
// invalidate the tags they touch, and a manual API covers everything the
// automatic paths cannot see.
package interceptor

// EntityState is the change-tracker state of a tracked entity.
type EntityState int

const (
	StateUnchanged EntityState = iota
	StateAdded
	StateModified
	StateDeleted
	StateDetached
)

func (s EntityState) String() string {
	switch s {
	case StateUnchanged:
		return "Unchanged"
	case StateAdded:
		return "Added"
	case StateModified:
		return "Modified"
	case StateDeleted:
		return "Deleted"
	case StateDetached:
		return "Detached"
	default:
		return "Unknown"
	}
}

// dirty reports whether the state marks a pending database write.
func (s EntityState) dirty() bool {
	return s == StateAdded || s == StateModified || s == StateDeleted
}

// ChangeEntry is one tracked entity and its pending state.
type ChangeEntry struct {
	Entity any
	State  EntityState
}

// ChangeTracker enumerates the entities a session will write on save.
type ChangeTracker interface {
	Entries() []ChangeEntry
}

// Navigation is a relation hanging off an entity type. Owned navigations
// share the parent's save lifecycle, so their tables are invalidated along
// with the parent's.
type Navigation struct {
	TableName string
	Owned     bool
}

// EntityInfo is what the ORM model knows about an entity type.
type EntityInfo struct {
	TableName   string
	Navigations []Navigation
}

// Model resolves entities to their mapped tables.
type Model interface {
	// FindEntityType returns the mapping for the entity's type, reporting
	// false when the type is not part of the model.
	FindEntityType(entity any) (EntityInfo, bool)
}

// Session is the slice of an ORM unit-of-work the save interceptor needs.
// The pending-invalidation slot is keyed by this value, so implementations
// must be comparable and stable for the lifetime of the save.
type Session interface {
	ChangeTracker() ChangeTracker
	Model() Model
}
