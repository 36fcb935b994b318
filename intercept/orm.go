package intercept

import "strings"

// EntityState is the change-tracking state of an entity in a session.
type EntityState int

const (
	StateUnchanged EntityState = iota
	StateAdded
	StateModified
	StateDeleted
	StateDetached
)

// String returns the string representation of the entity state.
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

// isWrite reports whether the state represents a pending write.
func (s EntityState) isWrite() bool {
	return s == StateAdded || s == StateModified || s == StateDeleted
}

// TrackedEntry is one entity the session's change tracker knows about.
type TrackedEntry struct {
	Entity interface{}
	State  EntityState
}

// ChangeTracker iterates the entities a session is tracking.
type ChangeTracker interface {
	Entries() []TrackedEntry
}

// Navigation describes a relationship from one entity type to another.
// Owned targets are persisted with their owner and share its writes.
type Navigation struct {
	TargetTableName string
	TargetIsOwned   bool
}

// EntityType is the ORM model's description of an entity type.
type EntityType struct {
	TableName   string
	Navigations []Navigation
}

// EntityModel resolves entities to their mapped types.
type EntityModel interface {
	// FindEntityType returns the mapped type for an entity instance, or
	// false when the entity is not part of the model.
	FindEntityType(entity interface{}) (*EntityType, bool)
}

// Session is the slice of an ORM session the interceptors consume. The
// session value itself is the identity the pending-invalidation slot is
// keyed by.
type Session interface {
	ChangeTracker() ChangeTracker
	Model() EntityModel
}

// modifiedTables resolves every pending write in the session to its
// table name, including the tables of owned navigations, lowercased and
// deduplicated.
func modifiedTables(session Session) []string {
	model := session.Model()
	seen := make(map[string]bool)
	var tables []string

	add := func(name string) {
		if name == "" {
			return
		}
		name = strings.ToLower(name)
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}

	for _, entry := range session.ChangeTracker().Entries() {
		if !entry.State.isWrite() {
			continue
		}

		entityType, ok := model.FindEntityType(entry.Entity)
		if !ok {
			continue
		}

		add(entityType.TableName)

		for _, nav := range entityType.Navigations {
			if nav.TargetIsOwned {
				add(nav.TargetTableName)
			}
		}
	}

	return tables
}
