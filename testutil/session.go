package testutil

import (
	"reflect"

	"github.com/dan-strohschein/stash/intercept"
)

// FakeTracker is a scripted change tracker.
type FakeTracker struct {
	Tracked []intercept.TrackedEntry
}

// Entries returns the scripted entries.
func (t *FakeTracker) Entries() []intercept.TrackedEntry {
	return t.Tracked
}

// FakeModel maps entity values to entity types by their Go type name.
type FakeModel struct {
	Types map[string]*intercept.EntityType
}

// NewFakeModel creates an empty model.
func NewFakeModel() *FakeModel {
	return &FakeModel{Types: map[string]*intercept.EntityType{}}
}

// Register maps the dynamic type of prototype to an entity type.
func (m *FakeModel) Register(prototype interface{}, entityType *intercept.EntityType) *FakeModel {
	m.Types[typeName(prototype)] = entityType
	return m
}

// FindEntityType resolves an entity by its dynamic type.
func (m *FakeModel) FindEntityType(entity interface{}) (*intercept.EntityType, bool) {
	entityType, ok := m.Types[typeName(entity)]
	return entityType, ok
}

// FakeSession bundles a tracker and a model under one session identity.
type FakeSession struct {
	Tracker *FakeTracker
	Mapping *FakeModel
}

// NewFakeSession creates a session with an empty tracker and model.
func NewFakeSession() *FakeSession {
	return &FakeSession{
		Tracker: &FakeTracker{},
		Mapping: NewFakeModel(),
	}
}

// Track appends a tracked entry.
func (s *FakeSession) Track(entity interface{}, state intercept.EntityState) *FakeSession {
	s.Tracker.Tracked = append(s.Tracker.Tracked, intercept.TrackedEntry{
		Entity: entity,
		State:  state,
	})
	return s
}

// ChangeTracker implements intercept.Session.
func (s *FakeSession) ChangeTracker() intercept.ChangeTracker { return s.Tracker }

// Model implements intercept.Session.
func (s *FakeSession) Model() intercept.EntityModel { return s.Mapping }

var _ intercept.Session = (*FakeSession)(nil)

func typeName(v interface{}) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
