// Package bunadapter binds the cache to a bun.DB: the model resolver maps
// entities to their bun table metadata, and the query hook invalidates
// tags when write statements succeed.
package bunadapter

import (
	"reflect"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/stashql/stash/interceptor"
)

// Model resolves entities to table names through bun's schema registry.
type Model struct {
	db *bun.DB
}

var _ interceptor.Model = (*Model)(nil)

// NewModel wraps the database's schema registry.
func NewModel(db *bun.DB) *Model {
	return &Model{db: db}
}

// FindEntityType returns the bun table mapped to the entity's struct type.
// Has-one relations are reported as owned navigations: their rows live or
// die with the parent, so a parent write dirties their tables too.
func (m *Model) FindEntityType(entity any) (interceptor.EntityInfo, bool) {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return interceptor.EntityInfo{}, false
	}

	table := m.db.Table(t)
	if table == nil || table.Name == "" {
		return interceptor.EntityInfo{}, false
	}

	info := interceptor.EntityInfo{TableName: table.Name}
	for _, rel := range table.Relations {
		if rel.JoinTable == nil {
			continue
		}
		info.Navigations = append(info.Navigations, interceptor.Navigation{
			TableName: rel.JoinTable.Name,
			Owned:     rel.Type == schema.HasOneRelation,
		})
	}
	return info, true
}
