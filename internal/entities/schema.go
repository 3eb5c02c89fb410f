package entities

import "time"

// Schema represents one compiled, immutable schema version for a tenant.
// Publishing a new version never mutates an existing one; in-flight
// evaluations keep using the version they started with.
type Schema struct {
	TenantID  string            // Tenant identifier
	Version   string            // Schema version token (ULID, monotonic per tenant)
	DSL       string            // Original DSL text
	Rules     []*RuleDefinition // Top-level rule definitions
	Entities  []*Entity         // Entity definitions
	CreatedAt time.Time
}

// SchemaVersion is a lightweight schema version descriptor for listing.
type SchemaVersion struct {
	Version   string
	CreatedAt time.Time
}

// GetEntity returns the entity definition by name
func (s *Schema) GetEntity(name string) *Entity {
	for _, e := range s.Entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// GetRule resolves a rule name for the given entity: entity-scoped rules
// shadow top-level rules of the same name.
func (s *Schema) GetRule(entityType, name string) *RuleDefinition {
	if entity := s.GetEntity(entityType); entity != nil {
		if r := entity.GetRule(name); r != nil {
			return r
		}
	}
	for _, r := range s.Rules {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// GetPermission returns the permission definition for a given entity type and
// permission name, or nil when either is unknown.
func (s *Schema) GetPermission(entityType, permissionName string) *Permission {
	entity := s.GetEntity(entityType)
	if entity == nil {
		return nil
	}
	return entity.GetPermission(permissionName)
}
