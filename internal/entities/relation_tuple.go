package entities

import (
	"fmt"
	"time"
)

// RelationTuple represents one edge of the relationship graph.
// Example: repository:1#maintainer@team:core#member
// This means: the members of team "core" are maintainers of repository "1".
// SubjectRelation is empty for plain subjects (repository:1#owner@user:alice).
type RelationTuple struct {
	EntityType      string // Object entity type (e.g., "repository")
	EntityID        string // Object instance ID (e.g., "1")
	Relation        string // Relation name (e.g., "owner", "maintainer")
	SubjectType     string // Subject type (e.g., "user", "team")
	SubjectID       string // Subject instance ID (e.g., "alice", "core")
	SubjectRelation string // Sub-relation for subject-set references (e.g., "member")
	CreatedAt       time.Time
}

// String returns the tuple in the canonical
// entity_type:entity_id#relation@subject_type:subject_id[#subject_relation] form.
func (rt *RelationTuple) String() string {
	if rt.SubjectRelation != "" {
		return fmt.Sprintf("%s:%s#%s@%s:%s#%s",
			rt.EntityType, rt.EntityID, rt.Relation,
			rt.SubjectType, rt.SubjectID, rt.SubjectRelation)
	}
	return fmt.Sprintf("%s:%s#%s@%s:%s",
		rt.EntityType, rt.EntityID, rt.Relation,
		rt.SubjectType, rt.SubjectID)
}

// Validate checks that all required tuple fields are present.
func (rt *RelationTuple) Validate() error {
	if rt.EntityType == "" {
		return fmt.Errorf("entity type is required")
	}
	if rt.EntityID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if rt.Relation == "" {
		return fmt.Errorf("relation is required")
	}
	if rt.SubjectType == "" {
		return fmt.Errorf("subject type is required")
	}
	if rt.SubjectID == "" {
		return fmt.Errorf("subject ID is required")
	}
	return nil
}
