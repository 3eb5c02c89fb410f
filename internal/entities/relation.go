package entities

// RelationTarget is one allowed target of a relation.
// A bare target ("@user") allows any instance of the type as subject.
// A locked target ("@team#member") allows a subject set: the instances
// reachable through the named relation on the target type.
type RelationTarget struct {
	Type     string // Target entity type (e.g., "user", "team")
	Relation string // Required relation on the target type; empty for bare targets
}

// Locked reports whether the target requires a subject-set reference.
func (t *RelationTarget) Locked() bool {
	return t.Relation != ""
}

// Relation represents a relation definition in the schema
// Example: "relation owner @user" or "relation maintainer @user @team#member"
type Relation struct {
	Name    string            // Relation name (e.g., "owner", "maintainer", "parent")
	Targets []*RelationTarget // One or more allowed targets
}

// TargetTypes returns the entity types named by the relation's targets.
func (r *Relation) TargetTypes() []string {
	seen := make(map[string]bool, len(r.Targets))
	types := make([]string, 0, len(r.Targets))
	for _, t := range r.Targets {
		if !seen[t.Type] {
			seen[t.Type] = true
			types = append(types, t.Type)
		}
	}
	return types
}
