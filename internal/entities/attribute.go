package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// Attribute represents one stored attribute value.
// Example: repository:1.public = true
type Attribute struct {
	EntityType string      // Entity type (e.g., "repository")
	EntityID   string      // Entity ID (e.g., "1")
	Name       string      // Attribute name (e.g., "public", "ip_range")
	Value      interface{} // Typed value (bool, string, int64, float64 or a slice)
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// String returns "entity_type:entity_id.name = value".
func (a *Attribute) String() string {
	return fmt.Sprintf("%s:%s.%s = %v", a.EntityType, a.EntityID, a.Name, a.Value)
}

// Validate checks that all required attribute fields are present.
func (a *Attribute) Validate() error {
	if a.EntityType == "" {
		return fmt.Errorf("entity type is required")
	}
	if a.EntityID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if a.Name == "" {
		return fmt.Errorf("attribute name is required")
	}
	if a.Value == nil {
		return fmt.Errorf("attribute value is required")
	}
	return nil
}

// MarshalValue serializes the attribute value to a JSON string for storage.
func (a *Attribute) MarshalValue() (string, error) {
	data, err := json.Marshal(a.Value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attribute value: %w", err)
	}
	return string(data), nil
}

// UnmarshalValue deserializes a stored JSON string into the attribute value.
func (a *Attribute) UnmarshalValue(data string) error {
	if err := json.Unmarshal([]byte(data), &a.Value); err != nil {
		return fmt.Errorf("failed to unmarshal attribute value: %w", err)
	}
	return nil
}
