package streams

import "fmt"

const (
	EventCourseChange = "course.change"
	VersionV1         = "v1"
)

// Definition is one schema managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventCourseChange,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "channel_id", "resource_id", "resource_name", "summary", "lines", "detected_at"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "channel_id": {"type": "string", "minLength": 1},
    "resource_id": {"type": "integer"},
    "resource_name": {"type": "string"},
    "resource_url": {"type": "string"},
    "summary": {"type": "string", "minLength": 1},
    "lines": {"type": "array", "minItems": 1, "items": {"type": "string"}},
    "footer": {"type": "string"},
    "detected_at": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
}

func BaseDefinitions() []Definition {
	out := make([]Definition, len(baseDefinitions))
	copy(out, baseDefinitions)
	return out
}

// RegisterBaseSchemas registers every built-in event schema.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	for _, def := range baseDefinitions {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
