package models

// RegisteredExecutor describes an action executor type known to the engine:
// its identifier, human-readable name and the JSON schema of its
// configuration. Exposed on the API for authoring tools.
type RegisteredExecutor struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}
