package types

// Event is a typed record emitted by a contract invocation. Attributes are
// flat strings so events can be journaled and streamed without a schema.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (e Event) EventType() string { return e.Type }

// Attribute returns the value stored under key, if any.
func (e Event) Attribute(key string) (string, bool) {
	v, ok := e.Attributes[key]
	return v, ok
}
