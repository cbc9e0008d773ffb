package pointtapi

// Node field names.
const (
	FieldID         = "id"
	FieldType       = "type"
	FieldValue      = "value"
	FieldReferences = "references"

	// TypeRefEnum marks a node whose references are containers that must
	// themselves be expanded one more level.
	TypeRefEnum = "refEnum"
)

// Node is one decoded resource document.
type Node map[string]any

// AsNode reports whether body is a JSON object and returns it as a Node.
func AsNode(body any) (Node, bool) {
	switch v := body.(type) {
	case Node:
		return v, true
	case map[string]any:
		return Node(v), true
	default:
		return nil, false
	}
}

// ID is the node's own path.
func (n Node) ID() string {
	s, _ := n[FieldID].(string)
	return s
}

// Type is the node's type tag, e.g. "floatValue" or "refEnum".
func (n Node) Type() string {
	s, _ := n[FieldType].(string)
	return s
}

// IsRefEnum reports whether the node's references need one more level.
func (n Node) IsRefEnum() bool {
	return n.Type() == TypeRefEnum
}

// Value returns the "value" field and whether it is present.
func (n Node) Value() (any, bool) {
	v, ok := n[FieldValue]
	return v, ok
}

// References returns the declared reference paths in server order.
// Entries without a non-empty string id are dropped.
func (n Node) References() []string {
	raw, ok := n[FieldReferences].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))

	for _, r := range raw {
		ref, ok := AsNode(r)
		if !ok {
			continue
		}

		if id := ref.ID(); id != "" {
			out = append(out, id)
		}
	}

	return out
}
