package domain

// StreamEvent is a raw item produced by an agent stream. Events come in
// heterogeneous shapes; the two access styles that can carry text are
// described by Mapping and Attributed. A value may implement both.
type StreamEvent any

// Mapping is implemented by events that support keyed access.
type Mapping interface {
	Lookup(key string) (any, bool)
}

// Attributed is implemented by events that expose named attributes.
type Attributed interface {
	Attr(name string) (any, bool)
}

// MapEvent is a keyed-mapping event, e.g. {"data": "Hel"} or
// {"delta": {"text": "Hel"}}.
type MapEvent map[string]any

// Lookup implements Mapping.
func (m MapEvent) Lookup(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// ObjectEvent is an attribute-bearing event. A nil field means the
// attribute is absent.
type ObjectEvent struct {
	Data any
	Text any
}

// Attr implements Attributed.
func (o ObjectEvent) Attr(name string) (any, bool) {
	switch name {
	case "data":
		return o.Data, o.Data != nil
	case "text":
		return o.Text, o.Text != nil
	}
	return nil, false
}

// AgentEvent is one item on an agent stream. A non-nil Err is terminal.
type AgentEvent struct {
	Event StreamEvent
	Err   error
}
