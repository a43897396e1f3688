// Package events extracts plain text from the heterogeneous event shapes an
// agent stream produces.
package events

import "github.com/tjfontaine/agentcore-guard/internal/core/domain"

// Match identifies which event shape supplied the text.
type Match int

const (
	// MatchNone means the event carried no usable text.
	MatchNone Match = iota
	// MatchMapData is a mapping with a string "data" key.
	MatchMapData
	// MatchMapDelta is a mapping with "delta" -> mapping -> string "text".
	MatchMapDelta
	// MatchAttrData is an object with a string data attribute.
	MatchAttrData
	// MatchAttrText is an object with a string text attribute.
	MatchAttrText
)

func (m Match) String() string {
	switch m {
	case MatchMapData:
		return "map_data"
	case MatchMapDelta:
		return "map_delta"
	case MatchAttrData:
		return "attr_data"
	case MatchAttrText:
		return "attr_text"
	default:
		return "none"
	}
}

// Extract returns the text carried by ev, or false when there is none.
// Empty strings count as no text.
func Extract(ev domain.StreamEvent) (string, bool) {
	m, text := Classify(ev)
	return text, m != MatchNone
}

// Classify resolves ev against the known shapes in priority order. Mapping
// access is always tried before attribute access, since some SDK objects
// support both with inconsistent values. The first shape whose value is a
// string wins; if that string is empty the event carries no text.
func Classify(ev domain.StreamEvent) (Match, string) {
	m, text := classify(ev)
	if text == "" {
		return MatchNone, ""
	}
	return m, text
}

func classify(ev domain.StreamEvent) (Match, string) {
	if ev == nil {
		return MatchNone, ""
	}

	if m := asMapping(ev); m != nil {
		if text, ok := stringValue(m.Lookup("data")); ok {
			return MatchMapData, text
		}
		if delta, ok := m.Lookup("delta"); ok {
			if dm := asMapping(delta); dm != nil {
				if text, ok := stringValue(dm.Lookup("text")); ok {
					return MatchMapDelta, text
				}
			}
		}
	}

	if a, ok := ev.(domain.Attributed); ok {
		if text, ok := stringValue(a.Attr("data")); ok {
			return MatchAttrData, text
		}
		if text, ok := stringValue(a.Attr("text")); ok {
			return MatchAttrText, text
		}
	}

	return MatchNone, ""
}

// asMapping accepts both domain.Mapping implementations and plain decoded
// JSON objects.
func asMapping(v any) domain.Mapping {
	switch m := v.(type) {
	case domain.Mapping:
		return m
	case map[string]any:
		return domain.MapEvent(m)
	}
	return nil
}

func stringValue(v any, ok bool) (string, bool) {
	if !ok {
		return "", false
	}
	s, isString := v.(string)
	return s, isString
}
