package models

import (
	"encoding/json"
	"maps"
	"slices"
)

// Document is the editable site content: section name to an opaque JSON payload.
type Document map[string]json.RawMessage

// Clone returns a copy that shares no memory with d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for name, raw := range d {
		out[name] = append(json.RawMessage(nil), raw...)
	}
	return out
}

// SectionNames returns the names present in d, sorted.
func (d Document) SectionNames() []string {
	return slices.Sorted(maps.Keys(d))
}
