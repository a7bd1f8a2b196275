package tabletop

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/buger/jsonparser"
)

// ItemID extracts the "id" field of an opaque item. Numeric ids are returned
// in their JSON text form. Items without an id yield "".
func ItemID(item json.RawMessage) string {
	value, dataType, _, err := jsonparser.Get(item, "id")
	if err != nil {
		return ""
	}
	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return ""
		}
		return s
	case jsonparser.Number:
		if f, err := strconv.ParseFloat(string(value), 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return string(value)
	}
	return ""
}

func cloneItems(items []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	copy(out, items)
	return out
}

func appendItem(items []json.RawMessage, item json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items)+1)
	out = append(out, items...)
	return append(out, item)
}

// replaceItem swaps the first item whose id matches. When nothing matches the
// input is returned unchanged with false.
func replaceItem(items []json.RawMessage, item json.RawMessage) ([]json.RawMessage, bool) {
	id := ItemID(item)
	if id == "" {
		return items, false
	}
	for i, existing := range items {
		if ItemID(existing) == id {
			out := cloneItems(items)
			out[i] = item
			return out, true
		}
	}
	return items, false
}

func removeItem(items []json.RawMessage, id string) ([]json.RawMessage, bool) {
	out := make([]json.RawMessage, 0, len(items))
	for _, existing := range items {
		if ItemID(existing) == id {
			continue
		}
		out = append(out, existing)
	}
	if len(out) == len(items) {
		return items, false
	}
	return out, true
}

// AddMap appends a map to the live layers and returns the new collection.
func (s *Session) AddMap(item json.RawMessage) []json.RawMessage {
	live := s.Live()
	live.Maps = appendItem(live.Maps, item)
	return live.Maps
}

// UpdateMap replaces the map with the same id. ok is false when no map
// matched, in which case nothing changed.
func (s *Session) UpdateMap(item json.RawMessage) (maps []json.RawMessage, ok bool) {
	live := s.Live()
	live.Maps, ok = replaceItem(live.Maps, item)
	return live.Maps, ok
}

// DeleteMap removes every map with the given id.
func (s *Session) DeleteMap(id string) (maps []json.RawMessage, ok bool) {
	live := s.Live()
	live.Maps, ok = removeItem(live.Maps, id)
	return live.Maps, ok
}

// AddEntity appends an entity to the live layers.
func (s *Session) AddEntity(item json.RawMessage) []json.RawMessage {
	live := s.Live()
	live.Entities = appendItem(live.Entities, item)
	return live.Entities
}

// UpdateEntity replaces the entity with the same id.
func (s *Session) UpdateEntity(item json.RawMessage) (entities []json.RawMessage, ok bool) {
	live := s.Live()
	live.Entities, ok = replaceItem(live.Entities, item)
	return live.Entities, ok
}

// DeleteEntity removes every entity with the given id.
func (s *Session) DeleteEntity(id string) (entities []json.RawMessage, ok bool) {
	live := s.Live()
	live.Entities, ok = removeItem(live.Entities, id)
	return live.Entities, ok
}

// SetTokens replaces the whole token list. Last writer wins.
func (s *Session) SetTokens(tokens []json.RawMessage) []json.RawMessage {
	if tokens == nil {
		tokens = []json.RawMessage{}
	}
	live := s.Live()
	live.Tokens = cloneItems(tokens)
	return live.Tokens
}

// AppendDrawing adds one stroke and returns its position in the list.
func (s *Session) AppendDrawing(drawing json.RawMessage) int {
	live := s.Live()
	live.Drawings = appendItem(live.Drawings, drawing)
	return len(live.Drawings) - 1
}

// ClearDrawings empties the live drawing list.
func (s *Session) ClearDrawings() {
	s.Live().Drawings = []json.RawMessage{}
}

// SetFog replaces the live fog image. A nil image clears it.
func (s *Session) SetFog(image *string) {
	live := s.Live()
	if image == nil {
		live.FogImage = nil
		return
	}
	fog := *image
	live.FogImage = &fog
}

// SetGrid replaces the grid settings.
func (s *Session) SetGrid(grid GridSettings) {
	s.Grid = grid
}

// tokensChanged lists the ids of tokens that were added, removed or altered
// between two full token lists.
func tokensChanged(prev, next []json.RawMessage) []string {
	before := indexByID(prev)
	after := indexByID(next)

	var changed []string
	for id, item := range after {
		old, ok := before[id]
		if !ok || !sameJSON(old, item) {
			changed = append(changed, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			changed = append(changed, id)
		}
	}
	return changed
}

func indexByID(items []json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(items))
	for _, item := range items {
		out[ItemID(item)] = item
	}
	return out
}

func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
