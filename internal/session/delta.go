package session

import "strings"

// deltaAccumulator collects partial transcript text per provider item id
// until the completed event for that item arrives.
type deltaAccumulator struct {
	parts map[string]*strings.Builder
}

func newDeltaAccumulator() *deltaAccumulator {
	return &deltaAccumulator{parts: make(map[string]*strings.Builder)}
}

// add appends a delta to the item's pending text.
func (a *deltaAccumulator) add(itemID, delta string) {
	if itemID == "" || delta == "" {
		return
	}
	b, ok := a.parts[itemID]
	if !ok {
		b = &strings.Builder{}
		a.parts[itemID] = b
	}
	b.WriteString(delta)
}

// flush returns the accumulated text for an item and forgets it. Returns ""
// if nothing accumulated.
func (a *deltaAccumulator) flush(itemID string) string {
	b, ok := a.parts[itemID]
	if !ok {
		return ""
	}
	delete(a.parts, itemID)
	return b.String()
}

// pending returns the number of items with accumulated text.
func (a *deltaAccumulator) pending() int {
	return len(a.parts)
}
