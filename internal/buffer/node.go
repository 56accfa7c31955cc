package buffer

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

var nullNode = json.RawMessage("null")

// TransactFunc computes a new buffer node from the current one. The node is
// the JSON object of slot key to entry, or null when the buffer is empty.
// It may be invoked more than once when a backend retries on conflict.
type TransactFunc func(current json.RawMessage) (json.RawMessage, error)

func isNullNode(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullNode)
}

// decodeNode splits a node into its slots. Null decodes to an empty map.
func decodeNode(user string, raw json.RawMessage) (map[string]json.RawMessage, error) {
	if isNullNode(raw) {
		return map[string]json.RawMessage{}, nil
	}
	var slots map[string]json.RawMessage
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, &DataShapeError{User: user, Reason: err.Error()}
	}
	if slots == nil {
		slots = map[string]json.RawMessage{}
	}
	return slots, nil
}

// encodeNode is the inverse of decodeNode. An empty buffer is null.
func encodeNode(slots map[string]json.RawMessage) (json.RawMessage, error) {
	if len(slots) == 0 {
		return nullNode, nil
	}
	for key, raw := range slots {
		if !json.Valid(raw) {
			return nil, &DataShapeError{Reason: "slot " + key + " holds invalid json"}
		}
	}
	return json.Marshal(slots)
}

func sortedKeys(slots map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(slots))
	for key := range slots {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// entriesFromSlots decodes slots in slot key order.
func entriesFromSlots(user string, slots map[string]json.RawMessage) ([]Entry, error) {
	entries := make([]Entry, 0, len(slots))
	for _, key := range sortedKeys(slots) {
		entry, err := decodeEntry(key, slots[key])
		if err != nil {
			return nil, &DataShapeError{User: user, Reason: "slot " + key + ": " + err.Error()}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// slotDiff lists what a backend must write to move from before to after.
type slotDiff struct {
	removed []string
	written map[string]json.RawMessage
}

func diffSlots(before, after map[string]json.RawMessage) slotDiff {
	diff := slotDiff{written: map[string]json.RawMessage{}}
	for key := range before {
		if _, ok := after[key]; !ok {
			diff.removed = append(diff.removed, key)
		}
	}
	sort.Strings(diff.removed)
	for key, raw := range after {
		if prev, ok := before[key]; ok && bytes.Equal(prev, raw) {
			continue
		}
		diff.written[key] = raw
	}
	return diff
}

func (d slotDiff) empty() bool {
	return len(d.removed) == 0 && len(d.written) == 0
}

// slotColumns extracts the indexed fields of a stored slot. A missing or
// unparseable expiry yields the zero time.
func slotColumns(raw json.RawMessage) (noteID string, expiresAt time.Time) {
	var probe struct {
		Exp  json.RawMessage `json:"exp"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", time.Time{}
	}
	var exp string
	if json.Unmarshal(probe.Exp, &exp) == nil {
		if parsed, err := time.Parse(time.RFC3339Nano, exp); err == nil {
			expiresAt = parsed
		}
	}
	return probe.Data.ID, expiresAt
}
