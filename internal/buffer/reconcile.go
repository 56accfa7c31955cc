package buffer

import "github.com/loudthoughts/loudthoughts/internal/provider"

// Reconcile keeps one note per id: the last occurrence, at the position of
// that last occurrence. [1a 2x 1b] yields [2x 1b].
func Reconcile(entries []Entry) []provider.Note {
	if len(entries) == 0 {
		return nil
	}
	last := make(map[string]int, len(entries))
	for i, entry := range entries {
		last[entry.Data.ID] = i
	}
	notes := make([]provider.Note, 0, len(last))
	for i, entry := range entries {
		if last[entry.Data.ID] == i {
			notes = append(notes, entry.Data)
		}
	}
	return notes
}
