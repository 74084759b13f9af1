package store

import (
	"fmt"
	"sort"
)

// Write is one subtree replacement: everything at and below Path is removed,
// scalar leaves on the way down to Path are removed, then Leaves are stored.
type Write struct {
	Path   string
	Leaves map[string]any
}

// PlanSet validates a Set and flattens its value.
func PlanSet(path string, value any) (Write, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return Write{}, err
	}
	leaves, err := Flatten(clean, value)
	if err != nil {
		return Write{}, err
	}
	return Write{Path: clean, Leaves: leaves}, nil
}

// PlanUpdate validates a multi-path update.  Target paths may not overlap each
// other, since the result would depend on application order.
func PlanUpdate(base string, values map[string]any) ([]Write, error) {
	cleanBase, err := CleanPath(base)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writes := make([]Write, 0, len(keys))
	for _, k := range keys {
		rel, err := CleanPath(k)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			return nil, fmt.Errorf("%w: empty update key", ErrInvalidPath)
		}
		w, err := PlanSet(Join(cleanBase, rel), values[k])
		if err != nil {
			return nil, err
		}
		for _, prev := range writes {
			if Overlaps(prev.Path, w.Path) {
				return nil, fmt.Errorf("%w: overlapping update paths %q and %q", ErrInvalidPath, prev.Path, w.Path)
			}
		}
		writes = append(writes, w)
	}
	return writes, nil
}

// Paths lists the target paths of writes, for change notification.
func Paths(writes []Write) []string {
	out := make([]string, len(writes))
	for i, w := range writes {
		out[i] = w.Path
	}
	return out
}
