package store

import (
	"fmt"
	"math"
	"strings"
)

// CleanPath trims surrounding slashes and validates every segment.  Segments
// may not be empty, "." or "..", and may not contain any of . # $ [ ].
func CleanPath(p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "", nil
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, ".#$[]") {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return p, nil
}

// Join joins path segments, skipping empty ones.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// IsUnder reports whether p is base itself or lies below it.
func IsUnder(p, base string) bool {
	if base == "" {
		return true
	}
	return p == base || strings.HasPrefix(p, base+"/")
}

// Overlaps reports whether a write at one path can change the snapshot of a
// subscriber at the other.
func Overlaps(a, b string) bool {
	return IsUnder(a, b) || IsUnder(b, a)
}

// Ancestors returns the strict, non-root ancestors of p, outermost first.
func Ancestors(p string) []string {
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], "/"))
	}
	return out
}

// Flatten turns a value written at path into its leaf rows.  nil and empty
// maps produce no leaves (the subtree is deleted).
func Flatten(path string, value any) (map[string]any, error) {
	out := make(map[string]any)
	if err := flattenInto(out, path, value); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out map[string]any, path string, value any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range v {
			if err := flattenChild(out, path, k, child); err != nil {
				return err
			}
		}
		return nil
	case map[string]string:
		for k, child := range v {
			if err := flattenChild(out, path, k, child); err != nil {
				return err
			}
		}
		return nil
	case map[string]bool:
		for k, child := range v {
			if err := flattenChild(out, path, k, child); err != nil {
				return err
			}
		}
		return nil
	}

	if path == "" {
		return fmt.Errorf("%w: scalar at root", ErrInvalidPath)
	}
	leaf, err := normalizeScalar(value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	out[path] = leaf
	return nil
}

func flattenChild(out map[string]any, path, key string, child any) error {
	key, err := CleanPath(key)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: empty key under %q", ErrInvalidPath, path)
	}
	return flattenInto(out, Join(path, key), child)
}

// normalizeScalar maps the Go scalar kinds callers use onto the four leaf
// types the store persists.
func normalizeScalar(v any) (any, error) {
	switch n := v.(type) {
	case string, bool, int64, float64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return float64(n), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// Assemble rebuilds the value at path from leaf rows at or below it.  Leaves
// outside path are ignored.
func Assemble(path string, leaves map[string]any) any {
	if v, ok := leaves[path]; ok && path != "" {
		return v
	}

	var root map[string]any
	for k, v := range leaves {
		if k == path || !IsUnder(k, path) {
			continue
		}
		rel := k
		if path != "" {
			rel = k[len(path)+1:]
		}
		if root == nil {
			root = make(map[string]any)
		}
		segs := strings.Split(rel, "/")
		node := root
		for _, seg := range segs[:len(segs)-1] {
			next, ok := node[seg].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[seg] = next
			}
			node = next
		}
		node[segs[len(segs)-1]] = v
	}
	if root == nil {
		return nil
	}
	return root
}

// Int64 reads an integer-valued leaf regardless of which numeric type the
// decoder produced for it.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
