package model

import (
	"sort"
	"strings"
)

// LabelSet identifies a log stream. Two sets are equal iff they hold the
// same key/value pairs, regardless of insertion order.
type LabelSet map[string]string

// Clone returns a copy that can be mutated independently.
func (ls LabelSet) Clone() LabelSet {
	out := make(LabelSet, len(ls))
	for k, v := range ls {
		out[k] = v
	}
	return out
}

// Merge returns ls overlaid with over; keys in over win. Neither input is
// mutated. Merging a set with itself yields an equal set.
func (ls LabelSet) Merge(over LabelSet) LabelSet {
	out := ls.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Equal reports whether the two sets hold identical pairs.
func (ls LabelSet) Equal(other LabelSet) bool {
	if len(ls) != len(other) {
		return false
	}
	for k, v := range ls {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Key returns a deterministic grouping key: sorted key=value pairs joined
// with commas. Used to group entries sharing a label set into one stream.
func (ls LabelSet) Key() string {
	keys := make([]string, 0, len(ls))
	for k := range ls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(ls[k])
	}
	return b.String()
}
