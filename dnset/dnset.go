// Package dnset implements the domain-name store: a sorted set of
// reversed label sequences supporting longest-suffix lookup, with exact
// and wildcard entries.
package dnset

import (
	"errors"
	"sort"
	"strings"
)

// ErrBadName is returned when a domain name cannot be normalized (empty
// label, label too long, etc).
var ErrBadName = errors.New("dnset: malformed domain name")

// entry is a single load-time record: rev is the reversed, NUL-separated
// label sequence (e.g. "com\x00bar\x00foo\x00" for "foo.bar.com"),
// wildcard marks a sub-domain-matching entry (source: a leading '.'), seq
// is insertion order for equal-key tie-break.
type entry struct {
	rev      string
	value    int
	wildcard bool
	seq      int
}

// Set is a domain-name store. The zero Set accepts Add calls; Finalize
// must run before Lookup is used.
type Set struct {
	pending []entry
	sorted  []entry
	final   bool
}

// Add registers name (ordinary dotted form, e.g. "bad.example" or, with a
// leading dot, ".bad.example" for a wildcard entry matching any strict
// sub-domain) with the given classification value.
func (s *Set) Add(name string, value int) error {
	wildcard := strings.HasPrefix(name, ".")
	if wildcard {
		name = name[1:]
	}
	labels, err := normalize(name)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, entry{rev: reverseLabels(labels), value: value, wildcard: wildcard, seq: len(s.pending)})
	s.final = false
	return nil
}

// Finalize sorts the entries lexicographically over their reversed form.
// Two entries may share a reversed form only if one is wildcard and the
// other exact (they key independently); among duplicates at the same
// (rev, wildcard) pair the later-inserted value wins.
func (s *Set) Finalize() {
	pending := make([]entry, len(s.pending))
	copy(pending, s.pending)
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].rev != pending[j].rev {
			return pending[i].rev < pending[j].rev
		}
		if pending[i].wildcard != pending[j].wildcard {
			return !pending[i].wildcard // exact sorts before wildcard at equal rev
		}
		return pending[i].seq < pending[j].seq
	})

	var out []entry
	for _, e := range pending {
		if n := len(out); n > 0 && out[n-1].rev == e.rev && out[n-1].wildcard == e.wildcard {
			out[n-1] = e // later insertion wins
			continue
		}
		out = append(out, e)
	}
	s.sorted = out
	s.final = true
}

// Lookup finds the most specific entry admitting name: the full name
// itself must hit a non-wildcard (exact) entry to count as an exact
// match; failing that, each successively shorter ancestor is checked for
// a wildcard entry, which admits name as a strict sub-domain. Querying
// one binary search per ancestor level (rather than a single global
// predecessor probe) keeps unrelated sibling entries from masking a
// wildcard higher up the tree.
func (s *Set) Lookup(name string) (value int, found bool, exact bool) {
	labels, err := normalize(strings.TrimPrefix(name, "."))
	if err != nil {
		return 0, false, false
	}

	for i := 0; i <= len(labels); i++ {
		rev := reverseLabels(labels[i:])
		lo := sort.Search(len(s.sorted), func(j int) bool { return s.sorted[j].rev >= rev })
		for j := lo; j < len(s.sorted) && s.sorted[j].rev == rev; j++ {
			e := s.sorted[j]
			if i == 0 && !e.wildcard {
				return e.value, true, true
			}
			if i > 0 && e.wildcard {
				return e.value, true, false
			}
		}
	}
	return 0, false, false
}

// normalize lowercases name, drops a trailing dot, and splits it into
// labels, validating each one.
func normalize(name string) ([]string, error) {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	if name == "" {
		return nil, nil // the root name
	}
	labels := strings.Split(name, ".")
	for _, l := range labels {
		if l == "" || len(l) > 63 {
			return nil, ErrBadName
		}
	}
	return labels, nil
}

// reverseLabels joins labels from root to leaf (i.e. the reverse of
// left-to-right dotted order) separated and terminated by NUL, so that
// lexicographic order on the result matches suffix order on the original
// name.
func reverseLabels(labels []string) string {
	if len(labels) == 0 {
		return "\x00"
	}
	var b strings.Builder
	for i := len(labels) - 1; i >= 0; i-- {
		b.WriteString(labels[i])
		b.WriteByte(0)
	}
	return b.String()
}

// Len returns the number of finalized entries.
func (s *Set) Len() int { return len(s.sorted) }

// NameEntry is one finalized entry in ordinary dotted form (leading '.'
// marking a wildcard is NOT included; see Wildcard instead), exported so a
// snapshot cache can persist and restore a Set without reaching into its
// reversed internal representation.
type NameEntry struct {
	Name     string
	Value    int
	Wildcard bool
}

// Snapshot returns every finalized entry. Valid only after Finalize.
func (s *Set) Snapshot() []NameEntry {
	out := make([]NameEntry, len(s.sorted))
	for i, e := range s.sorted {
		out[i] = NameEntry{Name: strings.Join(revToLabels(e.rev), "."), Value: e.value, Wildcard: e.wildcard}
	}
	return out
}

// RestoreSet rebuilds a finalized Set directly from previously snapshotted
// entries.
func RestoreSet(entries []NameEntry) (*Set, error) {
	s := &Set{}
	for _, e := range entries {
		name := e.Name
		if e.Wildcard {
			name = "." + name
		}
		if err := s.Add(name, e.Value); err != nil {
			return nil, err
		}
	}
	s.Finalize()
	return s, nil
}

// revToLabels inverts reverseLabels: it splits a NUL-terminated,
// root-to-leaf reversed form back into ordinary leaf-to-root (dotted
// order) labels.
func revToLabels(rev string) []string {
	trimmed := strings.TrimSuffix(rev, "\x00")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "\x00")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}
