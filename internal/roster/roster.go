// Package roster decides which subjects take part in population statistics.
package roster

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSubjectExcluded is returned when an excluded subject reaches analysis.
var ErrSubjectExcluded = errors.New("roster: subject is excluded")

// ExclusionSet is an immutable set of subject identifiers kept out of every
// aggregate. It is safe for concurrent use because nothing mutates it after
// construction.
type ExclusionSet struct {
	ids map[string]struct{}
}

// NewExclusionSet builds the set from a configuration list. Identifiers are
// trimmed; empty entries are ignored.
func NewExclusionSet(ids []string) *ExclusionSet {
	s := &ExclusionSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		s.ids[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is excluded. A nil set excludes nothing.
func (s *ExclusionSet) Contains(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of excluded identifiers.
func (s *ExclusionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns the excluded identifiers in sorted order.
func (s *ExclusionSet) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Eligible filters roster down to subjects not in the set, preserving order
// and dropping duplicates. The second return value lists the skipped ids.
func (s *ExclusionSet) Eligible(roster []string) (eligible, skipped []string) {
	seen := make(map[string]struct{}, len(roster))
	for _, id := range roster {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if s.Contains(id) {
			skipped = append(skipped, id)
			continue
		}
		eligible = append(eligible, id)
	}
	return eligible, skipped
}

// CheckEligible returns ErrSubjectExcluded when id is in the set.
func (s *ExclusionSet) CheckEligible(id string) error {
	if s.Contains(id) {
		return fmt.Errorf("%w: %s", ErrSubjectExcluded, id)
	}
	return nil
}
