package entity

import (
	"fmt"
	"strings"
)

// Kind is the closed set of OSM entity kinds stored in an arena.
type Kind uint8

const (
	KindNode Kind = iota
	KindWay
	KindRelation
	KindArea
	KindChangeset
	numKinds
)

var kindNames = [numKinds]string{"node", "way", "relation", "area", "changeset"}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind returns the kind for its lower-case name.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown entity kind %q", s)
}

// KindSet is a bitset of entity kinds, used to select what a reader emits.
type KindSet uint8

// AllKinds selects every kind.
const AllKinds KindSet = 1<<numKinds - 1

// NewKindSet builds a set from the given kinds.
func NewKindSet(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// With returns s plus k.
func (s KindSet) With(k Kind) KindSet {
	return s | 1<<k
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return k < numKinds && s&(1<<k) != 0
}

// Empty reports whether the set selects nothing.
func (s KindSet) Empty() bool {
	return s == 0
}

func (s KindSet) String() string {
	var parts []string
	for k := Kind(0); k < numKinds; k++ {
		if s.Has(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, ",")
}

// ParseKindSet parses a comma separated list of kind names.
func ParseKindSet(s string) (KindSet, error) {
	var set KindSet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := ParseKind(part)
		if err != nil {
			return 0, err
		}
		set = set.With(k)
	}
	return set, nil
}
