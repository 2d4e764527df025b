package entity

import "testing"

func TestKindSet(t *testing.T) {
	s := NewKindSet(KindWay, KindRelation)
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNode, false},
		{KindWay, true},
		{KindRelation, true},
		{KindArea, false},
		{KindChangeset, false},
	}
	for _, tt := range tests {
		if got := s.Has(tt.kind); got != tt.want {
			t.Errorf("Has(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
	if s.String() != "way,relation" {
		t.Errorf("String() = %q, want %q", s.String(), "way,relation")
	}
	if !KindSet(0).Empty() {
		t.Error("zero set should be empty")
	}
	if !AllKinds.Has(KindChangeset) {
		t.Error("AllKinds should contain changeset")
	}
}

func TestParseKindSet(t *testing.T) {
	s, err := ParseKindSet("node, way")
	if err != nil {
		t.Fatalf("ParseKindSet: %v", err)
	}
	if s != NewKindSet(KindNode, KindWay) {
		t.Errorf("ParseKindSet = %v, want node,way", s)
	}
	if _, err := ParseKindSet("node,tag"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
