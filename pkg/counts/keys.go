// Package counts tallies node and relationship counts during a check and
// verifies them against the persisted counts store.
package counts

import (
	"cmp"
	"fmt"
	"strconv"
)

// Wildcards aggregating over every label and every relationship type.
const (
	AnyLabel int64 = -1
	AnyType  int64 = -1
)

// CountKey identifies one count: either a node count for a label, or a
// relationship count for (start label, type, end label). Any component may
// be a wildcard.
type CountKey struct {
	relationship bool
	start        int64 // label for node keys
	typ          int64
	end          int64
}

// NodeKey is the key of the node count for label.
func NodeKey(label int64) CountKey {
	return CountKey{start: label}
}

// RelationshipKey is the key of the relationship count for (start, typ, end).
func RelationshipKey(start, typ, end int64) CountKey {
	return CountKey{relationship: true, start: start, typ: typ, end: end}
}

func (k CountKey) IsRelationship() bool { return k.relationship }
func (k CountKey) Label() int64         { return k.start }
func (k CountKey) Start() int64         { return k.start }
func (k CountKey) Type() int64          { return k.typ }
func (k CountKey) End() int64           { return k.end }

func labelString(l int64) string {
	if l == AnyLabel {
		return "()"
	}
	return "(:" + strconv.FormatInt(l, 10) + ")"
}

// String renders the key as a pattern, for example (:3)-[:7]->().
func (k CountKey) String() string {
	if !k.relationship {
		return "NodeCount" + labelString(k.start)
	}
	typ := "[]"
	if k.typ != AnyType {
		typ = fmt.Sprintf("[:%d]", k.typ)
	}
	return "RelCount" + labelString(k.start) + "-" + typ + "->" + labelString(k.end)
}

// compareKeys orders node keys before relationship keys, then by components.
func compareKeys(a, b CountKey) int {
	if a.relationship != b.relationship {
		if a.relationship {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.start, b.start); c != 0 {
		return c
	}
	if c := cmp.Compare(a.typ, b.typ); c != 0 {
		return c
	}
	return cmp.Compare(a.end, b.end)
}
