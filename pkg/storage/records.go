package storage

import "fmt"

// NullReference marks an absent record pointer.
const NullReference int64 = -1

// MaxInlineLabels is the number of label ids a node record holds inline.
const MaxInlineLabels = 8

// EntityType scopes schema objects such as indexes.
type EntityType uint8

const (
	EntityNode EntityType = iota
	EntityRelationship
)

func (e EntityType) String() string {
	switch e {
	case EntityNode:
		return "node"
	case EntityRelationship:
		return "relationship"
	default:
		return fmt.Sprintf("entity(%d)", uint8(e))
	}
}

// EntityTypes lists every entity type in a stable order.
var EntityTypes = []EntityType{EntityNode, EntityRelationship}

// NodeRecord is a fixed-width node record.
//
// Layout (nodeRecordSize bytes):
//
//	offset  width  field
//	0       1      in use (0/1)
//	1       1      label count (<= MaxInlineLabels)
//	2       6*8    label ids, 48-bit each
type NodeRecord struct {
	ID     int64
	InUse  bool
	Labels []int64
}

// RelationshipRecord is a fixed-width relationship record.
//
// Layout (relationshipRecordSize bytes):
//
//	offset  width  field
//	0       1      in use (0/1)
//	1       6      start node
//	7       6      end node
//	13      3      type
type RelationshipRecord struct {
	ID        int64
	InUse     bool
	StartNode int64
	EndNode   int64
	Type      int64
}

// RelationshipGroupRecord anchors the chains of one node's relationships of one type.
//
// Layout (groupRecordSize bytes):
//
//	offset  width  field
//	0       1      in use (0/1)
//	1       6      owning node
//	7       3      type
//	10      6      first outgoing
//	16      6      first incoming
//	22      6      first loop
//	28      6      next group
type RelationshipGroupRecord struct {
	ID         int64
	InUse      bool
	OwningNode int64
	Type       int64
	FirstOut   int64
	FirstIn    int64
	FirstLoop  int64
	Next       int64
}

const (
	nodeRecordSize         = 2 + 6*MaxInlineLabels
	relationshipRecordSize = 16
	groupRecordSize        = 34
)

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// NodeCodec encodes NodeRecord.
var NodeCodec = Codec[NodeRecord]{
	Size: nodeRecordSize,
	ID:   func(r NodeRecord) int64 { return r.ID },
	Encode: func(r NodeRecord, b []byte) error {
		if len(r.Labels) > MaxInlineLabels {
			return fmt.Errorf("%w: node %d has %d labels", ErrTooManyLabels, r.ID, len(r.Labels))
		}
		clear(b)
		b[0] = boolByte(r.InUse)
		b[1] = byte(len(r.Labels))
		for i, l := range r.Labels {
			if err := CheckInt48("label", l); err != nil {
				return err
			}
			PutInt48(b[2+6*i:], l)
		}
		return nil
	},
	Decode: func(id int64, b []byte) (NodeRecord, error) {
		r := NodeRecord{ID: id, InUse: b[0] == 1}
		n := int(b[1])
		if n > MaxInlineLabels {
			return r, fmt.Errorf("%w: node %d label count %d", ErrCorruptPage, id, n)
		}
		if n > 0 {
			r.Labels = make([]int64, n)
			for i := range r.Labels {
				r.Labels[i] = Int48(b[2+6*i:])
			}
		}
		return r, nil
	},
}

// RelationshipCodec encodes RelationshipRecord.
var RelationshipCodec = Codec[RelationshipRecord]{
	Size: relationshipRecordSize,
	ID:   func(r RelationshipRecord) int64 { return r.ID },
	Encode: func(r RelationshipRecord, b []byte) error {
		if err := CheckInt48("start", r.StartNode); err != nil {
			return err
		}
		if err := CheckInt48("end", r.EndNode); err != nil {
			return err
		}
		if err := CheckUint24("type", r.Type); err != nil {
			return err
		}
		b[0] = boolByte(r.InUse)
		PutInt48(b[1:], r.StartNode)
		PutInt48(b[7:], r.EndNode)
		PutUint24(b[13:], uint32(r.Type))
		return nil
	},
	Decode: func(id int64, b []byte) (RelationshipRecord, error) {
		return RelationshipRecord{
			ID:        id,
			InUse:     b[0] == 1,
			StartNode: Int48(b[1:]),
			EndNode:   Int48(b[7:]),
			Type:      int64(Uint24(b[13:])),
		}, nil
	},
}

// GroupCodec encodes RelationshipGroupRecord.
var GroupCodec = Codec[RelationshipGroupRecord]{
	Size: groupRecordSize,
	ID:   func(r RelationshipGroupRecord) int64 { return r.ID },
	Encode: func(r RelationshipGroupRecord, b []byte) error {
		for _, f := range []struct {
			name string
			v    int64
		}{{"owner", r.OwningNode}, {"out", r.FirstOut}, {"in", r.FirstIn}, {"loop", r.FirstLoop}, {"next", r.Next}} {
			if err := CheckInt48(f.name, f.v); err != nil {
				return err
			}
		}
		if err := CheckUint24("type", r.Type); err != nil {
			return err
		}
		b[0] = boolByte(r.InUse)
		PutInt48(b[1:], r.OwningNode)
		PutUint24(b[7:], uint32(r.Type))
		PutInt48(b[10:], r.FirstOut)
		PutInt48(b[16:], r.FirstIn)
		PutInt48(b[22:], r.FirstLoop)
		PutInt48(b[28:], r.Next)
		return nil
	},
	Decode: func(id int64, b []byte) (RelationshipGroupRecord, error) {
		return RelationshipGroupRecord{
			ID:         id,
			InUse:      b[0] == 1,
			OwningNode: Int48(b[1:]),
			Type:       int64(Uint24(b[7:])),
			FirstOut:   Int48(b[10:]),
			FirstIn:    Int48(b[16:]),
			FirstLoop:  Int48(b[22:]),
			Next:       Int48(b[28:]),
		}, nil
	},
}

// Codec describes how a record type maps onto a fixed-width slot.
type Codec[T any] struct {
	Size   int
	ID     func(T) int64
	Encode func(rec T, b []byte) error
	Decode func(id int64, b []byte) (T, error)
}
