package counts

import (
	"fmt"

	"github.com/orneryd/nornicdb-consistency/pkg/storage"
)

// RelationshipCounter feeds one worker's relationships into a Tracker.
//
// A relationship may be visited once per node range that holds one of its
// ends. The counter remembers which sides of the relationship it saw last
// were counted, so a record is never counted twice for the same side.
type RelationshipCounter struct {
	tracker *Tracker

	startLabels []int64
	endLabels   []int64

	startCounted int64 // id of the relationship whose start side was counted
	endCounted   int64
}

func (c *RelationshipCounter) countType(rel storage.RelationshipRecord) {
	c.tracker.add(RelationshipKey(AnyLabel, rel.Type, AnyLabel), 1)
	if rel.Type != AnyType {
		c.tracker.add(RelationshipKey(AnyLabel, AnyType, AnyLabel), 1)
	}
}

func (c *RelationshipCounter) countNodes(rel storage.RelationshipRecord, includeStart, includeEnd bool) error {
	t := c.tracker
	if includeStart && c.startCounted != rel.ID {
		labels, err := t.labels.Labels(rel.StartNode, c.startLabels)
		if err != nil {
			return fmt.Errorf("labels of start node %d of relationship %d: %w", rel.StartNode, rel.ID, err)
		}
		c.startLabels = labels
		for _, l := range labels {
			t.add(RelationshipKey(l, rel.Type, AnyLabel), 1)
			if rel.Type != AnyType {
				t.add(RelationshipKey(l, AnyType, AnyLabel), 1)
			}
		}
		c.startCounted = rel.ID
	}
	if includeEnd && c.endCounted != rel.ID {
		labels, err := t.labels.Labels(rel.EndNode, c.endLabels)
		if err != nil {
			return fmt.Errorf("labels of end node %d of relationship %d: %w", rel.EndNode, rel.ID, err)
		}
		c.endLabels = labels
		for _, l := range labels {
			t.add(RelationshipKey(AnyLabel, rel.Type, l), 1)
			if rel.Type != AnyType {
				t.add(RelationshipKey(AnyLabel, AnyType, l), 1)
			}
		}
		c.endCounted = rel.ID
	}
	return nil
}
