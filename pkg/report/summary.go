// Package report collects the inconsistencies found by a check run.
package report

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/orneryd/nornicdb-consistency/pkg/counts"
	"github.com/orneryd/nornicdb-consistency/pkg/logging"
	"github.com/orneryd/nornicdb-consistency/pkg/storage"
)

// Kinds of inconsistency tallied by Summary.
const (
	KindNodeCount                  = "inconsistent_node_count"
	KindRelationshipCount          = "inconsistent_relationship_count"
	KindNumberOfNodeKeys           = "inconsistent_number_of_node_keys"
	KindNumberOfRelationshipKeys   = "inconsistent_number_of_relationship_keys"
	KindRelationshipSourceNotInUse = "relationship_source_not_in_use"
	KindRelationshipTargetNotInUse = "relationship_target_not_in_use"
	KindGroupOwnerNotInUse         = "relationship_group_owner_not_in_use"
)

// Summary tallies inconsistencies by kind and logs each one as a warning.
// Safe for concurrent use.
type Summary struct {
	runID  string
	logger logging.Logger

	total  atomic.Int64
	mu     sync.Mutex
	byKind map[string]int64
}

// NewSummary creates an empty summary for one check run.
func NewSummary(runID string, logger logging.Logger) *Summary {
	return &Summary{
		runID:  runID,
		logger: logging.OrNop(logger),
		byKind: make(map[string]int64),
	}
}

// RunID identifies the check run in logs.
func (s *Summary) RunID() string { return s.runID }

// Count is the number of inconsistencies reported so far.
func (s *Summary) Count() int64 { return s.total.Load() }

// Counts returns a copy of the per-kind tallies.
func (s *Summary) Counts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byKind)
}

func (s *Summary) add(kind string, fields map[string]any) {
	s.total.Add(1)
	s.mu.Lock()
	s.byKind[kind]++
	s.mu.Unlock()

	fields["kind"] = kind
	fields["run_id"] = s.runID
	s.logger.Log(logging.LevelWarn, "inconsistency", fields)
}

// ForCounts implements counts.Reporter.
func (s *Summary) ForCounts(key counts.CountKey) counts.CountsReport {
	return countsReport{s: s, key: key}
}

type countsReport struct {
	s   *Summary
	key counts.CountKey
}

func (r countsReport) report(kind string, expected, actual int64) {
	r.s.add(kind, map[string]any{"key": r.key.String(), "expected": expected, "actual": actual})
}

func (r countsReport) InconsistentNodeCount(expected, actual int64) {
	r.report(KindNodeCount, expected, actual)
}

func (r countsReport) InconsistentRelationshipCount(expected, actual int64) {
	r.report(KindRelationshipCount, expected, actual)
}

func (r countsReport) InconsistentNumberOfNodeKeys(expected, actual int64) {
	r.report(KindNumberOfNodeKeys, expected, actual)
}

func (r countsReport) InconsistentNumberOfRelationshipKeys(expected, actual int64) {
	r.report(KindNumberOfRelationshipKeys, expected, actual)
}

// RelationshipReport records problems of one relationship record.
type RelationshipReport struct {
	s   *Summary
	rel storage.RelationshipRecord
}

// ForRelationship returns the report for rel.
func (s *Summary) ForRelationship(rel storage.RelationshipRecord) RelationshipReport {
	return RelationshipReport{s: s, rel: rel}
}

func (r RelationshipReport) fields(node int64) map[string]any {
	return map[string]any{"relationship": r.rel.ID, "type": r.rel.Type, "node": node}
}

// SourceNodeNotInUse reports that the start node of the relationship is not in use.
func (r RelationshipReport) SourceNodeNotInUse() {
	r.s.add(KindRelationshipSourceNotInUse, r.fields(r.rel.StartNode))
}

// TargetNodeNotInUse reports that the end node of the relationship is not in use.
func (r RelationshipReport) TargetNodeNotInUse() {
	r.s.add(KindRelationshipTargetNotInUse, r.fields(r.rel.EndNode))
}

// GroupOwnerNotInUse reports a relationship group whose owning node is not in use.
func (s *Summary) GroupOwnerNotInUse(owningNode, typ int64) {
	s.add(KindGroupOwnerNotInUse, map[string]any{"node": owningNode, "type": typ})
}

// LogSummary logs the total and the per-kind tallies at INFO.
func (s *Summary) LogSummary() {
	byKind := s.Counts()
	fields := map[string]any{"run_id": s.runID, "inconsistencies": s.Count()}
	for kind, n := range byKind {
		fields[kind] = n
	}
	s.logger.Log(logging.LevelInfo, "consistency check summary", fields)
}
