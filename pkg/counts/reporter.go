package counts

// Reporter receives count discrepancies. It is never called for a match.
type Reporter interface {
	ForCounts(key CountKey) CountsReport
}

// CountsReport records discrepancies found for one count key.
type CountsReport interface {
	InconsistentNodeCount(expected, actual int64)
	InconsistentRelationshipCount(expected, actual int64)
	InconsistentNumberOfNodeKeys(expected, actual int64)
	InconsistentNumberOfRelationshipKeys(expected, actual int64)
}
