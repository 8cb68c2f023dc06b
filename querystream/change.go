package querystream

// QueryChange is a DTO (data transfer object) carrying one change
// notification from a Query collaborator to its listeners.
//
// Exactly one of Results and Err is expected to be set: Results on a
// successful execution, Err when the execution failed. A change carrying
// neither is skipped by default and terminates the stream under
// WithStrictResults.
//
// While its properties are exported, it should only be constructed with the
// supplied factory methods:
//   - BuildQueryChange
//   - BuildQueryChangeWithError
type QueryChange struct {
	Results ResultSet
	Err     error
}

// BuildQueryChange is a factory method for a successful QueryChange.
func BuildQueryChange(results ResultSet) QueryChange {
	return QueryChange{Results: results}
}

// BuildQueryChangeWithError is a factory method for a failed QueryChange.
func BuildQueryChangeWithError(err error) QueryChange {
	return QueryChange{Err: err}
}
