package querystream

// Row is a type alias for map[string]any, one result row keyed by column name.
type Row = map[string]any

// Rows is an alias type for a slice of Row.
type Rows = []Row

// ResultSet is an iterable sequence of rows produced by one query execution.
//
// Iteration follows the database/sql convention: Next advances and reports
// whether a row is available, Row returns the current row, Err reports any
// error that ended iteration early, and Close releases the result.
type ResultSet interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// ResultSetOf creates an in-memory ResultSet over the given rows.
//
// The engines materialize each query execution once and hand every listener
// its own ResultSetOf view, so that one consumer draining its result cannot
// starve another.
func ResultSetOf(rows ...Row) ResultSet {
	return &sliceResultSet{rows: rows}
}

// CollectRows drains the given ResultSet into a Rows slice and closes it.
// It returns the iteration error, if any, otherwise the close error.
func CollectRows(results ResultSet) (Rows, error) {
	var rows Rows
	for results.Next() {
		rows = append(rows, results.Row())
	}

	if iterErr := results.Err(); iterErr != nil {
		_ = results.Close()
		return nil, iterErr
	}

	if closeErr := results.Close(); closeErr != nil {
		return nil, closeErr
	}

	return rows, nil
}

// sliceResultSet implements ResultSet over a fixed row slice.
type sliceResultSet struct {
	rows   Rows
	pos    int // 0 means before the first row
	closed bool
}

// Next advances to the next row.
func (rs *sliceResultSet) Next() bool {
	if rs.closed || rs.pos >= len(rs.rows) {
		return false
	}

	rs.pos++

	return true
}

// Row returns the current row, or nil outside iteration.
func (rs *sliceResultSet) Row() Row {
	if rs.pos == 0 || rs.pos > len(rs.rows) {
		return nil
	}

	return rs.rows[rs.pos-1]
}

// Err always returns nil, an in-memory result cannot fail during iteration.
func (rs *sliceResultSet) Err() error {
	return nil
}

// Close ends iteration.
func (rs *sliceResultSet) Close() error {
	rs.closed = true
	return nil
}
