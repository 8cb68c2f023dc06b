package querystream

import (
	"slices"
)

type DefinitionTableString = string
type DefinitionColumnString = string
type DefinitionValString = string

// SortDirection defines the ordering direction of one ordering term.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

// String provides a string representation of SortDirection for logging and debugging.
func (d SortDirection) String() string {
	switch d {
	case Ascending:
		return "asc"
	case Descending:
		return "desc"
	default:
		return "unknown"
	}
}

/***** Definition *****/

// Definition describes one live query: the table to watch, the projected
// columns, row predicates, ordering, and an optional row limit. Engines
// compile it to their own query language; the change streams never inspect it.
type Definition struct {
	table                  DefinitionTableString
	columns                []DefinitionColumnString
	predicates             []DefinitionPredicate
	allPredicatesMustMatch bool
	orderings              []Ordering
	limit                  uint
}

func (d Definition) Table() DefinitionTableString {
	return d.table
}

// Columns returns the projected columns; empty means all columns.
func (d Definition) Columns() []DefinitionColumnString {
	return d.columns
}

func (d Definition) Predicates() []DefinitionPredicate {
	return d.predicates
}

func (d Definition) AllPredicatesMustMatch() bool {
	return d.allPredicatesMustMatch
}

func (d Definition) Orderings() []Ordering {
	return d.orderings
}

// Limit returns the maximum row count; zero means unlimited.
func (d Definition) Limit() uint {
	return d.limit
}

/***** DefinitionPredicate *****/

type DefinitionPredicate struct {
	column DefinitionColumnString
	val    DefinitionValString
}

func P(column DefinitionColumnString, val DefinitionValString) DefinitionPredicate {
	return DefinitionPredicate{column: column, val: val}
}

func (dp DefinitionPredicate) Column() DefinitionColumnString {
	return dp.column
}

func (dp DefinitionPredicate) Val() DefinitionValString {
	return dp.val
}

/***** Ordering *****/

type Ordering struct {
	column    DefinitionColumnString
	direction SortDirection
}

func (o Ordering) Column() DefinitionColumnString {
	return o.column
}

func (o Ordering) Direction() SortDirection {
	return o.direction
}

/***** DefinitionBuilder *****/

// DefinitionBuilder builds a generic query definition to be used in DB type-specific engine implementations
// to build queries for the specific query language, e.g.: Postgres, SQLite, ...
// It is designed with the idea to only allow "useful" combinations for live queries:
//
//   - (table)
//   - (table, columns...)
//   - (table AND predicate)
//   - (table AND (predicate OR predicate...))
//   - (table AND (predicate AND predicate...))
//   - any of the above with ordering terms and a row limit
type DefinitionBuilder interface {
	// From sets the table the live query watches.
	From(table DefinitionTableString) SelectionBuilder
}

type SelectionBuilder interface {
	// SelectingAll projects all columns.
	SelectingAll() ConstraintBuilder

	// Selecting projects the given columns.
	//
	// It sanitizes the input:
	//	- removing empty columns ("")
	//	- sorting the columns
	//	- removing duplicate columns
	Selecting(column DefinitionColumnString, columns ...DefinitionColumnString) ConstraintBuilder
}

type ConstraintBuilder interface {
	// WhereAnyOf adds one or multiple DefinitionPredicate(s) expecting ANY predicate to match.
	//
	// It sanitizes the input:
	//	- removing empty/partial DefinitionPredicate(s) (column or val is "")
	//	- sorting the DefinitionPredicate(s)
	//	- removing duplicate DefinitionPredicate(s)
	WhereAnyOf(predicate DefinitionPredicate, predicates ...DefinitionPredicate) CompletedDefinitionBuilder

	// WhereAllOf adds one or multiple DefinitionPredicate(s) expecting ALL predicates to match.
	//
	// It sanitizes the input:
	//	- removing empty/partial DefinitionPredicate(s) (column or val is "")
	//	- sorting the DefinitionPredicate(s)
	//	- removing duplicate DefinitionPredicate(s)
	WhereAllOf(predicate DefinitionPredicate, predicates ...DefinitionPredicate) CompletedDefinitionBuilder

	// OrderedBy adds an ordering term. Terms with an empty column are ignored.
	OrderedBy(column DefinitionColumnString, direction SortDirection) CompletedDefinitionBuilder

	// LimitedTo caps the row count; zero means unlimited.
	LimitedTo(limit uint) CompletedDefinitionBuilder

	// Finalize returns the Definition.
	Finalize() Definition
}

type CompletedDefinitionBuilder interface {
	// OrderedBy adds an ordering term. Terms with an empty column are ignored.
	OrderedBy(column DefinitionColumnString, direction SortDirection) CompletedDefinitionBuilder

	// LimitedTo caps the row count; zero means unlimited.
	LimitedTo(limit uint) CompletedDefinitionBuilder

	// Finalize returns the Definition.
	Finalize() Definition
}

// definitionBuilder implements all the interfaces of DefinitionBuilder
type definitionBuilder struct {
	definition Definition
}

// BuildQueryDefinition creates a DefinitionBuilder which must eventually be finalized with Finalize().
func BuildQueryDefinition() DefinitionBuilder {
	return definitionBuilder{}
}

// From sets the table the live query watches.
func (db definitionBuilder) From(table DefinitionTableString) SelectionBuilder {
	db.definition.table = table

	return db
}

// SelectingAll projects all columns.
func (db definitionBuilder) SelectingAll() ConstraintBuilder {
	db.definition.columns = nil

	return db
}

// Selecting projects the given columns.
//
// It sanitizes the input:
//   - removing empty columns ("")
//   - sorting the columns
//   - removing duplicate columns
func (db definitionBuilder) Selecting(
	column DefinitionColumnString,
	columns ...DefinitionColumnString,
) ConstraintBuilder {

	db.definition.columns = append(
		db.definition.columns,
		db.sanitizeColumns(column, columns...)...,
	)

	return db
}

func (db definitionBuilder) sanitizeColumns(
	column DefinitionColumnString,
	columns ...DefinitionColumnString,
) []DefinitionColumnString {

	allColumns := append([]DefinitionColumnString{column}, columns...)
	allColumns = slices.DeleteFunc(
		allColumns,
		func(c DefinitionColumnString) bool {
			return c == ""
		})
	slices.Sort(allColumns)
	allColumns = slices.Compact(allColumns)
	allColumns = slices.Clip(allColumns)

	return allColumns
}

// WhereAnyOf adds one or multiple DefinitionPredicate(s) expecting ANY predicate to match.
//
// It sanitizes the input:
//   - removing empty/partial DefinitionPredicate(s) (column or val is "")
//   - sorting the DefinitionPredicate(s)
//   - removing duplicate DefinitionPredicate(s)
func (db definitionBuilder) WhereAnyOf(
	predicate DefinitionPredicate,
	predicates ...DefinitionPredicate,
) CompletedDefinitionBuilder {

	db.definition.predicates = append(
		db.definition.predicates,
		db.sanitizePredicates(predicate, predicates...)...,
	)

	return db
}

// WhereAllOf adds one or multiple DefinitionPredicate(s) expecting ALL predicates to match.
//
// It sanitizes the input:
//   - removing empty/partial DefinitionPredicate(s) (column or val is "")
//   - sorting the DefinitionPredicate(s)
//   - removing duplicate DefinitionPredicate(s)
func (db definitionBuilder) WhereAllOf(
	predicate DefinitionPredicate,
	predicates ...DefinitionPredicate,
) CompletedDefinitionBuilder {

	db.definition.allPredicatesMustMatch = true

	db.definition.predicates = append(
		db.definition.predicates,
		db.sanitizePredicates(predicate, predicates...)...,
	)

	return db
}

func (db definitionBuilder) sanitizePredicates(
	predicate DefinitionPredicate,
	predicates ...DefinitionPredicate,
) []DefinitionPredicate {

	allPredicates := append([]DefinitionPredicate{predicate}, predicates...)
	allPredicates = slices.DeleteFunc(
		allPredicates,
		func(p DefinitionPredicate) bool { return len(p.column) == 0 || len(p.val) == 0 })
	slices.SortFunc(
		allPredicates,
		func(a, b DefinitionPredicate) int {
			if a.column > b.column {
				return 1
			}

			if a.column < b.column {
				return -1
			}

			return 0
		})

	allPredicates = slices.Compact(allPredicates)
	allPredicates = slices.Clip(allPredicates)

	return allPredicates
}

// OrderedBy adds an ordering term. Terms with an empty column are ignored.
func (db definitionBuilder) OrderedBy(
	column DefinitionColumnString,
	direction SortDirection,
) CompletedDefinitionBuilder {

	if column == "" {
		return db
	}

	db.definition.orderings = append(db.definition.orderings, Ordering{column: column, direction: direction})

	return db
}

// LimitedTo caps the row count; zero means unlimited.
func (db definitionBuilder) LimitedTo(limit uint) CompletedDefinitionBuilder {
	db.definition.limit = limit

	return db
}

// Finalize returns the Definition.
func (db definitionBuilder) Finalize() Definition {
	return db.definition
}
