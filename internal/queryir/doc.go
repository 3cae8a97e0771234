// Package queryir provides the query algebra shared by every relq backend.
//
// A Query is an immutable tree of select terms, predicates, joins, grouping
// and ordering over entity types. Backends (SQL, aggregation pipeline,
// in-memory) lower the same tree to their native request form:
//
//	[query builder] → [Query] → [SQL compiler]      → relational engine
//	                          → [pipeline compiler] → document engine
//	                          → [memrepo]           → in-process evaluation
//
// SEALED INTERFACES:
//
// Term, SelectTerm and Predicate are sealed interfaces using the marker
// method pattern. Only types in this package implement them.
//
// EXHAUSTIVE MATCHING:
//
// Backends do not type-switch over the algebra. Each sealed hierarchy and
// each enum has a visitor interface:
//
//	TermVisitor[R]       VisitAttrRef, VisitLiteral, VisitNull
//	SelectTermVisitor[R] VisitProjection, VisitAggregation
//	PredicateVisitor[R]  VisitComparison, VisitAnd, VisitOr, VisitNot
//	OpVisitor[R]         VisitEQ, VisitLT, VisitGT, VisitLike
//	AggregateVisitor[R]  VisitMax, VisitMin, VisitSum, VisitAvg, VisitCount
//
// Outside this package the Visit* dispatch functions are the only type
// switches over the algebra.
// Adding a variant means adding a visitor method, which breaks the build of
// every backend that does not handle it yet.
//
// VALIDATION:
//
// Validate checks the invariants every backend relies on: attribute
// resolution against the source and joined entity types, literal kinds,
// grouping rules. Validation failures are *Error values with CodeValidation.
// Backend-specific shape restrictions (for example LIKE on the pipeline
// backend) are reported by the backend compiler with CodeUnsupported.
package queryir
