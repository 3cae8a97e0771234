// Package querydoc compiles queries to MongoDB aggregation pipelines.
//
// Stage order (a stage is omitted when its query component is empty):
//
//	$match        where predicates over the source collection
//	$match        local join key not null      ┐
//	$lookup       equality lookup              │ per join
//	$unwind       one row per match, inner     │
//	$replaceRoot  merge match into the row     │
//	$project      drop the lookup field        ┘
//	$match        where predicates over joined attributes
//	$group        grouping keys and every aggregation
//	$project      re-key group attributes, drop _id
//	$match        having
//	$project      select fields, _id excluded
//	$sort         order keys
//
// NULL SEMANTICS:
//
// Filters follow SQL three-valued logic. A row passes a filter only when the
// predicate is true; NOT is pushed down to the comparisons, each of which has
// a "definitely false" form that excludes null and missing fields.
//
// UNSUPPORTED SHAPES:
//
// LIKE, joins on anything but a single equality of a local and a foreign
// attribute, and sorting on terms that are not selected fail at compile time
// with an UNSUPPORTED_OPERATION error.
package querydoc
