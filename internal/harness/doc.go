// Package harness runs relq conformance scenarios against a repository.
//
// A scenario loads a CUE catalog, stores a set of entities and executes
// named catalog queries, checking each result.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: foo_bar
//	description: "What this scenario validates"
//	catalog: ../catalog
//	entities:
//	  - type: foo
//	    id: foo_1
//	    values: { foo_str: A, foo_int: 42 }
//	queries:
//	  - query: cheap_foo
//	    expect:
//	      rows:
//	        - [A, 42]
//	  - query: a_names
//	    expect:
//	      rows: [[foo_1]]
//	    backends:
//	      mongo:
//	        error: UNSUPPORTED_OPERATION
//
// The catalog path is resolved relative to the scenario file.
//
// # Expectations
//
// An expectation names exactly one of:
//
//   - rows: the result rows. Queries with an order_by are compared in
//     order, others as a multiset.
//   - count: the number of result rows
//   - error: the queryir error code the query fails with
//
// The backends map replaces the expectation for the named backend, for
// shapes a backend rejects or evaluates differently.
//
// # Golden Files
//
// RunWithGolden renders every query outcome and compares it with
// testdata/golden/<scenario>.golden. Unordered results are sorted before
// rendering so the snapshot does not depend on backend row order.
//
// # Usage
//
//	s, err := harness.LoadScenario("testdata/scenarios/foo_bar.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.New(memrepo.New(), memrepo.Backend).Run(ctx, s)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
