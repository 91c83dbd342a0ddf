// Package harness runs plan documents as conformance scenarios.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: big-spenders
//	description: "Order totals per customer, largest first"
//	plan: ../plans/shop.yaml
//	backends: [memory, sqlite]
//	steps:
//	  - params: {city: Oslo, limit: "2"}
//	    expect:
//	      rows: ["ann,1000", "cid,1000"]
//	      ordered: true
//	  - params: {city: Paris, limit: "2"}
//	    expect: {empty: true}
//	assertions:
//	  - type: backends_agree
//	  - {type: row_count, step: 0, count: 2}
//
// The plan path is relative to the scenario file. Each step executes the
// plan once per backend with its params; expect checks the rows, in order
// or as a multiset, or an expected error.
//
// # Assertion Types
//
//   - row_count: a step produced exactly count rows
//   - contains_row: a step produced row
//   - row_order: a step produced rows in the given order, not necessarily
//     adjacent
//   - backends_agree: every backend produced the same rows for every step
//
// # Traces
//
// A run records a trace of open, row, done and error events numbered from
// 1, so repeated runs of a scenario produce identical traces. RunWithGolden
// compares the trace with a goldie golden file.
package harness
