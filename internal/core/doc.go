// Package core is the CT-e bulk ingest and reconciliation engine.
//
// It turns an uploaded CSV or XLSX file into writes against a store.Store
// and a per-row Report. It does not depend on any transport, so the HTTP
// server, the cteimport CLI and the tests all drive it the same way.
//
// # Pipeline
//
// A batch runs through these stages, each a plain function or type:
//
//   - [ReadTable]: size-capped read, encoding detection, CSV or XLSX parsing
//   - [NormalizeHeaders]: folds labels and binds them to canonical fields;
//     unknown labels get a [Suggestion]
//   - [CoerceRow]: locale-aware money, date, key and text coercion
//   - [RowValidator]: required fields, text bounds, money precision and the
//     milestone chain
//   - [Reconciler]: insert, merge, skip or reject per [Mode], inside one
//     transaction (or per-row savepoints with row isolation)
//   - [Report]: counters, row outcomes, suggestions and a trace
//
// [Service.Ingest] wires the stages together, enforces the batch limit and
// timeout, and records metrics.
//
// # Error Handling
//
// Row problems are [Diagnostic] values in the report. Batch-fatal problems
// end the batch with status FAILED and a single [Kind]. [MapError] turns
// either into a coded [UserMessage] for display:
//
//   - ING001-ING008: file and request errors
//   - ROW001-ROW009: row diagnostics
//   - STO001-STO004: store errors
package core
