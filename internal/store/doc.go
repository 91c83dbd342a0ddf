// Package store provides SQLite-backed storage for index tables.
//
// Every index is a table named after it, with one column per header field
// named c0..cN, plus a row in the tuplex_indexes catalog holding the header
// (columns with their types and model references, ordering and groups) as
// JSON. The catalog is what lets a later process reopen the database and
// rebuild the exact IndexInfo the tables were created from.
//
// # Value Encoding
//
// Field values map onto SQLite storage classes so that SQL ordering agrees
// with the in-memory order wherever SQL is allowed to order:
//   - bool and all integer types: INTEGER (bool as 0/1)
//   - float32, float64: REAL
//   - time.Duration: INTEGER nanoseconds
//   - time.Time: INTEGER Unix nanoseconds, decoded in UTC
//   - string, uuid.UUID: TEXT
//   - []byte: BLOB
//   - decimal.Decimal: TEXT (canonical string; not ordered by SQL)
//
// Other field types have no encoding and are rejected when a table is
// created.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: temporary tables stay visible to every query
//
// Catalog listings are ordered by creation sequence, never by name alone.
package store
