// Package core provides the item import pipeline.
//
// This package holds all domain logic for bulk item imports, independent of
// any transport or database driver. The HTTP API, the itemctl CLI and the
// tests all drive it through [Service] or the plain pipeline functions.
//
// # Pipeline
//
//  1. [Validate] checks a whole [Sheet] against a [ColumnMap]. Any finding
//     rejects the sheet; nothing is partially staged.
//  2. [Load] writes the accepted rows to staging in sequential batches. A
//     failed batch is recorded as a [BatchError] and the next batch runs.
//  3. [Reconcile] compares staging with production by natural key and
//     returns a sorted list of NEW, MODIFIED and DELETED [DiffEntry] values.
//  4. [Apply] commits a chosen subset of diff IDs in one transaction.
//
// Persistence is behind the [Store] interface; internal/database implements
// it on Postgres.
//
// # Column Maps
//
// Sheets are positional. A [ColumnMap] maps column indices to fields and is
// registered at init time with [Register] or loaded from YAML with
// [LoadColumnMapFile]:
//
//	version: items-v1
//	natural_key: item
//	columns:
//	  - {index: 0, field: brand_name, header: Brand Name}
//	  - {index: 1, field: item, header: Item, required: true}
//
// [CheckHeader] compares a sheet's header row with the map before any row is
// read.
//
// # Sessions
//
// [Service] tracks import sessions through the phases idle, validating,
// rejected, staged, reconciling, reviewing, applying, applied and
// rolled_back. Staging runs in the background and reports [Progress] to
// subscribers. Writes to staging and production are serialized by a
// [WriterGate].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB009: Postgres errors (duplicates, formats, connections)
//   - VAL001-VAL003: header, validation and column map problems
//   - FILE001-FILE005: file errors (size, encoding, format)
//   - STG001-STG008: staging and session errors
//   - APL001-APL005: apply errors
package core
