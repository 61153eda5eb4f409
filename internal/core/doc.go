// Package core provides the candidate ingestion pipeline.
//
// This package holds all domain logic independent of any transport or store
// implementation. The web layer, the CLI entry point and tests drive it through
// [Service].
//
// # Architecture
//
//   - Chunk reassembly: [Reassembler] appends sequential chunks to a local file
//     and stores the finished file through a [blob.Store].
//   - Header discovery: [LocateHeader] scans the first lines of a ranged read
//     for the line mentioning the mapped headers.
//   - Transformation: [Transform] maps a raw row onto a [Candidate], runs the
//     ordered cross-field [Rule] list and the field cleaners, then accepts or
//     rejects the row.
//   - Persistence: [Backpressure] hands full batches to a [BatchWriter], which
//     retries transient failures and accounts for partial writes.
//   - Job state: [Tracker] is the single writer of a job's counters while a
//     [Pipeline] runs on the [Runner]'s bounded queue.
//
// # Streaming
//
// Memory use is O(batch size) regardless of file size:
//
//  1. The stored object is streamed through BOM skipping and UTF-8 sanitizing
//  2. Rows are parsed lazily with [ReadRows]
//  3. Accepted records are pushed into the backpressure buffer
//  4. The producer blocks while a full batch is being written
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code prefix for support reference:
//
//   - JOB001-JOB005: Job lifecycle (not found, active, queue full)
//   - HDR001: Header discovery timeout
//   - DB001-DB008: Document store errors
//   - FILE001-FILE005: File errors
//   - UPL001-UPL005: Chunk upload errors
package core
