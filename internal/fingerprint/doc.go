// Package fingerprint provides the immutable value types that identify file-system
// entries for change detection and cache keys.
//
// # Identity
//
// A Value identifies one entry by its normalized path, its kind and a content
// digest. Absolute locations are carried alongside (see Located) for reporting
// only; they never participate in equality or ordering.
//
// # Ordering
//
// Values have a total order: normalized path first, then digest bytes. The order is
// used both for reproducible change reporting and for folding an unordered
// collection of values into a single combined digest, so that set-equal inputs
// always hash identically.
//
// # Snapshots
//
// A Snapshot maps location identifiers to Values for one file set at one point in
// time. Several locations may share a normalized path (duplicate basenames from
// different roots); a Snapshot preserves that, along with insertion order.
package fingerprint
