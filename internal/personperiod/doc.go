// Package personperiod converts a person-level (wide) table into person-period
// (long) format and attaches a numeric time index to each occasion.
//
// Reshape emits rows subject-major, occasion-minor: all occasions of the first
// subject in the configured occasion order, then the second subject, and so on.
// Outcome values that are missing in the wide table stay missing; no row is ever
// dropped, so N subjects and K occasions always produce N*K rows.
//
// A person-period table is built once per run. Reshape accepts only wide input.
package personperiod
