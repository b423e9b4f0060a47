// Package keeper implements the block-driven governance loop: once per new
// block it reconciles the cached hat record against the chain, schedules the
// hat's spell exactly once, and casts it exactly once when its eta is due.
// Idempotency comes from re-checking chain state before every write rather
// than from locking; the loop processes one block at a time so the two
// monitors never overlap. A configurable error budget turns repeated failures
// into a deliberate shutdown that requires operator intervention.
package keeper
